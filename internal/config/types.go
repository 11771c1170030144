package config

// Config is the full on-disk configuration. JSON and YAML are both
// accepted; YAML is coerced to JSON before the strict decode so unknown
// keys are rejected in either format.
//
// All durations are Go duration strings (e.g. "500ms", "20s", "5m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Secret    SecretConfig    `json:"secret,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Runner    RunnerConfig    `json:"runner"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	History   *HistoryConfig  `json:"history,omitempty"`
	Maintain  *MaintainConfig `json:"maintenance,omitempty"`
	Pprof     *PprofConfig    `json:"pprof,omitempty"`
}

// PprofConfig controls the optional profiling endpoint. Prefer binding
// to localhost; a non-loopback addr requires a token.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig locates the account table on disk.
type StoreConfig struct {
	Path        string `json:"path"`
	BackupDepth int    `json:"backup_depth,omitempty"`
}

// SecretConfig controls credential encryption at rest. If KeyPath is
// empty a key is created next to the store file.
type SecretConfig struct {
	KeyPath string `json:"key_path,omitempty"`
}

// SchedulerConfig controls the periodic due-check loop.
//
// Defaults (when fields are omitted/zero):
//   - tick: "20s"
//   - catch_up_skew: "10s"
//   - blackout_days: ["sunday"]
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Tick is the poll interval of the due-check loop.
	Tick string `json:"tick,omitempty"`

	// CatchUpSkew treats a run recorded slightly before the slot as
	// covering it, absorbing tick jitter across restarts.
	CatchUpSkew string `json:"catch_up_skew,omitempty"`

	// BlackoutDays lists weekday names on which no scheduled runs fire.
	// Manual triggers ignore the blackout.
	BlackoutDays []string `json:"blackout_days,omitempty"`

	// Timezone for schedule slots, default local time.
	Timezone string `json:"timezone,omitempty"`
}

// EngineConfig controls the worker pool that executes queued jobs.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - lease_ttl: "5m"
//   - launch_delay: "0s" (disabled)
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// LeaseTTL bounds how long a run may hold an account before the
	// lease self-expires.
	LeaseTTL string `json:"lease_ttl,omitempty"`

	// LaunchDelay paces job starts across workers so a burst of due
	// accounts does not launch every browser at once. "0s" disables.
	LaunchDelay string `json:"launch_delay,omitempty"`
}

// RunnerConfig describes the external automation process.
type RunnerConfig struct {
	Binary    string   `json:"binary"`
	ExtraArgs []string `json:"extra_args,omitempty"`

	// Timeout bounds one attempt of one run.
	Timeout string `json:"timeout,omitempty"`

	Headless bool   `json:"headless,omitempty"`
	Viewport string `json:"viewport,omitempty"`

	// LogDir receives one log file per job.
	LogDir string `json:"log_dir,omitempty"`

	Retry RunnerRetryConfig `json:"retry,omitempty"`
}

// RunnerRetryConfig controls re-attempts of a failed run.
type RunnerRetryConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Backoff     string `json:"backoff,omitempty"`

	// ProbeAddr is dialed before each retry; an unreachable address
	// abandons the job instead of burning attempts offline.
	ProbeAddr    string `json:"probe_addr,omitempty"`
	ProbeTimeout string `json:"probe_timeout,omitempty"`
}

// NotifierConfig controls Telegram run reports. Nil section means
// disabled.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}

// HistoryConfig controls run-outcome persistence. Nil section means
// disabled.
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only

	// KeepFor bounds record age; older records are pruned by the
	// maintenance sweep. "0s" keeps everything.
	KeepFor string `json:"keep_for,omitempty"`
}

// MaintainConfig schedules background housekeeping with cron specs
// (standard 5-field format).
type MaintainConfig struct {
	// HistoryPruneSpec prunes old history records. Empty disables.
	HistoryPruneSpec string `json:"history_prune_spec,omitempty"`

	// LeaseSweepSpec releases expired leases left by crashed runs.
	// Empty disables.
	LeaseSweepSpec string `json:"lease_sweep_spec,omitempty"`
}
