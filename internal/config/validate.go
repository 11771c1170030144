package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or three-letter English weekday names,
// case-insensitive.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return d, nil
}

// ParseWeekdays resolves a list of weekday names into a set.
func ParseWeekdays(names []string) (map[time.Weekday]bool, error) {
	out := make(map[time.Weekday]bool, len(names))
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return nil, err
		}
		out[d] = true
	}
	return out, nil
}

// Validate rejects configs that would fail later at wiring time:
// malformed durations, weekday names, cron specs, and missing
// required paths. It does not touch the filesystem.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.BackupDepth < 0 {
		return fmt.Errorf("store.backup_depth must be >= 0")
	}

	durations := []struct{ path, raw string }{
		{"scheduler.tick", c.Scheduler.Tick},
		{"scheduler.catch_up_skew", c.Scheduler.CatchUpSkew},
		{"engine.lease_ttl", c.Engine.LeaseTTL},
		{"engine.launch_delay", c.Engine.LaunchDelay},
		{"runner.timeout", c.Runner.Timeout},
		{"runner.retry.backoff", c.Runner.Retry.Backoff},
		{"runner.retry.probe_timeout", c.Runner.Retry.ProbeTimeout},
	}
	if c.Notifier != nil {
		durations = append(durations, struct{ path, raw string }{"notifier.retry_base", c.Notifier.RetryBase})
	}
	if c.History != nil {
		durations = append(durations,
			struct{ path, raw string }{"history.busy_timeout", c.History.BusyTimeout},
			struct{ path, raw string }{"history.keep_for", c.History.KeepFor},
		)
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if _, err := ParseWeekdays(c.Scheduler.BlackoutDays); err != nil {
		return fmt.Errorf("scheduler.blackout_days: %w", err)
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	if c.Notifier != nil && c.Notifier.Enabled {
		if strings.TrimSpace(c.Notifier.Token) == "" {
			return fmt.Errorf("notifier.token is required when notifier is enabled")
		}
		if c.Notifier.ChatID == 0 {
			return fmt.Errorf("notifier.chat_id is required when notifier is enabled")
		}
	}

	if c.Maintain != nil {
		for _, spec := range []struct{ path, raw string }{
			{"maintenance.history_prune_spec", c.Maintain.HistoryPruneSpec},
			{"maintenance.lease_sweep_spec", c.Maintain.LeaseSweepSpec},
		} {
			if strings.TrimSpace(spec.raw) == "" {
				continue
			}
			if _, err := cron.ParseStandard(spec.raw); err != nil {
				return fmt.Errorf("%s: %w", spec.path, err)
			}
		}
	}

	return nil
}
