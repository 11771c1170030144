// Package app wires the services together: config, secret, store,
// queue, scheduler, engine, notifier, history, and the maintenance
// cron. It owns startup order, config hot-reload, and shutdown.
package app

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"runbot/internal/config"
	"runbot/internal/engine"
	"runbot/internal/eventbus"
	"runbot/internal/history"
	"runbot/internal/notify"
	"runbot/internal/observability/pprof"
	"runbot/internal/queue"
	"runbot/internal/runner"
	"runbot/internal/runtime/supervisor"
	"runbot/internal/scheduler"
	"runbot/internal/secret"
	"runbot/internal/store"
	logx "runbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	cipher *secret.Cipher
	store  *store.Store
	queue  *queue.Queue
	hist   history.Store
	sink   notify.Sink
	bus    eventbus.Bus

	engine *engine.Service
	sched  *scheduler.Service
	pprof  *pprof.Service
	cron   *cron.Cron

	run runSettings
	sup *supervisor.Supervisor
}

// runSettings are the per-job parameters resolved once at startup.
type runSettings struct {
	headless  bool
	viewport  string
	timeout   time.Duration
	logDir    string
	schedOn   bool
	skew      time.Duration
	keepFor   time.Duration
	pruneSpec string
	sweepSpec string
	leaseTTL  time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgPath: cfgPath, cfgm: cfgm, log: log, logs: logs}
	if err := a.build(cfg); err != nil {
		logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	keyPath := strings.TrimSpace(cfg.Secret.KeyPath)
	if keyPath == "" {
		keyPath = filepath.Join(filepath.Dir(cfg.Store.Path), "secret.key")
	}
	cipher, err := secret.LoadOrCreate(keyPath)
	if err != nil {
		return err
	}
	a.cipher = cipher

	st, err := store.Open(store.Config{
		Path:        cfg.Store.Path,
		BackupDepth: cfg.Store.BackupDepth,
	}, cipher, a.log.With(logx.String("comp", "store")))
	if err != nil {
		return err
	}
	a.store = st
	a.queue = queue.New(cfg.Engine.QueueSize)
	a.bus = eventbus.New()

	if cfg.History != nil {
		busy, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
		if err != nil {
			return err
		}
		hist, err := history.Open(history.Config{
			Driver:      cfg.History.Driver,
			Path:        cfg.History.Path,
			BusyTimeout: busy,
		}, a.log.With(logx.String("comp", "history")))
		if err != nil {
			return err
		}
		a.hist = hist
		if a.run.keepFor, err = config.ParseDurationField("history.keep_for", cfg.History.KeepFor); err != nil {
			return err
		}
	}

	a.sink = notify.Noop{}
	if n := cfg.Notifier; n != nil && n.Enabled {
		retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
		if err != nil {
			return err
		}
		tg, err := notify.NewTelegram(notify.Config{
			Enabled:    true,
			Token:      n.Token,
			ChatID:     n.ChatID,
			Workers:    n.Workers,
			QueueSize:  n.QueueSize,
			RatePerSec: n.RatePerSec,
			RetryMax:   n.RetryMax,
			RetryBase:  retryBase,
		}, a.log.With(logx.String("comp", "notify")))
		if err != nil {
			return err
		}
		a.sink = tg
	}

	adapter, err := a.buildAdapter(cfg)
	if err != nil {
		return err
	}

	leaseTTL, err := config.ParseDurationOrDefault("engine.lease_ttl", cfg.Engine.LeaseTTL, 5*time.Minute)
	if err != nil {
		return err
	}
	launchDelay, err := config.ParseDurationField("engine.launch_delay", cfg.Engine.LaunchDelay)
	if err != nil {
		return err
	}
	a.run.leaseTTL = leaseTTL
	a.engine = engine.New(engine.Config{
		Workers:     cfg.Engine.Workers,
		LeaseTTL:    leaseTTL,
		LaunchDelay: launchDelay,
	}, a.store, a.queue, adapter, a.cipher, a.sink, a.hist, a.bus,
		a.log.With(logx.String("comp", "engine")))

	tick, err := config.ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, 20*time.Second)
	if err != nil {
		return err
	}
	skew, err := config.ParseDurationOrDefault("scheduler.catch_up_skew", cfg.Scheduler.CatchUpSkew, 10*time.Second)
	if err != nil {
		return err
	}
	blackout, err := config.ParseWeekdays(cfg.Scheduler.BlackoutDays)
	if err != nil {
		return err
	}
	if len(cfg.Scheduler.BlackoutDays) == 0 {
		blackout = map[time.Weekday]bool{time.Sunday: true}
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return err
		}
	}
	a.run.schedOn = cfg.Scheduler.Enabled
	a.run.skew = skew
	a.sched = scheduler.New(scheduler.Config{
		Tick:        tick,
		CatchUpSkew: skew,
		Blackout:    blackout,
		Location:    loc,
	}, a.store, a.queue, a.scheduledJob, a.bus, a.log.With(logx.String("comp", "scheduler")))

	if m := cfg.Maintain; m != nil {
		a.run.pruneSpec = strings.TrimSpace(m.HistoryPruneSpec)
		a.run.sweepSpec = strings.TrimSpace(m.LeaseSweepSpec)
	}

	if p := cfg.Pprof; p != nil {
		a.pprof = pprof.New(pprof.Config{
			Enabled: p.Enabled,
			Addr:    p.Addr,
			Token:   p.Token,
		}, a.log.With(logx.String("comp", "pprof")))
	}
	return nil
}

func (a *App) buildAdapter(cfg *config.Config) (runner.Adapter, error) {
	timeout, err := config.ParseDurationOrDefault("runner.timeout", cfg.Runner.Timeout, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	a.run.timeout = timeout
	a.run.headless = cfg.Runner.Headless
	a.run.viewport = cfg.Runner.Viewport
	a.run.logDir = strings.TrimSpace(cfg.Runner.LogDir)

	exec, err := runner.NewExecAdapter(runner.ExecConfig{
		Binary:    cfg.Runner.Binary,
		ExtraArgs: cfg.Runner.ExtraArgs,
	}, a.log.With(logx.String("comp", "runner")))
	if err != nil {
		return nil, err
	}

	backoff, err := config.ParseDurationField("runner.retry.backoff", cfg.Runner.Retry.Backoff)
	if err != nil {
		return nil, err
	}
	probeTimeout, err := config.ParseDurationField("runner.retry.probe_timeout", cfg.Runner.Retry.ProbeTimeout)
	if err != nil {
		return nil, err
	}
	return runner.WithRetry(exec, runner.RetryConfig{
		MaxAttempts:  cfg.Runner.Retry.MaxAttempts,
		Backoff:      backoff,
		ProbeAddr:    cfg.Runner.Retry.ProbeAddr,
		ProbeTimeout: probeTimeout,
	}, a.log.With(logx.String("comp", "runner"))), nil
}

// StartWorkers brings up only the worker pool. One-shot CLI commands
// use this so a pending schedule slot does not fire alongside the
// requested job.
func (a *App) StartWorkers(ctx context.Context) {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.engine.Start(a.sup.Context())
}

// Start brings the services up and begins watching the config file.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.engine.Start(a.sup.Context())
	if a.run.schedOn {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("scheduler disabled, manual triggers only")
	}

	if err := a.startCron(); err != nil {
		return err
	}
	if a.pprof != nil {
		if err := a.pprof.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	// Debug visibility into the run pipeline.
	events, unsubEvents := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsubEvents()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

// startCron registers maintenance jobs. Both sweeps are cheap enough to
// run while the pool is busy.
func (a *App) startCron() error {
	if a.run.pruneSpec == "" && a.run.sweepSpec == "" {
		return nil
	}
	a.cron = cron.New()

	if a.run.pruneSpec != "" && a.hist != nil && a.run.keepFor > 0 {
		if _, err := a.cron.AddFunc(a.run.pruneSpec, a.pruneHistory); err != nil {
			return err
		}
	}
	if a.run.sweepSpec != "" {
		if _, err := a.cron.AddFunc(a.run.sweepSpec, a.sweepLeases); err != nil {
			return err
		}
	}
	a.cron.Start()
	return nil
}

func (a *App) pruneHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-a.run.keepFor)
	removed, err := a.hist.Prune(ctx, cutoff)
	if err != nil {
		a.log.Warn("history prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		a.log.Info("history pruned", logx.Int("removed", removed), logx.Time("cutoff", cutoff))
	}
}

// reloadLoop applies hot-reloadable sections. Logging takes effect
// immediately; everything else needs a restart and says so.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if last != nil {
				if cfg.Store != last.Store || cfg.Engine != last.Engine ||
					cfg.Scheduler.Tick != last.Scheduler.Tick {
					a.log.Warn("non-logging config changed; restart required to take effect")
				}
			}
			last = cfg
		}
	}
}

// Stop shuts down in dependency order: no new triggers, drain workers,
// flush notifications, close stores.
func (a *App) Stop(ctx context.Context) {
	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}
	a.sched.Stop(ctx)
	a.engine.Stop(ctx)
	if a.pprof != nil {
		a.pprof.Stop(ctx)
	}
	a.sink.Close(ctx)
	if a.hist != nil {
		_ = a.hist.Close()
	}
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	a.log.Info("stopped")
	a.logs.Close()
}
