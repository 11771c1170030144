// Package scheduler turns per-account "HH:MM" schedules into queued
// jobs. It is a poll loop, not a timer wheel: every tick it re-derives
// which accounts are due from stored state, so restarts and missed
// ticks cost nothing but delay.
package scheduler

import (
	"context"
	"time"

	"runbot/internal/account"
	"runbot/internal/eventbus"
	"runbot/internal/queue"
	"runbot/internal/runtime/supervisor"
	"runbot/internal/store"
	logx "runbot/pkg/logx"
)

const (
	defaultTick = 20 * time.Second
	defaultSkew = 10 * time.Second
)

type Config struct {
	// Tick is the poll interval of the due-check loop.
	Tick time.Duration

	// CatchUpSkew treats a LastRunAt slightly before the slot as
	// covering it, absorbing clock jitter between trigger and slot.
	CatchUpSkew time.Duration

	// Blackout lists weekdays on which scheduled runs never fire.
	Blackout map[time.Weekday]bool

	// Location resolves schedule slots; nil means local time.
	Location *time.Location
}

// JobFactory builds the job enqueued for a due account. The scheduler
// owns the trigger decision; the factory owns the run parameters.
type JobFactory func(a account.Account, now time.Time) queue.Job

type Service struct {
	log     logx.Logger
	cfg     Config
	store   *store.Store
	queue   *queue.Queue
	factory JobFactory
	bus     eventbus.Bus

	sup *supervisor.Supervisor
}

func New(cfg Config, st *store.Store, q *queue.Queue, factory JobFactory, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.CatchUpSkew <= 0 {
		cfg.CatchUpSkew = defaultSkew
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, cfg: cfg, store: st, queue: q, factory: factory, bus: bus}
}

// Start launches the tick loop. Idempotent while running.
func (s *Service) Start(ctx context.Context) {
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("scheduler.tick", s.loop, 500*time.Millisecond, 10*time.Second)
	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick))
}

func (s *Service) Stop(ctx context.Context) {
	if s.sup == nil {
		return
	}
	_ = s.sup.Stop(ctx)
	s.sup = nil
	s.log.Info("scheduler stopped")
}

func (s *Service) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(time.Now().In(s.cfg.Location))
		}
	}
}

// tick fires every due account exactly once: LastRunAt is stamped in
// one atomic table write before any job is enqueued, so a crash between
// the write and the enqueue costs one slot, never a duplicate run.
func (s *Service) tick(now time.Time) int {
	if s.cfg.Blackout[now.Weekday()] {
		return 0
	}

	// Cheap read-only pre-check so quiet ticks never take the write path.
	due := 0
	for _, a := range s.store.Load() {
		ok, err := a.DueAt(now, s.cfg.CatchUpSkew)
		if err != nil {
			s.log.Warn("schedule unparsable, account skipped",
				logx.String("account", a.Key()), logx.Err(err))
			continue
		}
		if ok {
			due++
		}
	}
	if due == 0 {
		return 0
	}

	// Re-check under the exclusive lock; the pre-check may be stale.
	var fired []account.Account
	err := s.store.AtomicUpdate(func(accounts []account.Account) []account.Account {
		for i := range accounts {
			ok, err := accounts[i].DueAt(now, s.cfg.CatchUpSkew)
			if err != nil || !ok {
				continue
			}
			accounts[i].LastRunAt = now
			fired = append(fired, accounts[i])
		}
		return accounts
	})
	if err != nil {
		// The trigger marker did not persist; do not enqueue, the next
		// tick retries the whole slot.
		s.log.Error("trigger write failed, slot deferred", logx.Err(err))
		return 0
	}

	for _, a := range fired {
		job := s.factory(a, now)
		if !s.queue.Enqueue(job) {
			// LastRunAt is already stamped, so the slot is lost rather
			// than duplicated. The same trade a crash makes.
			s.log.Warn("queue full, slot lost",
				logx.String("account", a.Key()), logx.String("slot", a.Schedule))
			continue
		}
		s.log.Info("scheduled run enqueued",
			logx.String("account", a.Key()),
			logx.String("job", job.ID),
			logx.String("slot", a.Schedule))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeSlotFired, Data: eventbus.RunEvent{
				JobID:     job.ID,
				Owner:     a.Owner,
				AccountID: a.ID,
				Mode:      string(job.Mode),
				Trigger:   string(job.Trigger),
			}})
		}
	}
	return len(fired)
}
