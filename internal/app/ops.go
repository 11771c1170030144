package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"runbot/internal/account"
	"runbot/internal/eventbus"
	"runbot/internal/history"
	"runbot/internal/queue"
	"runbot/internal/store"
	logx "runbot/pkg/logx"
)

// State is the derived answer to "what is this account doing right now".
type State string

const (
	StateRunning State = "running" // a worker holds the lease and is executing
	StateQueued  State = "queued"  // a job is waiting for a worker
	StateRan     State = "ran"     // today's slot already triggered
	StateDue     State = "due"     // slot passed, trigger pending
	StatePending State = "pending" // slot later today
	StateManual  State = "manual"  // no schedule configured
)

type AccountStatus struct {
	Account  account.Account
	State    State
	QueuePos int // 1-based, only when State == StateQueued
}

// TriggerRun enqueues a manual job for the account. Full-mode triggers
// stamp LastRunAt so the day's schedule slot does not fire again on top
// of the manual run; sync runs leave the slot armed.
func (a *App) TriggerRun(owner, rawID string, mode queue.Mode) (queue.Job, error) {
	id := account.NormalizePhone(rawID)
	acct, ok := a.store.Get(owner, id)
	if !ok {
		return queue.Job{}, fmt.Errorf("%w: %s", store.ErrNotFound, rawID)
	}

	now := time.Now()
	if mode == queue.ModeFull {
		err := a.store.AtomicUpdate(func(accounts []account.Account) []account.Account {
			for i := range accounts {
				if accounts[i].ID == id && accounts[i].Owner == owner {
					accounts[i].LastRunAt = now
					break
				}
			}
			return accounts
		})
		if err != nil {
			return queue.Job{}, err
		}
	}

	job := a.buildJob(acct, mode, queue.TriggerManual, now)
	if !a.queue.Enqueue(job) {
		return queue.Job{}, errors.New("job queue is full, try again later")
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeJobEnqueued, Data: eventbus.RunEvent{
		JobID:     job.ID,
		Owner:     acct.Owner,
		AccountID: acct.ID,
		Mode:      string(mode),
		Trigger:   string(queue.TriggerManual),
	}})
	a.log.Info("manual run enqueued",
		logx.String("account", acct.Key()),
		logx.String("job", job.ID),
		logx.String("mode", string(mode)))
	return job, nil
}

// Status derives the account's current state from the engine, the
// queue, and stored schedule markers, in that order of authority.
func (a *App) Status(owner, rawID string) (AccountStatus, error) {
	id := account.NormalizePhone(rawID)
	acct, ok := a.store.Get(owner, id)
	if !ok {
		return AccountStatus{}, fmt.Errorf("%w: %s", store.ErrNotFound, rawID)
	}
	acct.Credentials = ""
	st := AccountStatus{Account: acct}

	if _, running := a.engine.RunningFor(owner, id); running {
		st.State = StateRunning
		return st, nil
	}
	if pos := a.queue.PositionFor(owner, id); pos > 0 {
		st.State = StateQueued
		st.QueuePos = pos
		return st, nil
	}
	if acct.Schedule == "" {
		st.State = StateManual
		return st, nil
	}

	now := time.Now()
	slot, err := acct.SlotInstant(now)
	if err != nil {
		return st, err
	}
	switch {
	case !acct.LastRunAt.IsZero() && !acct.LastRunAt.Before(slot.Add(-a.run.skew)):
		st.State = StateRan
	case now.Before(slot):
		st.State = StatePending
	default:
		st.State = StateDue
	}
	return st, nil
}

// ListAccounts returns the accounts visible to owner ("" means all),
// credentials redacted.
func (a *App) ListAccounts(owner string) []account.Account {
	var out []account.Account
	for _, acct := range a.store.Load() {
		if owner != "" && acct.Owner != owner {
			continue
		}
		acct.Credentials = ""
		out = append(out, acct)
	}
	return out
}

// RecentRuns returns the newest history records, or nil when history is
// disabled.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]history.Record, error) {
	if a.hist == nil {
		return nil, nil
	}
	return a.hist.Recent(ctx, limit)
}

// ResetLeases force-clears every lease, expired or not. Operator
// recovery tool: only safe when no runner process is alive.
func (a *App) ResetLeases() (int, error) {
	cleared := 0
	err := a.store.AtomicUpdate(func(accounts []account.Account) []account.Account {
		for i := range accounts {
			if !accounts[i].SyncLeaseExpiresAt.IsZero() {
				accounts[i].ReleaseLease()
				cleared++
			}
		}
		return accounts
	})
	if err != nil {
		return 0, err
	}
	if cleared > 0 {
		a.log.Info("leases reset", logx.Int("cleared", cleared))
	}
	return cleared, nil
}

// sweepLeases clears only leases that already expired. Runs on the
// maintenance cron; expired leases are inert but clutter the table.
func (a *App) sweepLeases() {
	now := time.Now()
	swept := 0
	err := a.store.AtomicUpdate(func(accounts []account.Account) []account.Account {
		for i := range accounts {
			until := accounts[i].SyncLeaseExpiresAt
			if !until.IsZero() && !until.After(now) {
				accounts[i].ReleaseLease()
				swept++
			}
		}
		return accounts
	})
	if err != nil {
		a.log.Warn("lease sweep failed", logx.Err(err))
		return
	}
	if swept > 0 {
		a.log.Info("expired leases swept", logx.Int("count", swept))
	}
}

// WaitIdle blocks until no jobs are queued or executing, or ctx ends.
// Used by one-shot CLI invocations to exit after their job finishes.
func (a *App) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	// A job is invisible for a moment between dequeue and lease
	// acquisition, so require a few consecutive idle observations.
	idleStreak := 0
	for {
		if a.queue.Len() == 0 && a.engine.ActiveJobs() == 0 {
			if idleStreak++; idleStreak >= 3 {
				return nil
			}
		} else {
			idleStreak = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
