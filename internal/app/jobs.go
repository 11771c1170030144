package app

import (
	"fmt"
	"path/filepath"
	"time"

	"runbot/internal/account"
	"runbot/internal/queue"
)

// scheduledJob is the scheduler's JobFactory.
func (a *App) scheduledJob(acct account.Account, now time.Time) queue.Job {
	return a.buildJob(acct, queue.ModeFull, queue.TriggerSchedule, now)
}

func (a *App) buildJob(acct account.Account, mode queue.Mode, trigger queue.Trigger, now time.Time) queue.Job {
	params := queue.Params{
		Viewport:       a.run.viewport,
		Headless:       a.run.headless,
		TimeoutSeconds: int(a.run.timeout.Seconds()),
	}
	if mode == queue.ModeFull {
		params.Iterations = acct.Tier.Iterations()
		params.ReviewText = acct.ReviewFor(now)
	}

	j := queue.NewJob(acct.Owner, acct.ID, mode, trigger, params)
	if a.run.logDir != "" {
		j.LogPath = filepath.Join(a.run.logDir, now.Format("2006-01-02"),
			fmt.Sprintf("%s-%s.log", acct.ID, j.ID[:8]))
	}
	return j
}
