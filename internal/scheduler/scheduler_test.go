package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runbot/internal/account"
	"runbot/internal/queue"
	"runbot/internal/store"
	logx "runbot/pkg/logx"
)

func newService(t *testing.T, cfg Config, accounts ...account.Account) (*Service, *store.Store, *queue.Queue) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "accounts.json")}, nil, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.AtomicUpdate(func(in []account.Account) []account.Account {
		return append(in, accounts...)
	}))

	q := queue.New(0)
	factory := func(a account.Account, now time.Time) queue.Job {
		return queue.NewJob(a.Owner, a.ID, queue.ModeFull, queue.TriggerSchedule, queue.Params{
			Iterations: a.Tier.Iterations(),
			ReviewText: a.ReviewFor(now),
		})
	}
	return New(cfg, st, q, factory, nil, logx.Nop()), st, q
}

// 2026-03-02 is a Monday.
func mondayAt(hour, min, sec int) time.Time {
	return time.Date(2026, 3, 2, hour, min, sec, 0, time.UTC)
}

func TestTickFiresDueAccountOnce(t *testing.T) {
	svc, st, q := newService(t, Config{},
		account.Account{ID: "628111", Schedule: "08:00", Tier: account.TierE1})

	assert.Equal(t, 0, svc.tick(mondayAt(7, 59, 50)))
	assert.Equal(t, 0, q.Len())

	assert.Equal(t, 1, svc.tick(mondayAt(8, 0, 10)))
	assert.Equal(t, 1, q.Len())

	a, ok := st.Get("", "628111")
	require.True(t, ok)
	assert.Equal(t, mondayAt(8, 0, 10), a.LastRunAt.UTC())

	// Subsequent ticks in the same slot do not re-fire.
	for sec := 30; sec < 120; sec += 20 {
		assert.Equal(t, 0, svc.tick(mondayAt(8, 0, 0).Add(time.Duration(sec)*time.Second)))
	}
	assert.Equal(t, 1, q.Len())
}

func TestTickJobCarriesRunParams(t *testing.T) {
	svc, _, q := newService(t, Config{},
		account.Account{
			ID:       "628111",
			Schedule: "08:00",
			Tier:     account.TierE3,
			Reviews:  map[string]string{"mon": "great app"},
		})

	require.Equal(t, 1, svc.tick(mondayAt(8, 0, 5)))
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.ModeFull, job.Mode)
	assert.Equal(t, queue.TriggerSchedule, job.Trigger)
	assert.Equal(t, 60, job.Params.Iterations)
	assert.Equal(t, "great app", job.Params.ReviewText)
}

func TestTickCatchUpAfterDowntime(t *testing.T) {
	svc, _, q := newService(t, Config{},
		account.Account{ID: "628111", Schedule: "08:00", LastRunAt: mondayAt(8, 0, 3).AddDate(0, 0, -1)})

	// First tick after a restart, hours past the slot, still fires.
	assert.Equal(t, 1, svc.tick(mondayAt(14, 30, 0)))
	assert.Equal(t, 1, q.Len())
}

func TestTickBlackoutDay(t *testing.T) {
	svc, _, q := newService(t, Config{Blackout: map[time.Weekday]bool{time.Sunday: true}},
		account.Account{ID: "628111", Schedule: "08:00"})

	sunday := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.Equal(t, time.Sunday, sunday.Weekday())
	assert.Equal(t, 0, svc.tick(sunday))
	assert.Equal(t, 0, q.Len())

	// Monday fires normally.
	assert.Equal(t, 1, svc.tick(mondayAt(9, 0, 0)))
}

func TestTickSkipsLeasedAccount(t *testing.T) {
	a := account.Account{ID: "628111", Schedule: "08:00"}
	a.AcquireLease(mondayAt(7, 0, 0), 12*time.Hour)
	svc, _, q := newService(t, Config{}, a)

	assert.Equal(t, 0, svc.tick(mondayAt(8, 0, 10)))
	assert.Equal(t, 0, q.Len())
}

func TestTickSkipsUnparsableSchedule(t *testing.T) {
	svc, _, q := newService(t, Config{},
		account.Account{ID: "628111", Schedule: "8am"},
		account.Account{ID: "628222", Schedule: "08:00"})

	assert.Equal(t, 1, svc.tick(mondayAt(8, 0, 10)))
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "628222", job.AccountID)
}

func TestTickIgnoresManualOnlyAccounts(t *testing.T) {
	svc, _, q := newService(t, Config{}, account.Account{ID: "628111"})
	assert.Equal(t, 0, svc.tick(mondayAt(12, 0, 0)))
	assert.Equal(t, 0, q.Len())
}

func TestTickSkewTreatsEarlyTriggerAsCovered(t *testing.T) {
	// A trigger stamped 5s before the slot (clock skew) still counts.
	svc, _, q := newService(t, Config{CatchUpSkew: 10 * time.Second},
		account.Account{ID: "628111", Schedule: "08:00", LastRunAt: mondayAt(7, 59, 55)})

	assert.Equal(t, 0, svc.tick(mondayAt(8, 0, 10)))
	assert.Equal(t, 0, q.Len())
}

func TestTickMultipleAccountsOneWrite(t *testing.T) {
	svc, st, q := newService(t, Config{},
		account.Account{ID: "628111", Schedule: "08:00"},
		account.Account{ID: "628222", Schedule: "08:00"},
		account.Account{ID: "628333", Schedule: "21:00"})

	assert.Equal(t, 2, svc.tick(mondayAt(8, 0, 10)))
	assert.Equal(t, 2, q.Len())

	for _, id := range []string{"628111", "628222"} {
		a, ok := st.Get("", id)
		require.True(t, ok)
		assert.False(t, a.LastRunAt.IsZero(), id)
	}
	a, ok := st.Get("", "628333")
	require.True(t, ok)
	assert.True(t, a.LastRunAt.IsZero())
}
