package account

import (
	"time"
)

// Account is one automatable identity: login credentials for the target
// service plus everything the scheduler needs to decide when to run it.
//
// The ID is the normalized phone number. Two accounts with the same phone
// but different owners are distinct entities.
type Account struct {
	ID    string `json:"phone"`
	Owner string `json:"owner,omitempty"`

	// Credentials holds the password encrypted at rest (see internal/secret).
	// It is decrypted only transiently for a runner invocation.
	Credentials string `json:"password"`

	Tier Tier `json:"level,omitempty"`

	// Schedule is an optional "HH:MM" time of day. Empty = manual-only.
	Schedule string `json:"schedule,omitempty"`

	// Reviews maps weekday keys (mon..sat) to the review text submitted on
	// that day. There are no reviews on Sunday.
	Reviews map[string]string `json:"reviews,omitempty"`

	// DailyProgress maps a calendar date ("2006-01-02") to the best result
	// observed for that date. Entries only ever move forward (sticky merge).
	DailyProgress map[string]RunResult `json:"daily_progress,omitempty"`

	// LastRunAt marks the most recent *triggered* run, not a completed one.
	// It is the de-duplication key for schedule slots.
	LastRunAt time.Time `json:"last_run_ts,omitempty"`

	// LastSyncAt / SyncLeaseExpiresAt form a short-lived lease marking a run
	// in flight for this account. The lease auto-expires so a crashed worker
	// can never wedge the account.
	LastSyncAt         time.Time `json:"last_sync_ts,omitempty"`
	SyncLeaseExpiresAt time.Time `json:"sync_lease_until,omitempty"`
}

// Key returns the identity of the account within the whole table.
func (a *Account) Key() string {
	if a.Owner == "" {
		return a.ID
	}
	return a.Owner + "/" + a.ID
}

// LeaseHeld reports whether an unexpired sync lease is held at now.
// An expired lease is simply "not held"; that is expected recovery
// behavior, not an error.
func (a *Account) LeaseHeld(now time.Time) bool {
	return !a.SyncLeaseExpiresAt.IsZero() && a.SyncLeaseExpiresAt.After(now)
}

// AcquireLease marks a run in flight until now+ttl.
func (a *Account) AcquireLease(now time.Time, ttl time.Duration) {
	a.LastSyncAt = now
	a.SyncLeaseExpiresAt = now.Add(ttl)
}

// ReleaseLease clears the lease. Safe to call when no lease is held.
func (a *Account) ReleaseLease() {
	a.SyncLeaseExpiresAt = time.Time{}
}

// ReviewFor returns the configured review text for the weekday of t,
// or "" when none is set (Sundays never have one).
func (a *Account) ReviewFor(t time.Time) string {
	key := reviewKey(t.Weekday())
	if key == "" {
		return ""
	}
	return a.Reviews[key]
}

func reviewKey(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "mon"
	case time.Tuesday:
		return "tue"
	case time.Wednesday:
		return "wed"
	case time.Thursday:
		return "thu"
	case time.Friday:
		return "fri"
	case time.Saturday:
		return "sat"
	default:
		return ""
	}
}

// DateKey formats t the way DailyProgress is keyed.
func DateKey(t time.Time) string { return t.Format("2006-01-02") }

// MergeProgress folds a new result for the given date into the account,
// never moving stored progress backwards.
func (a *Account) MergeProgress(date string, r RunResult) {
	if a.DailyProgress == nil {
		a.DailyProgress = make(map[string]RunResult, 1)
	}
	a.DailyProgress[date] = MergeDaily(a.DailyProgress[date], r)
}
