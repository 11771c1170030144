package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"081234567890":   "6281234567890",
		"81234567890":    "6281234567890",
		"+6281234567890": "6281234567890",
		"6281234567890":  "6281234567890",
		"0812-3456-7890": "6281234567890",
		"":               "",
		"abc":            "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizePhone(in), "input %q", in)
	}
}

func TestDisplayPhone(t *testing.T) {
	require.Equal(t, "81234567890", DisplayPhone("6281234567890"))
	require.Equal(t, "12345", DisplayPhone("12345"))
}

func TestTierIterations(t *testing.T) {
	require.Equal(t, 15, TierE1.Iterations())
	require.Equal(t, 30, TierE2.Iterations())
	require.Equal(t, 60, TierE3.Iterations())
	require.Equal(t, 45, Tier("45").Iterations())
	require.Equal(t, 30, Tier("").Iterations())
	require.Equal(t, 30, Tier("bogus").Iterations())
}

func TestParseSchedule(t *testing.T) {
	h, m, err := ParseSchedule("08:30")
	require.NoError(t, err)
	require.Equal(t, 8, h)
	require.Equal(t, 30, m)

	for _, bad := range []string{"", "8am", "25:00", "08:61", "08", "08:30:00"} {
		_, _, err := ParseSchedule(bad)
		require.Error(t, err, "schedule %q should not parse", bad)
	}
}

func TestLease(t *testing.T) {
	now := time.Now()
	a := Account{ID: "62812"}
	require.False(t, a.LeaseHeld(now))

	a.AcquireLease(now, 5*time.Minute)
	require.True(t, a.LeaseHeld(now))
	require.True(t, a.LeaseHeld(now.Add(4*time.Minute)))

	// Expiry is treated as released for all checks after t, no explicit
	// release required.
	require.False(t, a.LeaseHeld(now.Add(5*time.Minute)))
	require.False(t, a.LeaseHeld(now.Add(time.Hour)))

	a.AcquireLease(now, 5*time.Minute)
	a.ReleaseLease()
	require.False(t, a.LeaseHeld(now))
}

func TestDueAt(t *testing.T) {
	loc := time.Local
	day := time.Date(2025, 11, 28, 0, 0, 0, 0, loc) // a Friday
	at := func(h, m, s int) time.Time {
		return time.Date(2025, 11, 28, h, m, s, 0, loc)
	}
	skew := 10 * time.Second

	a := Account{ID: "62812", Schedule: "08:30", LastRunAt: day.AddDate(0, 0, -1)}

	due, err := a.DueAt(at(8, 29, 55), skew)
	require.NoError(t, err)
	require.False(t, due, "before the slot")

	due, err = a.DueAt(at(8, 30, 5), skew)
	require.NoError(t, err)
	require.True(t, due, "slot crossed, last run yesterday")

	// Trigger marker set: the same slot must not fire again.
	a.LastRunAt = at(8, 30, 5)
	due, err = a.DueAt(at(8, 30, 10), skew)
	require.NoError(t, err)
	require.False(t, due)

	// Catch-up: hours past the slot still fires once.
	b := Account{ID: "62813", Schedule: "08:30", LastRunAt: day.AddDate(0, 0, -1)}
	due, err = b.DueAt(at(17, 0, 0), skew)
	require.NoError(t, err)
	require.True(t, due)

	// An unexpired lease suppresses the trigger.
	c := Account{ID: "62814", Schedule: "08:30"}
	c.AcquireLease(at(8, 29, 0), 5*time.Minute)
	due, err = c.DueAt(at(8, 30, 5), skew)
	require.NoError(t, err)
	require.False(t, due)

	// Clock-skew tolerance: a trigger recorded just before the slot counts.
	d := Account{ID: "62815", Schedule: "08:30", LastRunAt: at(8, 29, 52)}
	due, err = d.DueAt(at(8, 30, 5), skew)
	require.NoError(t, err)
	require.False(t, due)

	// No schedule = manual only.
	e := Account{ID: "62816"}
	due, err = e.DueAt(at(8, 30, 5), skew)
	require.NoError(t, err)
	require.False(t, due)

	// Unparsable schedule surfaces an error for the caller to log and skip.
	f := Account{ID: "62817", Schedule: "junk"}
	_, err = f.DueAt(at(8, 30, 5), skew)
	require.Error(t, err)
}

func TestReviewFor(t *testing.T) {
	a := Account{Reviews: map[string]string{"mon": "bagus", "sat": "mantap"}}

	mon := time.Date(2025, 11, 24, 9, 0, 0, 0, time.Local)
	require.Equal(t, "bagus", a.ReviewFor(mon))

	sun := time.Date(2025, 11, 30, 9, 0, 0, 0, time.Local)
	require.Equal(t, "", a.ReviewFor(sun), "no reviews on Sunday")

	tue := mon.AddDate(0, 0, 1)
	require.Equal(t, "", a.ReviewFor(tue))
}
