package account

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSchedule validates an "HH:MM" time-of-day string and returns the
// hour and minute. It is strict on range so a typo'd schedule is rejected
// at edit time instead of silently never firing.
func ParseSchedule(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid schedule %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// SlotInstant combines the account's schedule with the date of now,
// producing the scheduled instant ("slot") for that day.
func (a *Account) SlotInstant(now time.Time) (time.Time, error) {
	h, m, err := ParseSchedule(a.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location()), nil
}

// DueAt reports whether the account's scheduled slot should fire at now.
// skew is the clock tolerance applied to the trigger de-dup comparison:
// a LastRunAt at or after slot-skew counts as "already triggered".
//
// A slot missed while the process was down still fires on the first tick
// that sees it (catch-up); only the LastRunAt marker re-arms the slot.
func (a *Account) DueAt(now time.Time, skew time.Duration) (bool, error) {
	if a.Schedule == "" {
		return false, nil
	}
	slot, err := a.SlotInstant(now)
	if err != nil {
		return false, err
	}
	if now.Before(slot) {
		return false, nil
	}
	if !a.LastRunAt.IsZero() && !a.LastRunAt.Before(slot.Add(-skew)) {
		return false, nil
	}
	if a.LeaseHeld(now) {
		return false, nil
	}
	return true, nil
}
