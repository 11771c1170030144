package account

// RunResult is the terminal outcome of one runner invocation, plus the
// financial snapshot scraped along the way. All fields are cumulative for
// the calendar day they are stored under.
type RunResult struct {
	Completed  int     `json:"completed"`
	Total      int     `json:"total"`
	Percentage int     `json:"percentage"`
	Income     float64 `json:"income,omitempty"`
	Withdrawal float64 `json:"withdrawal,omitempty"`
	Balance    float64 `json:"balance,omitempty"`
	Points     float64 `json:"points,omitempty"`

	// AttendanceDays lists dates ("2006-01-02") the account checked in on,
	// as reported by the target service.
	AttendanceDays []string `json:"attendance_days,omitempty"`
}

// MergeDaily combines two results for the same (account, date) into the most
// complete view. Progress counters are sticky: the merged value is at least
// as large as either input, so out-of-order or duplicate writes (multiple
// partial runs after crash-and-resume) can never regress a day.
//
// Financial fields follow a "non-zero wins over stale zero" rule: a fresh
// scrape that actually saw a value replaces a zero, but a run that failed to
// scrape (reporting zero) keeps the previous observation.
func MergeDaily(old, new RunResult) RunResult {
	m := old

	if new.Completed > m.Completed {
		m.Completed = new.Completed
	}
	if new.Total > m.Total {
		m.Total = new.Total
	}
	if m.Total > 0 {
		m.Percentage = int(float64(m.Completed)/float64(m.Total)*100 + 0.5)
	}
	if m.Completed > m.Total {
		// Defect in the reporting side; clamp so the invariant holds.
		m.Completed = m.Total
		m.Percentage = 100
	}

	if new.Income != 0 {
		m.Income = new.Income
	}
	if new.Withdrawal != 0 {
		m.Withdrawal = new.Withdrawal
	}
	if new.Balance != 0 {
		m.Balance = new.Balance
	}
	if new.Points != 0 {
		m.Points = new.Points
	}

	if len(new.AttendanceDays) > 0 {
		m.AttendanceDays = unionDays(old.AttendanceDays, new.AttendanceDays)
	}
	return m
}

func unionDays(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
