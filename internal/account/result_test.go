package account

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeDailyMonotonic(t *testing.T) {
	seqs := [][]RunResult{
		{{Completed: 5, Total: 30}, {Completed: 12, Total: 30}, {Completed: 30, Total: 30}},
		{{Completed: 30, Total: 30}, {Completed: 12, Total: 30}, {Completed: 5, Total: 30}},
		{{Completed: 12, Total: 30}, {Completed: 30, Total: 30}, {Completed: 5, Total: 30}},
	}
	for _, seq := range seqs {
		var got RunResult
		for _, r := range seq {
			got = MergeDaily(got, r)
		}
		require.Equal(t, 30, got.Completed, "completed must equal the max seen regardless of order")
		require.Equal(t, 30, got.Total)
		require.Equal(t, 100, got.Percentage)
	}
}

func TestMergeDailyNeverRegresses(t *testing.T) {
	old := RunResult{Completed: 20, Total: 30, Percentage: 67, Income: 150000}

	got := MergeDaily(old, RunResult{Completed: 3, Total: 30})
	require.Equal(t, 20, got.Completed)
	require.Equal(t, 150000.0, got.Income, "zero income from a failed scrape must not clobber a real value")
}

func TestMergeDailyNonZeroFinancialWins(t *testing.T) {
	old := RunResult{Completed: 10, Total: 30, Income: 0, Balance: 370624}
	got := MergeDaily(old, RunResult{Completed: 10, Total: 30, Income: 4500000, Balance: 0})
	require.Equal(t, 4500000.0, got.Income)
	require.Equal(t, 370624.0, got.Balance)
}

func TestMergeDailyClampsCompleted(t *testing.T) {
	got := MergeDaily(RunResult{}, RunResult{Completed: 40, Total: 30})
	require.LessOrEqual(t, got.Completed, got.Total)
	require.Equal(t, 100, got.Percentage)
}

func TestMergeDailyAttendanceUnion(t *testing.T) {
	old := RunResult{AttendanceDays: []string{"2025-11-01", "2025-11-02"}}
	got := MergeDaily(old, RunResult{AttendanceDays: []string{"2025-11-02", "2025-11-03"}})
	require.ElementsMatch(t, []string{"2025-11-01", "2025-11-02", "2025-11-03"}, got.AttendanceDays)
}
