package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"runbot/internal/account"
)

func TestFormatEventSuccess(t *testing.T) {
	text := FormatEvent(Event{
		Owner:     "alice",
		AccountID: "628123456",
		Phone:     "628123456",
		Mode:      "full",
		Success:   true,
		Result: account.RunResult{
			Completed:  15,
			Total:      15,
			Percentage: 100,
			Income:     15000,
			Balance:    1200500,
		},
		Took: 95 * time.Second,
	})

	assert.True(t, strings.HasPrefix(text, "✅ FULL "), text)
	assert.Contains(t, text, "8123456")
	assert.Contains(t, text, "(alice)")
	assert.Contains(t, text, "Tasks: 15/15 (100%)")
	assert.Contains(t, text, "Income: Rp15.000")
	assert.Contains(t, text, "Balance: Rp1.200.500")
	assert.NotContains(t, text, "Withdrawal", "zero amounts are omitted")
	assert.Contains(t, text, "Took: 1m35s")
}

func TestFormatRupiah(t *testing.T) {
	assert.Equal(t, "Rp0", formatRupiah(0))
	assert.Equal(t, "Rp950", formatRupiah(950))
	assert.Equal(t, "Rp15.000", formatRupiah(15000))
	assert.Equal(t, "Rp1.200.500", formatRupiah(1200500))
	assert.Equal(t, "-Rp15.000", formatRupiah(-15000))
}

func TestFormatEventFailure(t *testing.T) {
	text := FormatEvent(Event{
		AccountID: "628123456",
		Phone:     "628123456",
		Mode:      "sync",
		Success:   false,
		Err:       strings.Repeat("x", 500),
		Took:      3 * time.Second,
	})

	assert.True(t, strings.HasPrefix(text, "❌ SYNC "), text)
	assert.Contains(t, text, "Error: ")
	// Long errors are truncated.
	assert.Less(t, len(text), 450)
}

func TestNoopSink(t *testing.T) {
	var s Sink = Noop{}
	s.Publish(context.Background(), Event{AccountID: "a"})
	s.Close(context.Background())
}
