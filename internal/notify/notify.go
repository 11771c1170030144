// Package notify delivers run reports to operators. Delivery is
// fire-and-forget: orchestration never blocks on, or fails because of,
// a notification.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"runbot/internal/account"
)

// Event describes one finished automation run.
type Event struct {
	Owner     string
	AccountID string
	Phone     string
	Mode      string
	Trigger   string
	Success   bool
	Err       string
	Result    account.RunResult
	Took      time.Duration
}

// Sink receives run events. Implementations must be safe for
// concurrent use and must not block the caller beyond enqueueing.
type Sink interface {
	Publish(ctx context.Context, ev Event)
	Close(ctx context.Context)
}

// Noop discards all events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}
func (Noop) Close(context.Context)          {}

// FormatEvent renders an event as the operator-facing message text.
func FormatEvent(ev Event) string {
	var b strings.Builder

	phone := account.DisplayPhone(ev.Phone)
	if phone == "" {
		phone = ev.AccountID
	}

	if ev.Success {
		b.WriteString("✅ ")
	} else {
		b.WriteString("❌ ")
	}
	fmt.Fprintf(&b, "%s %s", strings.ToUpper(ev.Mode), phone)
	if ev.Owner != "" {
		fmt.Fprintf(&b, " (%s)", ev.Owner)
	}
	b.WriteString("\n")

	if ev.Success {
		r := ev.Result
		fmt.Fprintf(&b, "Tasks: %d/%d (%d%%)\n", r.Completed, r.Total, r.Percentage)
		if r.Income != 0 {
			fmt.Fprintf(&b, "Income: %s\n", formatRupiah(r.Income))
		}
		if r.Balance != 0 {
			fmt.Fprintf(&b, "Balance: %s\n", formatRupiah(r.Balance))
		}
		if r.Withdrawal != 0 {
			fmt.Fprintf(&b, "Withdrawal: %s\n", formatRupiah(r.Withdrawal))
		}
		if r.Points != 0 {
			fmt.Fprintf(&b, "Points: %.0f\n", r.Points)
		}
	} else if ev.Err != "" {
		fmt.Fprintf(&b, "Error: %s\n", truncate(ev.Err, 300))
	}

	fmt.Fprintf(&b, "Took: %s", ev.Took.Round(time.Second))
	return b.String()
}

// formatRupiah renders a scraped amount the way the target service
// displays it: "Rp" prefix, dots as thousands separators.
func formatRupiah(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "." + s[i:]
	}
	return sign + "Rp" + s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
