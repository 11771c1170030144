// Package runner defines the boundary to the external automation process
// that logs into the target service, walks its UI, and reports metrics.
// Everything behind Adapter is an opaque blocking call with exactly two
// outcomes: a result, or an error.
package runner

import (
	"context"
	"io"

	"runbot/internal/account"
)

// Request carries everything one invocation needs. Password is plaintext
// here and must never be persisted; it only exists for the duration of the
// call.
type Request struct {
	AccountID string
	Owner     string

	// Phone is the display form (no country prefix) the CLI expects.
	Phone    string
	Password string

	Iterations     int
	ReviewText     string
	Viewport       string
	Headless       bool
	SyncOnly       bool
	TimeoutSeconds int
}

// Adapter executes one run against the target service.
//
// Implementations must be safe to re-invoke for the same account: the
// process re-derives truth from the target service rather than trusting
// any counters passed in. Output is streamed to logSink as it happens.
type Adapter interface {
	Run(ctx context.Context, req Request, logSink io.Writer) (account.RunResult, error)
}

// Func adapts a function to Adapter. Handy in tests.
type Func func(ctx context.Context, req Request, logSink io.Writer) (account.RunResult, error)

func (f Func) Run(ctx context.Context, req Request, logSink io.Writer) (account.RunResult, error) {
	return f(ctx, req, logSink)
}
