package runner

import (
	"context"
	"io"
	"net"
	"time"

	"runbot/internal/account"
	logx "runbot/pkg/logx"
)

// RetryConfig bounds how a failed invocation is retried. Retries are always
// finite; an exhausted budget surfaces the last error to the caller.
type RetryConfig struct {
	// MaxAttempts is the total invocation budget (first try included).
	MaxAttempts int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
	// ProbeAddr is a host:port dialed before each retry to confirm the
	// network is reachable at all; a dead network aborts the budget early
	// instead of burning attempts.
	ProbeAddr    string
	ProbeTimeout time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	return c
}

// Retrying wraps an Adapter with a bounded retry policy. Safe because the
// underlying runner re-derives truth from the target service on every
// invocation, so a duplicate attempt can only repeat work, never double it.
type Retrying struct {
	inner Adapter
	cfg   RetryConfig
	log   logx.Logger

	// dial is swappable in tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

func WithRetry(inner Adapter, cfg RetryConfig, log logx.Logger) *Retrying {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retrying{inner: inner, cfg: cfg.withDefaults(), log: log, dial: net.DialTimeout}
}

func (r *Retrying) Run(ctx context.Context, req Request, logSink io.Writer) (account.RunResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		res, err := r.inner.Run(ctx, req, logSink)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt == r.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		r.log.Warn("run attempt failed",
			logx.String("account", req.AccountID),
			logx.Int("attempt", attempt),
			logx.Err(err))

		t := time.NewTimer(r.cfg.Backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return account.RunResult{}, ctx.Err()
		case <-t.C:
		}

		if !r.reachable() {
			r.log.Warn("network unreachable, abandoning retries", logx.String("account", req.AccountID))
			break
		}
	}
	return account.RunResult{}, lastErr
}

func (r *Retrying) reachable() bool {
	if r.cfg.ProbeAddr == "" {
		return true
	}
	conn, err := r.dial("tcp", r.cfg.ProbeAddr, r.cfg.ProbeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
