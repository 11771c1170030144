package runner

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"runbot/internal/account"
	logx "runbot/pkg/logx"
)

func TestRetrySucceedsAfterFailure(t *testing.T) {
	attempts := 0
	inner := Func(func(ctx context.Context, req Request, w io.Writer) (account.RunResult, error) {
		attempts++
		if attempts < 2 {
			return account.RunResult{}, errors.New("login failed")
		}
		return account.RunResult{Completed: 30, Total: 30}, nil
	})

	r := WithRetry(inner, RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond}, logx.Nop())
	res, err := r.Run(context.Background(), Request{AccountID: "62812"}, nil)
	require.NoError(t, err)
	require.Equal(t, 30, res.Completed)
	require.Equal(t, 2, attempts)
}

func TestRetryBounded(t *testing.T) {
	attempts := 0
	boom := errors.New("target timeout")
	inner := Func(func(ctx context.Context, req Request, w io.Writer) (account.RunResult, error) {
		attempts++
		return account.RunResult{}, boom
	})

	r := WithRetry(inner, RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond}, logx.Nop())
	_, err := r.Run(context.Background(), Request{}, nil)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, attempts, "attempts must be bounded, never unbounded")
}

func TestRetryAbortsWhenUnreachable(t *testing.T) {
	attempts := 0
	inner := Func(func(ctx context.Context, req Request, w io.Writer) (account.RunResult, error) {
		attempts++
		return account.RunResult{}, errors.New("fail")
	})

	r := WithRetry(inner, RetryConfig{MaxAttempts: 5, Backoff: time.Millisecond, ProbeAddr: "host:1"}, logx.Nop())
	r.dial = func(network, addr string, timeout time.Duration) (net.Conn, error) {
		return nil, errors.New("no route")
	}

	_, err := r.Run(context.Background(), Request{}, nil)
	require.Error(t, err)
	require.Equal(t, 1, attempts, "a dead network should not burn the attempt budget")
}

func TestRetryHonorsContext(t *testing.T) {
	inner := Func(func(ctx context.Context, req Request, w io.Writer) (account.RunResult, error) {
		return account.RunResult{}, errors.New("fail")
	})
	r := WithRetry(inner, RetryConfig{MaxAttempts: 10, Backoff: time.Hour}, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, Request{}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResultScanner(t *testing.T) {
	s := newResultScanner()

	// Output arrives in arbitrary chunks; only the last RESULT line counts.
	chunks := []string{
		"Loop ke-1\nLoop ke-2\nRES",
		"ULT {\"completed\":5,\"total\":30}\nmore noise\n",
		`RESULT {"completed":30,"total":30,"balance":370624}`,
	}
	for _, c := range chunks {
		n, err := s.Write([]byte(c))
		require.NoError(t, err)
		require.Equal(t, len(c), n)
	}

	res, ok := s.result()
	require.True(t, ok)
	require.Equal(t, 30, res.Completed)
	require.Equal(t, 370624.0, res.Balance)
}

func TestResultScannerNoResult(t *testing.T) {
	s := newResultScanner()
	_, _ = s.Write([]byte("just logs\nnothing terminal\n"))
	_, ok := s.result()
	require.False(t, ok)
}
