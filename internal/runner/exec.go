package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"runbot/internal/account"
	logx "runbot/pkg/logx"
)

// resultPrefix marks the terminal line the automation CLI prints on success.
const resultPrefix = "RESULT "

// ExecConfig configures the subprocess adapter.
type ExecConfig struct {
	// Binary is the automation CLI path (e.g. "mba-automation").
	Binary string
	// ExtraArgs are prepended to every invocation.
	ExtraArgs []string
}

// ExecAdapter runs the external automation CLI as a child process. The CLI
// owns browser/session handling and its own internal timeouts; this side
// only passes parameters, streams output, and parses the final result line.
type ExecAdapter struct {
	cfg ExecConfig
	log logx.Logger
}

func NewExecAdapter(cfg ExecConfig, log logx.Logger) (*ExecAdapter, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		return nil, errors.New("runner.binary is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExecAdapter{cfg: cfg, log: log}, nil
}

func (a *ExecAdapter) Run(ctx context.Context, req Request, logSink io.Writer) (account.RunResult, error) {
	args := append([]string(nil), a.cfg.ExtraArgs...)
	args = append(args,
		"--phone", req.Phone,
		"--password", req.Password,
		"--iterations", strconv.Itoa(req.Iterations),
	)
	if req.TimeoutSeconds > 0 {
		args = append(args, "--timeout", strconv.Itoa(req.TimeoutSeconds))
	}
	if req.Viewport != "" {
		args = append(args, "--viewport", req.Viewport)
	}
	if req.ReviewText != "" {
		args = append(args, "--review", req.ReviewText)
	}
	if req.Headless {
		args = append(args, "--headless")
	}
	if req.SyncOnly {
		args = append(args, "--sync-only")
	}

	cmd := exec.CommandContext(ctx, a.cfg.Binary, args...)

	scan := newResultScanner()
	out := io.Writer(scan)
	if logSink != nil {
		out = io.MultiWriter(logSink, scan)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	a.log.Debug("runner starting", logx.String("account", req.AccountID), logx.Bool("headless", req.Headless))

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return account.RunResult{}, fmt.Errorf("runner aborted: %w", ctx.Err())
		}
		return account.RunResult{}, fmt.Errorf("runner exited: %w", err)
	}

	res, ok := scan.result()
	if !ok {
		return account.RunResult{}, errors.New("runner produced no result line")
	}
	a.log.Debug("runner finished",
		logx.String("account", req.AccountID),
		logx.Int("completed", res.Completed),
		logx.Int("total", res.Total),
		logx.Duration("took", time.Since(start)))
	return res, nil
}

// resultScanner watches the output stream for the last RESULT line while
// passing everything through. It buffers only the current partial line.
type resultScanner struct {
	mu      sync.Mutex
	partial bytes.Buffer
	last    string
}

func newResultScanner() *resultScanner { return &resultScanner{} }

func (s *resultScanner) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			s.partial.Write(p)
			break
		}
		s.partial.Write(p[:i])
		s.flushLineLocked()
		p = p[i+1:]
	}
	return n, nil
}

func (s *resultScanner) flushLineLocked() {
	line := strings.TrimSpace(s.partial.String())
	s.partial.Reset()
	if strings.HasPrefix(line, resultPrefix) {
		s.last = strings.TrimSpace(line[len(resultPrefix):])
	}
}

func (s *resultScanner) result() (account.RunResult, bool) {
	s.mu.Lock()
	s.flushLineLocked()
	last := s.last
	s.mu.Unlock()

	if last == "" {
		return account.RunResult{}, false
	}
	var r account.RunResult
	if err := json.Unmarshal([]byte(last), &r); err != nil {
		return account.RunResult{}, false
	}
	return r, true
}
