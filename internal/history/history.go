// Package history persists run outcomes: one record per terminal job,
// success or failure. It answers "what happened lately" for operators and
// feeds nothing back into scheduling decisions.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "runbot/pkg/logx"
)

var ErrDisabled = errors.New("history disabled")

// Config configures the history store.
//
// Driver values:
//   - "file": append-only JSON Lines (default)
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one terminal job outcome. Keep it compact and schema-stable.
type Record struct {
	At        time.Time `json:"at"`
	JobID     string    `json:"job_id"`
	Owner     string    `json:"owner,omitempty"`
	AccountID string    `json:"account"`
	Mode      string    `json:"mode"`
	Trigger   string    `json:"trigger"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
	LogPath   string    `json:"log_path,omitempty"`
}

// Store is the minimal persistence API used by the worker pool.
type Store interface {
	Append(ctx context.Context, r Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Prune(ctx context.Context, olderThan time.Time) (removed int, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
