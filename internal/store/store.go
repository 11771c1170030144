// Package store owns Account persistence: a JSON table on disk behind a
// single exclusive lock. Every mutation goes through AtomicUpdate, so
// concurrent writers never interleave and readers never observe a partial
// table.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"runbot/internal/account"
	"runbot/internal/secret"
	logx "runbot/pkg/logx"
)

const defaultBackupDepth = 5

var ErrNotFound = errors.New("account not found")

type Config struct {
	// Path is the account table location (e.g. ./data/accounts.json).
	Path string
	// BackupDepth is how many rotating pre-write snapshots to keep.
	BackupDepth int
}

// Store is the sole writer of account truth.
type Store struct {
	log    logx.Logger
	cipher *secret.Cipher

	mu          sync.Mutex
	path        string
	backupDepth int
}

func Open(cfg Config, cipher *secret.Cipher, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	depth := cfg.BackupDepth
	if depth <= 0 {
		depth = defaultBackupDepth
	}
	return &Store{log: log, cipher: cipher, path: path, backupDepth: depth}, nil
}

// Load returns the current account table. A missing, corrupt, or unreadable
// backing file yields an empty table so a cold start never wedges; the
// problem is logged, not raised.
func (s *Store) Load() []account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() []account.Account {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("account table unreadable, starting empty", logx.String("path", s.path), logx.Err(err))
		}
		return nil
	}
	var accounts []account.Account
	if err := json.Unmarshal(b, &accounts); err != nil {
		s.log.Warn("account table corrupt, starting empty", logx.String("path", s.path), logx.Err(err))
		return nil
	}
	return accounts
}

// AtomicUpdate applies fn to the whole table under the exclusive lock and
// persists the result. fn receives a fresh decode of the table and returns
// the replacement; the read-modify-write cycle never interleaves with other
// callers. A best-effort backup is rotated before the write. Write failures
// are logged and surfaced to the caller; the caller's in-memory result is
// not lost and the persist may be retried independently.
func (s *Store) AtomicUpdate(fn func(accounts []account.Account) []account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := fn(s.loadLocked())
	return s.writeLocked(accounts)
}

func (s *Store) writeLocked(accounts []account.Account) error {
	// Secrets are re-encrypted on the way out; the persisted copy never
	// holds plaintext credentials.
	if s.cipher != nil {
		for i := range accounts {
			enc, err := s.cipher.Encrypt(accounts[i].Credentials)
			if err != nil {
				s.log.Warn("credential encrypt failed, keeping stored form",
					logx.String("account", accounts[i].ID), logx.Err(err))
				continue
			}
			accounts[i].Credentials = enc
		}
	}

	s.rotateBackupsLocked()

	b, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		s.log.Error("account table encode failed", logx.Err(err))
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		s.log.Error("account table write failed", logx.String("path", tmp), logx.Err(err))
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Error("account table rename failed", logx.String("path", s.path), logx.Err(err))
		return err
	}
	return nil
}

// rotateBackupsLocked snapshots the current table before a write.
// Failure here must never block the write itself.
func (s *Store) rotateBackupsLocked() {
	if _, err := os.Stat(s.path); err != nil {
		return
	}
	for i := s.backupDepth - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.bak.%d", s.path, i)
		to := fmt.Sprintf("%s.bak.%d", s.path, i+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Debug("backup snapshot skipped", logx.Err(err))
		return
	}
	if err := os.WriteFile(s.path+".bak.1", b, 0o600); err != nil {
		s.log.Debug("backup snapshot failed", logx.Err(err))
	}
}

// Get returns one account by owner-scoped key.
func (s *Store) Get(owner, id string) (account.Account, bool) {
	for _, a := range s.Load() {
		if a.ID == id && a.Owner == owner {
			return a, true
		}
	}
	return account.Account{}, false
}

// TryAcquireLease marks a run in flight for the account, failing when an
// unexpired lease is already held. The returned account carries the new
// lease. This is the serialization point guaranteeing at most one active
// runner invocation per account.
func (s *Store) TryAcquireLease(owner, id string, now time.Time, ttl time.Duration) (account.Account, bool, error) {
	var (
		acquired bool
		found    bool
		snap     account.Account
	)
	err := s.AtomicUpdate(func(accounts []account.Account) []account.Account {
		for i := range accounts {
			a := &accounts[i]
			if a.ID != id || a.Owner != owner {
				continue
			}
			found = true
			if a.LeaseHeld(now) {
				snap = *a
				return accounts
			}
			a.AcquireLease(now, ttl)
			acquired = true
			snap = *a
			return accounts
		}
		return accounts
	})
	if err != nil {
		return account.Account{}, false, err
	}
	if !found {
		return account.Account{}, false, ErrNotFound
	}
	return snap, acquired, nil
}

// ReleaseLease clears the account's lease. Releasing an expired or absent
// lease is a no-op, not an error.
func (s *Store) ReleaseLease(owner, id string) error {
	return s.AtomicUpdate(func(accounts []account.Account) []account.Account {
		for i := range accounts {
			if accounts[i].ID == id && accounts[i].Owner == owner {
				accounts[i].ReleaseLease()
				break
			}
		}
		return accounts
	})
}

// MergeResult folds a run result into the account's progress for the given
// date and releases the lease in the same write.
func (s *Store) MergeResult(owner, id, date string, r account.RunResult) error {
	return s.AtomicUpdate(func(accounts []account.Account) []account.Account {
		for i := range accounts {
			if accounts[i].ID == id && accounts[i].Owner == owner {
				accounts[i].MergeProgress(date, r)
				accounts[i].ReleaseLease()
				break
			}
		}
		return accounts
	})
}
