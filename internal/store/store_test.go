package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"runbot/internal/account"
	"runbot/internal/secret"
	logx "runbot/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cipher, err := secret.LoadOrCreate(filepath.Join(dir, "secret.key"))
	require.NoError(t, err)
	s, err := Open(Config{Path: filepath.Join(dir, "accounts.json")}, cipher, logx.Nop())
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Store, accounts ...account.Account) {
	t.Helper()
	require.NoError(t, s.AtomicUpdate(func([]account.Account) []account.Account {
		return accounts
	}))
}

func TestLoadMissingFile(t *testing.T) {
	s := newTestStore(t)
	require.Empty(t, s.Load())
}

func TestLoadCorruptFile(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, []byte("{not json"), 0o600))
	require.Empty(t, s.Load(), "corrupt table degrades to empty, never panics")
}

func TestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, account.Account{ID: "62812", Credentials: "pw", Tier: "E2", Schedule: "08:30"})

	got := s.Load()
	require.Len(t, got, 1)
	require.Equal(t, "62812", got[0].ID)
	require.Equal(t, "08:30", got[0].Schedule)
}

func TestCredentialsEncryptedAtRest(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, account.Account{ID: "62812", Credentials: "plaintext-pw"})

	raw, err := os.ReadFile(s.path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "plaintext-pw")

	got := s.Load()
	require.True(t, secret.IsEncrypted(got[0].Credentials))
	require.Equal(t, "plaintext-pw", s.cipher.Decrypt(got[0].Credentials))
}

func TestUnknownFieldsTolerated(t *testing.T) {
	s := newTestStore(t)
	blob := `[{"phone":"62812","password":"pw","future_field":{"a":1}}]`
	require.NoError(t, os.WriteFile(s.path, []byte(blob), 0o600))

	got := s.Load()
	require.Len(t, got, 1)
	require.Equal(t, "62812", got[0].ID)
}

func TestBackupRotation(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 8; i++ {
		seed(t, s, account.Account{ID: fmt.Sprintf("628%d", i)})
	}

	for i := 1; i <= defaultBackupDepth; i++ {
		_, err := os.Stat(fmt.Sprintf("%s.bak.%d", s.path, i))
		require.NoError(t, err, "backup depth %d should exist", i)
	}
	_, err := os.Stat(fmt.Sprintf("%s.bak.%d", s.path, defaultBackupDepth+1))
	require.True(t, os.IsNotExist(err), "rotation must stay bounded")
}

func TestAtomicUpdateIsolation(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, account.Account{ID: "62812"})

	// Many concurrent writers each append a day of progress; the final
	// table must reflect every update, not a splice of partial writes.
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			date := fmt.Sprintf("2025-11-%02d", n+1)
			_ = s.AtomicUpdate(func(accounts []account.Account) []account.Account {
				for j := range accounts {
					if accounts[j].ID == "62812" {
						accounts[j].MergeProgress(date, account.RunResult{Completed: n, Total: 30})
					}
				}
				return accounts
			})
		}(i)
	}
	wg.Wait()

	got := s.Load()
	require.Len(t, got, 1)
	require.Len(t, got[0].DailyProgress, writers)

	// And the file itself must be one complete JSON document.
	raw, err := os.ReadFile(s.path)
	require.NoError(t, err)
	var check []account.Account
	require.NoError(t, json.Unmarshal(raw, &check))
}

func TestTryAcquireLease(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, account.Account{ID: "62812"})
	now := time.Now()

	a, ok, err := s.TryAcquireLease("", "62812", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, a.LeaseHeld(now))

	_, ok, err = s.TryAcquireLease("", "62812", now.Add(time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second acquire while held must fail")

	// After expiry, the lease is acquirable again with no explicit release.
	_, ok, err = s.TryAcquireLease("", "62812", now.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.TryAcquireLease("", "unknown", now, 5*time.Minute)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMergeResultReleasesLease(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, account.Account{ID: "62812"})
	now := time.Now()

	_, ok, err := s.TryAcquireLease("", "62812", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	date := account.DateKey(now)
	require.NoError(t, s.MergeResult("", "62812", date, account.RunResult{Completed: 30, Total: 30}))

	got, found := s.Get("", "62812")
	require.True(t, found)
	require.False(t, got.LeaseHeld(now))
	require.Equal(t, 30, got.DailyProgress[date].Completed)
	require.Equal(t, 100, got.DailyProgress[date].Percentage)
}

func TestOwnersIsolated(t *testing.T) {
	s := newTestStore(t)
	seed(t, s,
		account.Account{ID: "62812", Owner: "alpha"},
		account.Account{ID: "62812", Owner: "beta"},
	)
	now := time.Now()

	_, ok, err := s.TryAcquireLease("alpha", "62812", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Same id under a different owner is a distinct entity.
	_, ok, err = s.TryAcquireLease("beta", "62812", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
