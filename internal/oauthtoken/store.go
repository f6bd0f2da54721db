// Package oauthtoken implements the Shared OAuth Token Store: a file-backed,
// cross-process-locked cache of an access token published by a sibling
// process (spec.md §4.1). It is read-mostly from this process's point of
// view — we never mutate the token, only delete it once it goes stale.
package oauthtoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rakunlabs/ccr/internal/filelock"
)

const (
	lockAttempts = 3
	lockMinDelay = 50 * time.Millisecond
	lockMaxDelay = 200 * time.Millisecond

	staleAge = 5 * time.Minute
)

// Token is the JSON shape a peer process writes to the shared token file.
type Token struct {
	Token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresAt   int64  `json:"expires_at,omitempty"`
	} `json:"token"`
	TimestampMs int64  `json:"timestamp_ms"`
	Source      string `json:"source,omitempty"`
}

// Store reads, writes (Put) and deletes the shared token file. The request
// path of this process only reads it via Get, and deletes it once stale.
type Store struct {
	path     string
	lockPath string
}

// New returns a Store rooted at dir (typically "~/.<app>").
func New(dir string) *Store {
	return &Store{
		path:     filepath.Join(dir, "shared-oauth-token.json"),
		lockPath: filepath.Join(dir, "oauth.lock"),
	}
}

// Get returns the current shared token, or ok=false if absent, unreadable,
// stale, or the lock could not be acquired. Get never returns an error to
// the caller — every failure mode degrades to "no token" (fail-closed).
func (s *Store) Get() (tok Token, ok bool) {
	lock, err := filelock.AcquireShared(s.lockPath, lockAttempts, lockMinDelay, lockMaxDelay)
	if err != nil {
		slog.Debug("shared oauth token: lock unavailable, treating as absent", "error", err)
		return Token{}, false
	}
	defer lock.Release()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("shared oauth token: read failed", "error", err)
		}
		return Token{}, false
	}

	if err := enforceMode0600(s.path); err != nil {
		slog.Warn("shared oauth token: file mode could not be enforced, rejecting", "error", err)
		s.unlinkLocked()
		return Token{}, false
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		slog.Debug("shared oauth token: malformed JSON, clearing", "error", err)
		s.unlinkLocked()
		return Token{}, false
	}

	if isStale(t) {
		s.unlinkLocked()
		return Token{}, false
	}

	return t, true
}

// Put writes tok to the shared token file, creating the parent directory
// (mode 0700) and the file itself (mode 0600) if needed. The write happens
// under the same advisory lock used by Get/Clear.
func (s *Store) Put(tok Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	lock, err := filelock.Acquire(s.lockPath, lockAttempts, lockMinDelay, lockMaxDelay)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Release()

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}

	return nil
}

// Clear removes the shared token file. A missing file is treated as success.
func (s *Store) Clear() error {
	lock, err := filelock.Acquire(s.lockPath, lockAttempts, lockMinDelay, lockMaxDelay)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer lock.Release()

	return unlink(s.path)
}

// unlinkLocked removes the stale token file. Errors are logged, not
// propagated — staleness deletion is best-effort cleanup.
func (s *Store) unlinkLocked() {
	if err := unlink(s.path); err != nil {
		slog.Debug("shared oauth token: cleanup unlink failed", "error", err)
	}
}

func unlink(path string) error {
	err := os.Remove(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func isStale(t Token) bool {
	if t.Token.AccessToken == "" {
		return true
	}
	age := time.Since(time.UnixMilli(t.TimestampMs))
	if age > staleAge {
		return true
	}
	if t.Token.ExpiresAt != 0 && t.Token.ExpiresAt <= time.Now().UnixMilli() {
		return true
	}
	return false
}

func enforceMode0600(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return err
		}
	}
	return nil
}
