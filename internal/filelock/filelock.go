// Package filelock provides advisory cross-process file locking with a
// bounded-retry acquisition loop.
//
// No library in the retrieval pack wraps flock; this is a direct
// syscall.Flock wrapper, justified in DESIGN.md.
package filelock

import (
	"fmt"
	"math/rand/v2"
	"os"
	"syscall"
	"time"
)

// Lock represents an acquired advisory lock on a file descriptor.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if necessary) the file at path and takes an
// exclusive advisory lock on it, retrying up to attempts times with a
// randomized delay in [minDelay, maxDelay) between tries. It returns an
// error if the lock could not be acquired within the retry budget.
func Acquire(path string, attempts int, minDelay, maxDelay time.Duration) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(jitter(minDelay, maxDelay))
		}

		lastErr = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if lastErr == nil {
			return &Lock{f: f}, nil
		}
	}

	f.Close()
	return nil, fmt.Errorf("acquire lock %s after %d attempts: %w", path, attempts, lastErr)
}

// AcquireShared is like Acquire but takes a shared (read) lock.
func AcquireShared(path string, attempts int, minDelay, maxDelay time.Duration) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(jitter(minDelay, maxDelay))
		}

		lastErr = syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB)
		if lastErr == nil {
			return &Lock{f: f}, nil
		}
	}

	f.Close()
	return nil, fmt.Errorf("acquire shared lock %s after %d attempts: %w", path, attempts, lastErr)
}

// Release unlocks and closes the underlying file descriptor.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}
