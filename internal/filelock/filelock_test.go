package filelock

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	l, err := Acquire(path, 3, time.Millisecond, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Should be acquirable again after release.
	l2, err := Acquire(path, 3, time.Millisecond, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	l2.Release()
}

func TestAcquireContendedFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	l1, err := Acquire(path, 3, time.Millisecond, 2*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l1.Release()

	if _, err := Acquire(path, 3, time.Millisecond, 2*time.Millisecond); err == nil {
		t.Fatal("expected second exclusive Acquire to fail while first is held")
	}
}
