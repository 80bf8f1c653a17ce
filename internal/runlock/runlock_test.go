package runlock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireExclusive(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	if _, err := Acquire(dir); !errors.Is(err, ErrHeld) {
		t.Errorf("Expected ErrHeld on second acquire, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to re-acquire after release: %v", err)
	}
	if err := again.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock in new directory: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, ".docpipe.lock") {
		t.Errorf("Unexpected lock path %s", lock.Path())
	}
}
