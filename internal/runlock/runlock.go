// Package runlock guards the log directory so only one pipeline run
// writes to it at a time.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".docpipe.lock"

// ErrHeld reports that another run already holds the lock.
var ErrHeld = errors.New("pipeline run lock already held")

// Lock is an acquired exclusive lock on a log directory.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes a non-blocking exclusive lock under dir, creating the
// directory first if needed.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(dir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Release unlocks. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}
