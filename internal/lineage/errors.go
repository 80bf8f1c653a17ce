package lineage

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common lineage conditions
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidID indicates an ID format or validation error
	ErrInvalidID = errors.New("invalid ID")

	// ErrConflict indicates the record already exists
	ErrConflict = errors.New("conflict")

	// ErrCycle indicates a reference cycle would be created
	ErrCycle = errors.New("reference cycle detected")

	// ErrDepthExceeded indicates the cycle check hit the traversal bound
	ErrDepthExceeded = errors.New("reference chain exceeds depth limit")
)

// CycleError reports the exact reference path that would close a cycle.
// It unwraps to ErrCycle so errors.Is works across the call chain.
type CycleError struct {
	Path []string // e.g. ["C", "A", "B", "C"]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cannot add reference: would create a cycle (%s)", strings.Join(e.Path, " → "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// wrapErr wraps an error with operation context.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is or wraps ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsCycle checks if an error is or wraps ErrCycle
func IsCycle(err error) bool {
	return errors.Is(err, ErrCycle)
}
