package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common registry conditions
var (
	// ErrNotFound indicates the requested schema does not exist
	ErrNotFound = errors.New("schema not found")

	// ErrConflict indicates the (name, version) pair is already registered
	ErrConflict = errors.New("schema version already registered")

	// ErrInvalidSchema indicates a structurally invalid schema definition
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrMissingRef indicates a schema_ref field without a ref_schema name
	ErrMissingRef = errors.New("schema_ref field missing ref_schema")

	// ErrCycle indicates a dependency cycle would be created
	ErrCycle = errors.New("schema dependency cycle detected")

	// ErrValidation indicates a document violates its schema's constraints
	ErrValidation = errors.New("schema validation failed")
)

// CycleError reports the dependency path that would close a cycle.
// It unwraps to ErrCycle so errors.Is works across the call chain.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cannot register schema: would create a dependency cycle (%s)",
		strings.Join(e.Path, " → "))
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
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

// IsMissingRef checks if an error is or wraps ErrMissingRef
func IsMissingRef(err error) bool {
	return errors.Is(err, ErrMissingRef)
}
