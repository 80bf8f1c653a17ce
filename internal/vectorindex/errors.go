package vectorindex

import "errors"

var (
	// ErrUnavailable reports a transport failure, a 5xx from the
	// index, or an open circuit breaker.
	ErrUnavailable = errors.New("vector index unavailable")

	// ErrIndexing reports a request the index rejected.
	ErrIndexing = errors.New("indexing failed")
)

// IsUnavailable reports whether err is a connectivity-class failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
