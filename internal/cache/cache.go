// Package cache provides the shared caching layer: a backend contract with
// memory and Redis implementations, the pending-invalidation set used by the
// lineage manager, and a per-function memoizer.
//
// Backends are namespace-agnostic; callers build keys with Key. A miss is
// (nil, nil), never an error. Backend errors mean the cache is unavailable
// and callers degrade to uncached operation.
package cache

import (
	"context"
	"strings"
	"time"
)

// Backend is the storage contract shared by all cache namespaces.
// Get returns (nil, nil) when the key is absent, expired, or evicted.
// A ttl <= 0 on Set means the backend's configured default applies.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Logical namespaces sharing one backend.
const (
	NamespaceLineage = "lineage"
	NamespaceMemo    = "memo"
	NamespaceSchema  = "schema"
)

// Key joins namespace parts with ":".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
