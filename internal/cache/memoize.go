package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// Memoizer caches the results of expensive pure-ish calls (model requests,
// embeddings) keyed by (prefix, function name, hash of arguments).
type Memoizer struct {
	backend Backend
	prefix  string
	ttl     time.Duration
}

// NewMemoizer builds a memoizer over backend. A nil backend disables
// memoisation; Do then always computes.
func NewMemoizer(backend Backend, prefix string, ttl time.Duration) *Memoizer {
	return &Memoizer{backend: backend, prefix: prefix, ttl: ttl}
}

// Do returns the cached bytes for (fn, args) or computes, stores, and returns
// them. Cache errors degrade to computing: the caller never sees a cache
// failure, only a compute failure.
func (m *Memoizer) Do(ctx context.Context, fn string, args any, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if m == nil || m.backend == nil {
		return compute(ctx)
	}
	key := m.keyFor(fn, args)
	if cached, err := m.backend.Get(ctx, key); err == nil && cached != nil {
		return cached, nil
	}
	result, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	_ = m.backend.Set(ctx, key, result, m.ttl) // best effort
	return result, nil
}

func (m *Memoizer) keyFor(fn string, args any) string {
	h := sha256.New()
	if b, err := json.Marshal(args); err == nil {
		h.Write(b)
	}
	return Key(NamespaceMemo, m.prefix, fn, fmt.Sprintf("%x", h.Sum(nil)))
}

// Memoized wraps Do for JSON-serialisable result types.
func Memoized[T any](ctx context.Context, m *Memoizer, fn string, args any, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := m.Do(ctx, fn, args, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		// A poisoned cache entry must not fail the call.
		return compute(ctx)
	}
	return out, nil
}
