package cache

import (
	"context"
	"sync"
)

// PendingSet marks document ids whose cached lineage must not be served or
// written while a mutation is in flight. A marked id forces Get callers to
// treat the cache as empty and Set callers to drop the write until Release.
//
// The set has its own lock, held across the whole multi-record flush so a
// concurrent reader never observes a partially marked set.
type PendingSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewPendingSet returns an empty set.
func NewPendingSet() *PendingSet {
	return &PendingSet{ids: make(map[string]struct{})}
}

// MarkAndFlush adds every id to the set and deletes each id's key from the
// backend under one critical section. Backend delete errors do not abort the
// marking; the first error is returned after all ids are processed, since the
// pending mark alone already guarantees readers see a miss.
func (p *PendingSet) MarkAndFlush(ctx context.Context, backend Backend, keyFor func(string) string, ids ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		p.ids[id] = struct{}{}
		if backend == nil {
			continue
		}
		if err := backend.Delete(ctx, keyFor(id)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Release removes the ids from the set.
func (p *PendingSet) Release(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.ids, id)
	}
}

// Contains reports whether id is pending invalidation.
func (p *PendingSet) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.ids[id]
	return ok
}

// Len reports how many ids are pending.
func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}
