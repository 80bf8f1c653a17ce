package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/cache"
	"github.com/docpipe/docpipe/internal/types"
)

// Manager layers the cache on a Store and enforces the invalidation
// protocol: before a mutation is visible, the cached payloads of every
// touched record are flushed and their ids marked pending, so concurrent
// readers see empty rather than stale.
//
// Get returns (nil, nil) while the id is pending invalidation, (record, nil)
// on a hit, and ErrNotFound when no record exists.
type Manager struct {
	store   Store
	backend cache.Backend // nil disables caching
	pending *cache.PendingSet
	ttl     time.Duration
	logger  *zap.Logger

	// mu serialises mutations and the cache-miss populate path. A populate
	// therefore runs entirely before or entirely after any mutation, so a
	// stale payload can never be written back after its keys were flushed.
	mu sync.Mutex
}

// NewManager wires a store to a cache backend. A nil backend disables
// caching; the manager then passes straight through to the store.
func NewManager(store Store, backend cache.Backend, ttl time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		backend: backend,
		pending: cache.NewPendingSet(),
		ttl:     ttl,
		logger:  logger,
	}
}

func cacheKey(id string) string {
	return cache.Key(cache.NamespaceLineage, id)
}

// Get returns the record for id, reading through the cache.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	if m.pending.Contains(id) {
		return nil, nil
	}
	if m.backend != nil {
		if payload, err := m.backend.Get(ctx, cacheKey(id)); err != nil {
			m.logger.Debug("lineage cache read failed; falling back to store",
				zap.String("document_id", id), zap.Error(err))
		} else if payload != nil {
			var rec Record
			if err := json.Unmarshal(payload, &rec); err == nil {
				return &rec, nil
			}
			_ = m.backend.Delete(ctx, cacheKey(id))
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	m.populate(ctx, rec)
	return rec, nil
}

// populate writes a record back to the cache. Callers hold m.mu. Writes to
// ids pending invalidation are dropped.
func (m *Manager) populate(ctx context.Context, rec *Record) {
	if m.backend == nil || m.pending.Contains(rec.DocumentID) {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := m.backend.Set(ctx, cacheKey(rec.DocumentID), payload, m.ttl); err != nil {
		m.logger.Debug("lineage cache write failed",
			zap.String("document_id", rec.DocumentID), zap.Error(err))
	}
}

// invalidate marks ids pending and flushes their cached payloads. The
// returned release function clears the marks; callers defer it around the
// store mutation.
func (m *Manager) invalidate(ctx context.Context, ids []string) func() {
	if err := m.pending.MarkAndFlush(ctx, m.backend, cacheKey, ids...); err != nil {
		m.logger.Debug("lineage cache flush failed; pending marks still protect readers",
			zap.Strings("document_ids", ids), zap.Error(err))
	}
	return func() { m.pending.Release(ids...) }
}

// Create registers a new lineage record.
func (m *Manager) Create(ctx context.Context, id string, source *SourceInfo, parentID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	affected := []string{id}
	if parentID != "" {
		affected = append(affected, parentID)
	}
	release := m.invalidate(ctx, affected)
	defer release()

	return m.store.Create(ctx, id, source, parentID)
}

// Update appends a change and applies its relationship side effects.
func (m *Manager) Update(ctx context.Context, id string, kind ChangeKind, opts UpdateOptions) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	affected := append([]string{id}, opts.RelatedIDs...)
	release := m.invalidate(ctx, affected)
	defer release()

	return m.store.Update(ctx, id, kind, opts)
}

// Delete detaches the record from the graph and drops it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}

	affected := []string{id}
	if rec.ParentID != "" {
		affected = append(affected, rec.ParentID)
	}
	affected = append(affected, rec.ReferenceIDs...)
	affected = append(affected, rec.ReferencedByIDs...)
	release := m.invalidate(ctx, affected)
	defer release()

	return m.store.Delete(ctx, id)
}

// RecordStep appends a stage outcome to the document's step log.
func (m *Manager) RecordStep(ctx context.Context, id string, step types.ProcessingStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	release := m.invalidate(ctx, []string{id})
	defer release()

	_, err := m.store.AppendStep(ctx, id, step)
	return err
}

// History returns the changes for id with version > sinceVersion.
// Histories are not cached; reads go straight to the store.
func (m *Manager) History(ctx context.Context, id string, sinceVersion int) ([]Change, error) {
	return m.store.History(ctx, id, sinceVersion)
}

// List returns every record sorted by document id.
func (m *Manager) List(ctx context.Context) ([]*Record, error) {
	return m.store.List(ctx)
}

// Stats summarizes the store.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx)
}

// Store exposes the underlying store for export tooling.
func (m *Manager) Store() Store {
	return m.store
}
