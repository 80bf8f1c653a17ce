package lineage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/docpipe/docpipe/internal/types"
)

// DefaultMaxDepth bounds the cycle-check traversal.
const DefaultMaxDepth = 10000

// MemoryStore keeps lineage records in process memory. One writer mutates at
// a time under the store lock; multi-record side effects are applied inside
// the same critical section so partial application is never observable.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	maxDepth int
}

// NewMemoryStore returns an empty store with the default cycle-check bound.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*Record),
		maxDepth: DefaultMaxDepth,
	}
}

// SetMaxDepth overrides the cycle-check traversal bound.
func (m *MemoryStore) SetMaxDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if depth > 0 {
		m.maxDepth = depth
	}
}

func (m *MemoryStore) Create(_ context.Context, id string, source *SourceInfo, parentID string) (*Record, error) {
	if id == "" {
		return nil, wrapErr("create", ErrInvalidID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; exists {
		return nil, fmt.Errorf("create %s: %w", id, ErrConflict)
	}
	var parent *Record
	if parentID != "" {
		parent = m.records[parentID]
		if parent == nil {
			return nil, fmt.Errorf("create %s: parent %s: %w", id, parentID, ErrNotFound)
		}
	}

	rec := &Record{
		DocumentID: id,
		Source:     source.clone(),
		ParentID:   parentID,
	}
	rec.appendChange(KindCreated, source.clone(), nil, nil)
	m.records[id] = rec

	if parent != nil {
		parent.ChildrenIDs, _ = insertSorted(parent.ChildrenIDs, id)
		parent.appendChange(KindProcessed, nil, map[string]any{metaChildDocument: id}, []string{id})
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, kind ChangeKind, opts UpdateOptions) (*Record, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("update %s: invalid change kind %q", id, kind)
	}
	if kind == KindCreated || kind == KindDeleted {
		return nil, fmt.Errorf("update %s: kind %q is reserved for create/delete", id, kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}

	// Side effects touch related records in ascending id order so two
	// concurrent logical operations touch records in a stable order.
	related := append([]string(nil), opts.RelatedIDs...)
	sort.Strings(related)

	switch kind {
	case KindReferenced:
		for _, r := range related {
			if _, ok := m.records[r]; !ok {
				return nil, fmt.Errorf("update %s: reference %s: %w", id, r, ErrNotFound)
			}
		}
		// Reject the whole mutation before any state changes.
		if err := m.checkCycleLocked(id, related); err != nil {
			return nil, err
		}
		for _, r := range related {
			target := m.records[r]
			rec.ReferenceIDs, _ = insertSorted(rec.ReferenceIDs, r)
			if set, changed := insertSorted(target.ReferencedByIDs, id); changed {
				target.ReferencedByIDs = set
				target.appendChange(KindReferenced, nil, map[string]any{metaReferencedBy: id}, []string{id})
			}
		}
	case KindDereferenced:
		for _, r := range related {
			target, ok := m.records[r]
			if !ok {
				continue // already gone; removal is idempotent
			}
			rec.ReferenceIDs, _ = removeString(rec.ReferenceIDs, r)
			if set, changed := removeString(target.ReferencedByIDs, id); changed {
				target.ReferencedByIDs = set
				target.appendChange(KindDereferenced, nil, map[string]any{metaDereferencedBy: id}, []string{id})
			}
		}
	}

	rec.appendChange(kind, opts.Source.clone(), opts.Metadata, opts.RelatedIDs)
	return rec.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}

	if rec.ParentID != "" {
		if parent, ok := m.records[rec.ParentID]; ok {
			if set, changed := removeString(parent.ChildrenIDs, id); changed {
				parent.ChildrenIDs = set
				parent.appendChange(KindProcessed, nil, map[string]any{metaRemovedChild: id}, []string{id})
			}
		}
	}
	for _, r := range rec.ReferenceIDs {
		if target, ok := m.records[r]; ok {
			if set, changed := removeString(target.ReferencedByIDs, id); changed {
				target.ReferencedByIDs = set
				target.appendChange(KindDereferenced, nil, map[string]any{metaDereferencedBy: id}, []string{id})
			}
		}
	}
	for _, s := range rec.ReferencedByIDs {
		if referrer, ok := m.records[s]; ok {
			if set, changed := removeString(referrer.ReferenceIDs, id); changed {
				referrer.ReferenceIDs = set
				referrer.appendChange(KindDereferenced, nil, map[string]any{metaDereferencedBy: id}, []string{id})
			}
		}
	}

	rec.appendChange(KindDeleted, nil, nil, nil)
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *MemoryStore) History(_ context.Context, id string, sinceVersion int) ([]Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("history %s: %w", id, ErrNotFound)
	}
	out := make([]Change, 0, len(rec.History))
	for _, c := range rec.History {
		if c.Version > sinceVersion {
			out = append(out, c.clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendStep(_ context.Context, id string, step types.ProcessingStep) (*Record, error) {
	if !step.Status.IsTerminal() {
		return nil, fmt.Errorf("append step %s: status %q is not terminal", id, step.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("append step %s: %w", id, ErrNotFound)
	}
	rec.Steps = append(rec.Steps, step)
	return rec.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Records: len(m.records)}
	for _, rec := range m.records {
		s.TotalChanges += len(rec.History)
		s.TotalSteps += len(rec.Steps)
		s.Edges += len(rec.ReferenceIDs)
	}
	return s, nil
}
