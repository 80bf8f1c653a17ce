package lineage

import (
	"context"
	"testing"
	"time"

	"github.com/docpipe/docpipe/internal/cache"
	"github.com/docpipe/docpipe/internal/types"
)

// countingStore wraps a Store and counts Get calls so tests can observe
// whether a read was served from cache.
type countingStore struct {
	Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, id string) (*Record, error) {
	c.gets++
	return c.Store.Get(ctx, id)
}

// blockingStore holds Update until released, simulating a long mutation.
type blockingStore struct {
	Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Update(ctx context.Context, id string, kind ChangeKind, opts UpdateOptions) (*Record, error) {
	close(b.entered)
	<-b.release
	return b.Store.Update(ctx, id, kind, opts)
}

func newTestManager(t *testing.T) (*Manager, *countingStore) {
	t.Helper()
	backend, err := cache.NewMemory(64, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create cache backend: %v", err)
	}
	counting := &countingStore{Store: NewMemoryStore()}
	return NewManager(counting, backend, time.Hour, nil), counting
}

func TestManagerReadThrough(t *testing.T) {
	ctx := context.Background()
	mgr, counting := newTestManager(t)

	if _, err := mgr.Create(ctx, "a", nil, ""); err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	counting.gets = 0
	if _, err := mgr.Get(ctx, "a"); err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if counting.gets != 1 {
		t.Fatalf("Expected first get to hit the store, got %d store reads", counting.gets)
	}
	if _, err := mgr.Get(ctx, "a"); err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if counting.gets != 1 {
		t.Errorf("Expected second get to be served from cache, got %d store reads", counting.gets)
	}
}

func TestManagerGetNotFound(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	_, err := mgr.Get(ctx, "ghost")
	if !IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestInvalidationOnReferencedChange(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	for _, id := range []string{"A", "B"} {
		if _, err := mgr.Create(ctx, id, nil, ""); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}
	// Warm the cache for both records.
	a0, err := mgr.Get(ctx, "A")
	if err != nil {
		t.Fatalf("Failed to get A: %v", err)
	}
	b0, err := mgr.Get(ctx, "B")
	if err != nil {
		t.Fatalf("Failed to get B: %v", err)
	}

	if _, err := mgr.Update(ctx, "A", KindReferenced, UpdateOptions{RelatedIDs: []string{"B"}}); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	a1, err := mgr.Get(ctx, "A")
	if err != nil {
		t.Fatalf("Failed to get A after update: %v", err)
	}
	b1, err := mgr.Get(ctx, "B")
	if err != nil {
		t.Fatalf("Failed to get B after update: %v", err)
	}
	if a1.CurrentVersion != a0.CurrentVersion+1 {
		t.Errorf("Expected A at version %d, got %d", a0.CurrentVersion+1, a1.CurrentVersion)
	}
	if b1.CurrentVersion != b0.CurrentVersion+1 {
		t.Errorf("Expected B at version %d, got %d", b0.CurrentVersion+1, b1.CurrentVersion)
	}
}

func TestPendingReadsEmptyDuringMutation(t *testing.T) {
	ctx := context.Background()
	backend, err := cache.NewMemory(64, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create cache backend: %v", err)
	}
	inner := NewMemoryStore()
	blocking := &blockingStore{
		Store:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	mgr := NewManager(blocking, backend, time.Hour, nil)

	for _, id := range []string{"A", "B"} {
		if _, err := inner.Create(ctx, id, nil, ""); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := mgr.Update(ctx, "A", KindReferenced, UpdateOptions{RelatedIDs: []string{"B"}})
		done <- err
	}()

	<-blocking.entered // mutation in flight; A and B are marked pending

	for _, id := range []string{"A", "B"} {
		rec, err := mgr.Get(ctx, id)
		if err != nil {
			t.Errorf("Get(%s) during mutation returned error: %v", id, err)
		}
		if rec != nil {
			t.Errorf("Get(%s) during mutation should return empty, got version %d", id, rec.CurrentVersion)
		}
	}

	close(blocking.release)
	if err := <-done; err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	a, err := mgr.Get(ctx, "A")
	if err != nil {
		t.Fatalf("Failed to get A after mutation: %v", err)
	}
	if a.CurrentVersion != 2 {
		t.Errorf("Expected A at version 2 after mutation, got %d", a.CurrentVersion)
	}
}

func TestDeleteInvalidatesRelatedRecords(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	for _, id := range []string{"A", "B"} {
		if _, err := mgr.Create(ctx, id, nil, ""); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}
	if _, err := mgr.Update(ctx, "A", KindReferenced, UpdateOptions{RelatedIDs: []string{"B"}}); err != nil {
		t.Fatalf("Failed to reference A→B: %v", err)
	}
	// Cache A with the reference still present.
	if _, err := mgr.Get(ctx, "A"); err != nil {
		t.Fatalf("Failed to get A: %v", err)
	}

	if err := mgr.Delete(ctx, "B"); err != nil {
		t.Fatalf("Failed to delete B: %v", err)
	}

	a, err := mgr.Get(ctx, "A")
	if err != nil {
		t.Fatalf("Failed to get A after delete: %v", err)
	}
	if containsString(a.ReferenceIDs, "B") {
		t.Error("Cached record with a dangling reference was served after delete")
	}
}

func TestRecordStepInvalidates(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	if _, err := mgr.Create(ctx, "a", nil, ""); err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if _, err := mgr.Get(ctx, "a"); err != nil {
		t.Fatalf("Failed to get: %v", err)
	}

	step := types.NewStep(types.StageSummarize, types.StepSuccess)
	step.Metrics = map[string]float64{types.MetricDurationMS: 12}
	if err := mgr.RecordStep(ctx, "a", step); err != nil {
		t.Fatalf("Failed to record step: %v", err)
	}

	rec, err := mgr.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Failed to get after step: %v", err)
	}
	if len(rec.Steps) != 1 || rec.Steps[0].StepName != types.StageSummarize {
		t.Errorf("Expected recorded step on fresh read, got %+v", rec.Steps)
	}
}

func TestManagerWithoutBackend(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(NewMemoryStore(), nil, time.Hour, nil)

	if _, err := mgr.Create(ctx, "a", nil, ""); err != nil {
		t.Fatalf("Failed to create without cache: %v", err)
	}
	rec, err := mgr.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Failed to get without cache: %v", err)
	}
	if rec.DocumentID != "a" {
		t.Errorf("Expected record a, got %+v", rec)
	}
}
