package vectorindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/docpipe/docpipe/internal/types"
)

type fakeUpserter struct {
	calls    int
	failFirst  int // fail the first N calls with ErrUnavailable
	itemErrs []ItemError
	lastIDs  []string
}

func (f *fakeUpserter) UpsertBatch(_ context.Context, docs []map[string]interface{}, vectors [][]float32, ids []string) (int, []ItemError, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return 0, nil, fmt.Errorf("%w: connection refused", ErrUnavailable)
	}
	f.lastIDs = ids
	return len(ids) - len(f.itemErrs), f.itemErrs, nil
}

type fakeSteps struct {
	steps map[string][]types.ProcessingStep
}

func newFakeSteps() *fakeSteps {
	return &fakeSteps{steps: make(map[string][]types.ProcessingStep)}
}

func (f *fakeSteps) RecordStep(_ context.Context, id string, step types.ProcessingStep) error {
	f.steps[id] = append(f.steps[id], step)
	return nil
}

func embeddedDoc(id string) *types.Document {
	return &types.Document{
		ID:      id,
		Content: types.Content{Body: "body of " + id},
		Embeddings: types.Embeddings{
			Body:    []float32{0.1, 0.2, 0.3},
			Model:   "test",
			Version: types.EmbeddingVersion,
		},
	}
}

func lastStep(t *testing.T, steps *fakeSteps, id string) types.ProcessingStep {
	t.Helper()
	recorded := steps.steps[id]
	if len(recorded) == 0 {
		t.Fatalf("Expected a step for %s", id)
	}
	return recorded[len(recorded)-1]
}

func TestIndexerUpsertsEligibleDocuments(t *testing.T) {
	upserter := &fakeUpserter{}
	steps := newFakeSteps()
	ix := NewIndexer(upserter, IndexerOptions{Steps: steps, MaxRetries: 2})

	batch := []*types.Document{embeddedDoc("d-1"), embeddedDoc("d-2")}
	out, err := ix.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 2 {
		t.Errorf("Expected batch passed through, got %d docs", len(out))
	}
	if len(upserter.lastIDs) != 2 {
		t.Errorf("Expected 2 upserted ids, got %v", upserter.lastIDs)
	}
	for _, id := range []string{"d-1", "d-2"} {
		step := lastStep(t, steps, id)
		if step.Status != types.StepSuccess {
			t.Errorf("%s: expected success step, got %s", id, step.Status)
		}
		if step.StepName != types.StageIndex {
			t.Errorf("%s: expected index step name, got %s", id, step.StepName)
		}
	}
}

func TestIndexerSkipsFailedEmbeddings(t *testing.T) {
	upserter := &fakeUpserter{}
	steps := newFakeSteps()
	ix := NewIndexer(upserter, IndexerOptions{Steps: steps})

	failed := embeddedDoc("d-2")
	failed.Embeddings.Version = types.EmbeddingVersionFailed
	failed.Embeddings.Error = "model unreachable"
	empty := &types.Document{ID: "d-3", Content: types.Content{Body: "no vector"}}

	batch := []*types.Document{embeddedDoc("d-1"), failed, empty}
	if _, err := ix.Process(context.Background(), batch); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(upserter.lastIDs) != 1 || upserter.lastIDs[0] != "d-1" {
		t.Errorf("Expected only d-1 upserted, got %v", upserter.lastIDs)
	}
	for _, id := range []string{"d-2", "d-3"} {
		step := lastStep(t, steps, id)
		if step.Status != types.StepSkipped {
			t.Errorf("%s: expected skipped step, got %s", id, step.Status)
		}
	}
}

func TestIndexerRetriesTransientFailure(t *testing.T) {
	upserter := &fakeUpserter{failFirst: 2}
	steps := newFakeSteps()
	ix := NewIndexer(upserter, IndexerOptions{Steps: steps, MaxRetries: 3})

	batch := []*types.Document{embeddedDoc("d-1")}
	if _, err := ix.Process(context.Background(), batch); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if upserter.calls != 3 {
		t.Errorf("Expected 3 attempts (2 failures + success), got %d", upserter.calls)
	}
	if step := lastStep(t, steps, "d-1"); step.Status != types.StepSuccess {
		t.Errorf("Expected success after retry, got %s", step.Status)
	}
}

func TestIndexerRecordsErrorsAfterExhaustedRetries(t *testing.T) {
	upserter := &fakeUpserter{failFirst: 10}
	steps := newFakeSteps()
	ix := NewIndexer(upserter, IndexerOptions{Steps: steps, MaxRetries: 2})

	batch := []*types.Document{embeddedDoc("d-1"), embeddedDoc("d-2")}
	out, err := ix.Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("Exhausted retries must not abort the run, got %v", err)
	}
	if len(out) != 2 {
		t.Errorf("Expected batch passed through, got %d", len(out))
	}
	if upserter.calls != 3 {
		t.Errorf("Expected initial attempt + 2 retries, got %d calls", upserter.calls)
	}
	for _, id := range []string{"d-1", "d-2"} {
		step := lastStep(t, steps, id)
		if step.Status != types.StepError {
			t.Errorf("%s: expected error step, got %s", id, step.Status)
		}
		if step.Error == "" {
			t.Errorf("%s: expected error message on step", id)
		}
	}
}

func TestIndexerRecordsPerItemRejections(t *testing.T) {
	upserter := &fakeUpserter{itemErrs: []ItemError{{ID: "d-2", Error: "dimension mismatch"}}}
	steps := newFakeSteps()
	ix := NewIndexer(upserter, IndexerOptions{Steps: steps})

	batch := []*types.Document{embeddedDoc("d-1"), embeddedDoc("d-2")}
	if _, err := ix.Process(context.Background(), batch); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if step := lastStep(t, steps, "d-1"); step.Status != types.StepSuccess {
		t.Errorf("d-1: expected success, got %s", step.Status)
	}
	step := lastStep(t, steps, "d-2")
	if step.Status != types.StepError {
		t.Errorf("d-2: expected error step, got %s", step.Status)
	}
	if step.Error != "dimension mismatch" {
		t.Errorf("d-2: expected rejection message, got %q", step.Error)
	}
}

func TestIndexerEmptyBatch(t *testing.T) {
	upserter := &fakeUpserter{}
	ix := NewIndexer(upserter, IndexerOptions{})

	out, err := ix.Process(context.Background(), nil)
	if err != nil || len(out) != 0 {
		t.Errorf("Expected empty pass-through, got %v, %v", out, err)
	}
	if upserter.calls != 0 {
		t.Errorf("Expected no upsert calls, got %d", upserter.calls)
	}
}
