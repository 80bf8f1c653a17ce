package embed

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docpipe/docpipe/internal/cache"
	"github.com/docpipe/docpipe/internal/types"
)

type fakeClient struct {
	mu     sync.Mutex
	calls  int
	failOn string    // fail any request whose texts contain this substring
	vector []float32 // response vector override; defaults to [1, 0]
	model  string
}

func (f *fakeClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	vec := f.vector
	if vec == nil {
		vec = []float32{1, 0}
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, errors.New("model unreachable")
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeClient) Model() string {
	if f.model != "" {
		return f.model
	}
	return "fake-model"
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSteps struct {
	mu    sync.Mutex
	steps map[string][]types.ProcessingStep
}

func newFakeSteps() *fakeSteps {
	return &fakeSteps{steps: make(map[string][]types.ProcessingStep)}
}

func (f *fakeSteps) RecordStep(ctx context.Context, id string, step types.ProcessingStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[id] = append(f.steps[id], step)
	return nil
}

func (f *fakeSteps) last(id string) (types.ProcessingStep, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recorded := f.steps[id]
	if len(recorded) == 0 {
		return types.ProcessingStep{}, false
	}
	return recorded[len(recorded)-1], true
}

func bodyDoc(id, body string) *types.Document {
	return &types.Document{ID: id, Content: types.Content{Body: body}}
}

func TestEmbedderFillsVectors(t *testing.T) {
	client := &fakeClient{}
	steps := newFakeSteps()
	e := New(client, Options{ChunkTokens: 4, Workers: 2, Steps: steps})

	doc := bodyDoc("d-1", "a short document body")
	out, err := e.Process(context.Background(), []*types.Document{doc})
	if err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Expected 1 document, got %d", len(out))
	}
	if doc.Embeddings.Version != types.EmbeddingVersion {
		t.Errorf("Expected version %s, got %s", types.EmbeddingVersion, doc.Embeddings.Version)
	}
	if doc.Embeddings.Model != "fake-model" {
		t.Errorf("Expected model recorded, got %q", doc.Embeddings.Model)
	}
	if len(doc.Embeddings.Body) != 2 {
		t.Fatalf("Expected body vector of dim 2, got %v", doc.Embeddings.Body)
	}
	if len(doc.Embeddings.Chunks) != 1 {
		t.Errorf("Expected 1 chunk vector, got %d", len(doc.Embeddings.Chunks))
	}
	step, ok := steps.last("d-1")
	if !ok || step.Status != types.StepSuccess {
		t.Errorf("Expected success step, got %+v", step)
	}
	if step.Metrics["chunks"] != 1 {
		t.Errorf("Expected chunks metric 1, got %v", step.Metrics["chunks"])
	}
}

func TestEmbedderEmbedsSummary(t *testing.T) {
	client := &fakeClient{}
	e := New(client, Options{ChunkTokens: 4, Steps: newFakeSteps()})

	doc := bodyDoc("d-1", "body text here")
	doc.Content.Summary = "a summary"
	if _, err := e.Process(context.Background(), []*types.Document{doc}); err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	if len(doc.Embeddings.Summary) == 0 {
		t.Error("Expected summary vector to be set")
	}
	if len(doc.Embeddings.Chunks) != 1 {
		t.Errorf("Summary must not appear in chunk vectors, got %d chunks", len(doc.Embeddings.Chunks))
	}
}

func TestEmbedderFailureMarksDocument(t *testing.T) {
	client := &fakeClient{failOn: "poison"}
	steps := newFakeSteps()
	e := New(client, Options{ChunkTokens: 64, Steps: steps})

	doc := bodyDoc("d-1", "poison text")
	out, err := e.Process(context.Background(), []*types.Document{doc})
	if err != nil {
		t.Fatalf("Document failure must not fail the batch: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Failed document must pass through, got %d documents", len(out))
	}
	if doc.Embeddings.Version != types.EmbeddingVersionFailed {
		t.Errorf("Expected version %s, got %s", types.EmbeddingVersionFailed, doc.Embeddings.Version)
	}
	if doc.Embeddings.Error == "" {
		t.Error("Expected embeddings error to be recorded")
	}
	if doc.Embeddings.Body != nil {
		t.Errorf("Failed document must not carry a body vector, got %v", doc.Embeddings.Body)
	}
	step, ok := steps.last("d-1")
	if !ok || step.Status != types.StepError {
		t.Errorf("Expected error step, got %+v", step)
	}
}

func TestEmbedderRejectsNonFiniteVectors(t *testing.T) {
	client := &fakeClient{vector: []float32{float32(math.NaN()), 1}}
	steps := newFakeSteps()
	e := New(client, Options{ChunkTokens: 64, Steps: steps})

	doc := bodyDoc("d-1", "plain text")
	if _, err := e.Process(context.Background(), []*types.Document{doc}); err != nil {
		t.Fatalf("Document failure must not fail the batch: %v", err)
	}
	if doc.Embeddings.Version != types.EmbeddingVersionFailed {
		t.Errorf("Expected version %s, got %s", types.EmbeddingVersionFailed, doc.Embeddings.Version)
	}
	if !strings.Contains(doc.Embeddings.Error, "non-finite") {
		t.Errorf("Expected a non-finite value error, got %q", doc.Embeddings.Error)
	}
	step, ok := steps.last("d-1")
	if !ok || step.Status != types.StepError {
		t.Errorf("Expected error step, got %+v", step)
	}
}

func TestEmbedderMixedBatch(t *testing.T) {
	client := &fakeClient{failOn: "unreachable"}
	steps := newFakeSteps()
	e := New(client, Options{ChunkTokens: 64, Workers: 3, Steps: steps})

	docs := []*types.Document{
		bodyDoc("d-1", "first document"),
		bodyDoc("d-2", "unreachable model here"),
		bodyDoc("d-3", "third document"),
	}
	out, err := e.Process(context.Background(), docs)
	if err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(out))
	}
	for _, id := range []string{"d-1", "d-3"} {
		doc := findDoc(t, out, id)
		if doc.Embeddings.Version != types.EmbeddingVersion || len(doc.Embeddings.Body) == 0 {
			t.Errorf("Document %s should be embedded, got %+v", id, doc.Embeddings)
		}
	}
	failed := findDoc(t, out, "d-2")
	if failed.Embeddings.Version != types.EmbeddingVersionFailed {
		t.Errorf("Expected d-2 tagged %s, got %s", types.EmbeddingVersionFailed, failed.Embeddings.Version)
	}
}

func TestEmbedderSkipsEmptyBody(t *testing.T) {
	client := &fakeClient{}
	steps := newFakeSteps()
	e := New(client, Options{ChunkTokens: 4, Steps: steps})

	doc := bodyDoc("d-1", "   ")
	if _, err := e.Process(context.Background(), []*types.Document{doc}); err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	if client.callCount() != 0 {
		t.Errorf("Expected no model calls for empty body, got %d", client.callCount())
	}
	step, ok := steps.last("d-1")
	if !ok || step.Status != types.StepSkipped {
		t.Errorf("Expected skipped step, got %+v", step)
	}
}

func TestEmbedderMemoizesRepeatedBodies(t *testing.T) {
	backend, err := cache.NewMemory(16, time.Hour)
	if err != nil {
		t.Fatalf("Failed to create memory cache: %v", err)
	}
	client := &fakeClient{}
	e := New(client, Options{
		ChunkTokens: 8,
		Workers:     1,
		Steps:       newFakeSteps(),
		Memo:        cache.NewMemoizer(backend, "test", time.Hour),
	})

	docs := []*types.Document{
		bodyDoc("d-1", "identical body"),
		bodyDoc("d-2", "identical body"),
	}
	if _, err := e.Process(context.Background(), docs); err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	if client.callCount() != 1 {
		t.Errorf("Expected 1 model call with memoisation, got %d", client.callCount())
	}
	for _, doc := range docs {
		if len(doc.Embeddings.Body) == 0 {
			t.Errorf("Document %s missing body vector", doc.ID)
		}
	}
}

func TestEmbedderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{}
	steps := newFakeSteps()
	e := New(client, Options{ChunkTokens: 4, Steps: steps})

	doc := bodyDoc("d-1", "some body")
	_, err := e.Process(ctx, []*types.Document{doc})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if doc.Embeddings.Version != "" {
		t.Errorf("Cancelled document must be left untouched, got %+v", doc.Embeddings)
	}
}

func findDoc(t *testing.T, docs []*types.Document, id string) *types.Document {
	t.Helper()
	for _, doc := range docs {
		if doc.ID == id {
			return doc
		}
	}
	t.Fatalf("Document %s not found", id)
	return nil
}
