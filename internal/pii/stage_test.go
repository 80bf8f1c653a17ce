package pii

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/docpipe/docpipe/internal/types"
)

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

func TestStageAnnotatesMetadata(t *testing.T) {
	steps := newFakeSteps()
	s := NewStage(NewDetector(nil), Options{Steps: steps})

	doc := bodyDoc("d-1", "reach me at alice@example.com please")
	if _, err := s.Process(context.Background(), []*types.Document{doc}); err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	if detected, ok := doc.Metadata[types.MetaPIIDetected].(bool); !ok || !detected {
		t.Errorf("Expected pii_detected=true, got %v", doc.Metadata[types.MetaPIIDetected])
	}
	if got, want := doc.Metadata[types.MetaPIITypes], []string{TypeEmail}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected pii_types %v, got %v", want, got)
	}
	if !strings.Contains(doc.Content.Body, "alice@example.com") {
		t.Error("Body must be unchanged when redaction is off")
	}
	step, ok := steps.last("d-1")
	if !ok || step.Status != types.StepSuccess {
		t.Errorf("Expected success step, got %+v", step)
	}
	if step.Details["matches"] != 1 {
		t.Errorf("Expected matches=1 detail, got %v", step.Details["matches"])
	}
}

func TestStageRedactsWhenEnabled(t *testing.T) {
	s := NewStage(NewDetector(nil), Options{Redact: true, Steps: newFakeSteps()})

	doc := bodyDoc("d-1", "reach me at alice@example.com please")
	if _, err := s.Process(context.Background(), []*types.Document{doc}); err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	if strings.Contains(doc.Content.Body, "alice@example.com") {
		t.Errorf("Expected email redacted, body is %q", doc.Content.Body)
	}
	if doc.Content.Body != "reach me at [EMAIL] please" {
		t.Errorf("Unexpected redacted body %q", doc.Content.Body)
	}
}

func TestStageCleanDocument(t *testing.T) {
	steps := newFakeSteps()
	s := NewStage(NewDetector(nil), Options{Steps: steps})

	doc := bodyDoc("d-1", "nothing sensitive in this sentence")
	if _, err := s.Process(context.Background(), []*types.Document{doc}); err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	if detected, ok := doc.Metadata[types.MetaPIIDetected].(bool); !ok || detected {
		t.Errorf("Expected pii_detected=false, got %v", doc.Metadata[types.MetaPIIDetected])
	}
	if _, ok := doc.Metadata[types.MetaPIITypes]; ok {
		t.Error("Expected no pii_types key on a clean document")
	}
}

func TestStageNERFailureWarns(t *testing.T) {
	steps := newFakeSteps()
	tagger := &fakeTagger{err: errors.New("model not loaded")}
	s := NewStage(NewDetector(tagger), Options{Steps: steps})

	doc := bodyDoc("d-1", "reach me at alice@example.com please")
	out, err := s.Process(context.Background(), []*types.Document{doc})
	if err != nil {
		t.Fatalf("Tagger failure must not fail the batch: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Document must pass through, got %d documents", len(out))
	}
	step, ok := steps.last("d-1")
	if !ok || step.Status != types.StepWarning {
		t.Errorf("Expected warning step, got %+v", step)
	}
	if step.Details["ner_error"] == nil {
		t.Error("Expected ner_error detail")
	}
	if detected, _ := doc.Metadata[types.MetaPIIDetected].(bool); !detected {
		t.Error("Regex matches should still annotate the document")
	}
}

func TestStageSkipsEmptyBody(t *testing.T) {
	steps := newFakeSteps()
	s := NewStage(NewDetector(nil), Options{Steps: steps})

	doc := bodyDoc("d-1", "  \n ")
	if _, err := s.Process(context.Background(), []*types.Document{doc}); err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	step, ok := steps.last("d-1")
	if !ok || step.Status != types.StepSkipped {
		t.Errorf("Expected skipped step, got %+v", step)
	}
}

func TestStageConcurrentBatch(t *testing.T) {
	steps := newFakeSteps()
	s := NewStage(NewDetector(nil), Options{Workers: 4, Steps: steps})

	var docs []*types.Document
	for i := 0; i < 20; i++ {
		docs = append(docs, bodyDoc(fmt.Sprintf("d-%d", i), fmt.Sprintf("doc %d mail user%d@example.com", i, i)))
	}
	out, err := s.Process(context.Background(), docs)
	if err != nil {
		t.Fatalf("Failed to process: %v", err)
	}
	if len(out) != 20 {
		t.Fatalf("Expected 20 documents, got %d", len(out))
	}
	for _, doc := range docs {
		if step, ok := steps.last(doc.ID); !ok || step.Status != types.StepSuccess {
			t.Errorf("Document %s: expected success step, got %+v", doc.ID, step)
		}
	}
}
