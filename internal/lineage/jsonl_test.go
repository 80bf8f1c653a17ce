package lineage

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/docpipe/docpipe/internal/types"
)

func TestJSONLRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, id := range []string{"a", "b"} {
		if _, err := store.Create(ctx, id, &SourceInfo{System: "export", Location: id + ".json"}, ""); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}
	if _, err := store.Update(ctx, "a", KindReferenced, UpdateOptions{RelatedIDs: []string{"b"}}); err != nil {
		t.Fatalf("Failed to reference: %v", err)
	}
	if _, err := store.Update(ctx, "a", KindUpdated, UpdateOptions{Metadata: map[string]any{"n": 1}}); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	step := types.NewStep(types.StageEmbed, types.StepSuccess)
	if _, err := store.AppendStep(ctx, "a", step); err != nil {
		t.Fatalf("Failed to append step: %v", err)
	}

	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, store, &buf)
	if err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 exported records, got %d", n)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Fatalf("Expected 2 lines, got %d", lines)
	}

	restored := NewMemoryStore()
	count, err := restored.ImportJSONL(ctx, &buf)
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 imported records, got %d", count)
	}

	orig, _ := store.Get(ctx, "a")
	got, _ := restored.Get(ctx, "a")
	if got == nil {
		t.Fatal("Imported store is missing record a")
	}
	if got.CurrentVersion != orig.CurrentVersion {
		t.Errorf("Expected version %d, got %d", orig.CurrentVersion, got.CurrentVersion)
	}
	if len(got.History) != len(orig.History) {
		t.Fatalf("Expected %d history entries, got %d", len(orig.History), len(got.History))
	}
	for i := range orig.History {
		if got.History[i].Kind != orig.History[i].Kind || got.History[i].Version != orig.History[i].Version {
			t.Errorf("History entry %d mismatch: want %s v%d, got %s v%d", i,
				orig.History[i].Kind, orig.History[i].Version, got.History[i].Kind, got.History[i].Version)
		}
	}
	if len(got.Steps) != 1 {
		t.Errorf("Expected 1 step after import, got %d", len(got.Steps))
	}
	if !containsString(got.ReferenceIDs, "b") {
		t.Error("Reference set lost in round trip")
	}
}

func TestImportRejectsBrokenRecords(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
	}{
		{"version mismatch", `{"document_id":"a","current_version":3,"history":[]}`},
		{"zero version", `{"document_id":"a","current_version":0,"history":[]}`},
		{"empty id", `{"document_id":"","current_version":1,"history":[{"kind":"created","version":1,"timestamp":"2026-01-01T00:00:00Z"}]}`},
		{"garbage", `{"document_id": zzz}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			if _, err := store.ImportJSONL(ctx, strings.NewReader(tt.input)); err == nil {
				t.Error("Expected import to reject the record")
			}
		})
	}
}

func TestImportRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	line := `{"document_id":"a","current_version":1,"history":[{"kind":"created","version":1,"timestamp":"2026-01-01T00:00:00Z"}]}`
	_, err := store.ImportJSONL(ctx, strings.NewReader(line+"\n"+line))
	if !IsConflict(err) {
		t.Errorf("Expected conflict on duplicate import, got %v", err)
	}
}
