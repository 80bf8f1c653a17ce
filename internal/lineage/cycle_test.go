package lineage

import (
	"context"
	"errors"
	"testing"
)

func TestCycleRejection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, id := range []string{"A", "B", "C"} {
		if _, err := store.Create(ctx, id, nil, ""); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}

	if _, err := store.Update(ctx, "A", KindReferenced, UpdateOptions{RelatedIDs: []string{"B"}}); err != nil {
		t.Fatalf("Failed to reference A→B: %v", err)
	}
	if _, err := store.Update(ctx, "B", KindReferenced, UpdateOptions{RelatedIDs: []string{"C"}}); err != nil {
		t.Fatalf("Failed to reference B→C: %v", err)
	}

	before, _ := store.Get(ctx, "C")

	_, err := store.Update(ctx, "C", KindReferenced, UpdateOptions{RelatedIDs: []string{"A"}})
	if !IsCycle(err) {
		t.Fatalf("Expected cycle error, got %v", err)
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected *CycleError, got %T", err)
	}
	wantPath := []string{"C", "A", "B", "C"}
	if len(cycleErr.Path) != len(wantPath) {
		t.Fatalf("Expected path %v, got %v", wantPath, cycleErr.Path)
	}
	for i := range wantPath {
		if cycleErr.Path[i] != wantPath[i] {
			t.Fatalf("Expected path %v, got %v", wantPath, cycleErr.Path)
		}
	}
	wantMsg := "cannot add reference: would create a cycle (C → A → B → C)"
	if cycleErr.Error() != wantMsg {
		t.Errorf("Expected message %q, got %q", wantMsg, cycleErr.Error())
	}

	// State unchanged: no Referenced change on C, version stable.
	after, _ := store.Get(ctx, "C")
	if after.CurrentVersion != before.CurrentVersion {
		t.Errorf("Expected version unchanged at %d, got %d", before.CurrentVersion, after.CurrentVersion)
	}
	for _, c := range after.History {
		if c.Kind == KindReferenced && len(c.RelatedIDs) > 0 && c.RelatedIDs[0] == "A" {
			t.Error("Rejected mutation left a Referenced change behind")
		}
	}
	if containsString(after.ReferenceIDs, "A") {
		t.Error("Rejected mutation left a reference edge behind")
	}
}

func TestSelfReferenceRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if _, err := store.Create(ctx, "A", nil, ""); err != nil {
		t.Fatalf("Failed to create A: %v", err)
	}

	_, err := store.Update(ctx, "A", KindReferenced, UpdateOptions{RelatedIDs: []string{"A"}})
	if !IsCycle(err) {
		t.Fatalf("Expected cycle error for self-reference, got %v", err)
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) || len(cycleErr.Path) != 2 {
		t.Errorf("Expected path [A A], got %v", err)
	}
}

func TestDiamondIsNotACycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, id := range []string{"A", "B", "C", "D"} {
		if _, err := store.Create(ctx, id, nil, ""); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
	}

	edges := [][2]string{{"A", "B"}, {"A", "C"}, {"B", "D"}, {"C", "D"}}
	for _, e := range edges {
		if _, err := store.Update(ctx, e[0], KindReferenced, UpdateOptions{RelatedIDs: []string{e[1]}}); err != nil {
			t.Fatalf("Diamond edge %s→%s rejected: %v", e[0], e[1], err)
		}
	}
}

func TestCycleCheckDepthBound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.SetMaxDepth(5)

	// Build a→b→...→h. Each check starts at the fresh tip, so the chain
	// itself assembles fine even past the bound.
	prev := ""
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		if _, err := store.Create(ctx, id, nil, ""); err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
		if prev != "" {
			if _, err := store.Update(ctx, prev, KindReferenced, UpdateOptions{RelatedIDs: []string{id}}); err != nil {
				t.Fatalf("Failed to extend chain %s→%s: %v", prev, id, err)
			}
		}
		prev = id
	}

	// Referencing the head forces a walk down the whole chain, which must
	// fail closed at the bound rather than walk a pathological graph.
	if _, err := store.Create(ctx, "z", nil, ""); err != nil {
		t.Fatalf("Failed to create z: %v", err)
	}
	_, err := store.Update(ctx, "z", KindReferenced, UpdateOptions{RelatedIDs: []string{"a"}})
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("Expected depth error, got %v", err)
	}
}
