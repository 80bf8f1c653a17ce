package schema

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	s := docSchema("article", v(1, 2, 3))
	env := &Envelope{
		Meta:   Meta{Name: "article", Version: v(1, 2, 3), Kind: KindDocument, Active: true},
		Schema: s,
	}
	if err := store.Put(ctx, env); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	// The file name follows <name>_<major>.<minor>.<patch>.json.
	path := filepath.Join(store.Dir(), "article_1.2.3.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected file %s: %v", path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("File is not a JSON object: %v", err)
	}
	for _, key := range []string{"metadata", "schema"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("Envelope missing %q key", key)
		}
	}

	loaded, err := store.Load(ctx, "article", v(1, 2, 3))
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if loaded.Schema.Name != "article" || loaded.Schema.Version != v(1, 2, 3) {
		t.Errorf("Loaded schema mismatch: %+v", loaded.Schema)
	}
	if !loaded.Meta.Active {
		t.Error("Active flag did not survive the round trip")
	}
}

func TestFileStoreLoadAllSkipsStrays(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	for _, name := range []string{"notes.txt", "broken.json", "noversion.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("Failed to write stray file: %v", err)
		}
	}
	env := &Envelope{
		Meta:   Meta{Name: "article", Version: v(1, 0, 0), Kind: KindDocument},
		Schema: docSchema("article", v(1, 0, 0)),
	}
	if err := store.Put(ctx, env); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	envs, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to load all: %v", err)
	}
	if len(envs) != 1 || envs[0].Meta.Name != "article" {
		t.Errorf("Expected one envelope, got %+v", envs)
	}
}

func TestFileStoreRemove(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	env := &Envelope{
		Meta:   Meta{Name: "article", Version: v(1, 0, 0), Kind: KindDocument},
		Schema: docSchema("article", v(1, 0, 0)),
	}
	if err := store.Put(ctx, env); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := store.Remove(ctx, "article", v(1, 0, 0)); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	if err := store.Remove(ctx, "article", v(1, 0, 0)); !IsNotFound(err) {
		t.Errorf("Expected not-found on second remove, got %v", err)
	}
	if _, err := store.Load(ctx, "article", v(1, 0, 0)); !IsNotFound(err) {
		t.Errorf("Expected not-found after remove, got %v", err)
	}
}

func TestRegistryReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	reg, err := NewRegistry(ctx, store, nil, 0, nil)
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	if err := reg.Register(ctx, docSchema("article", v(1, 0, 0)), true, true); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	// A fresh registry over the same directory sees the registration.
	store2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	reg2, err := NewRegistry(ctx, store2, nil, 0, nil)
	if err != nil {
		t.Fatalf("Failed to rebuild registry: %v", err)
	}
	got, err := reg2.Get(ctx, "article", nil)
	if err != nil {
		t.Fatalf("Failed to get after reload: %v", err)
	}
	if got.Version != v(1, 0, 0) {
		t.Errorf("Expected 1.0.0 after reload, got %s", got.Version)
	}
	deps, err := reg2.Dependencies(ctx, "article")
	if err != nil {
		t.Fatalf("Failed to read dependencies after reload: %v", err)
	}
	if len(deps) != 0 {
		t.Errorf("Expected no dependencies, got %v", deps)
	}
}
