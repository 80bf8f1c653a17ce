package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Meta is the registration metadata persisted alongside a schema.
type Meta struct {
	Name         string    `json:"name"`
	Version      Version   `json:"version"`
	Kind         Kind      `json:"kind"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"`    // UTC
}

// Envelope is the persisted form of a schema: its metadata plus the
// definition itself.
type Envelope struct {
	Meta   Meta    `json:"metadata"`
	Schema *Schema `json:"schema"`
}

// Store is the persistence contract for schema envelopes. Put overwrites an
// existing (name, version); downgrading Active on the old active version is
// the registry's job, done through Put as well.
type Store interface {
	Put(ctx context.Context, env *Envelope) error
	Load(ctx context.Context, name string, version Version) (*Envelope, error)
	LoadAll(ctx context.Context) ([]*Envelope, error)
	Remove(ctx context.Context, name string, version Version) error
}

// Filename returns the on-disk name for a schema version:
// <name>_<major>.<minor>.<patch>.json
func Filename(name string, v Version) string {
	return fmt.Sprintf("%s_%s.json", name, v)
}

// FileStore persists envelopes as one JSON file per schema version.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("schema store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) path(name string, v Version) string {
	return filepath.Join(f.dir, Filename(name, v))
}

func (f *FileStore) Put(_ context.Context, env *Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("schema store: marshal %s %s: %w", env.Meta.Name, env.Meta.Version, err)
	}
	path := f.path(env.Meta.Name, env.Meta.Version)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("schema store: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("schema store: rename %s: %w", path, err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context, name string, version Version) (*Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.loadFile(f.path(name, version))
}

func (f *FileStore) loadFile(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("schema store: %s: %w", filepath.Base(path), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("schema store: read %s: %w", path, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("schema store: parse %s: %w", path, err)
	}
	return &env, nil
}

// LoadAll reads every *_<semver>.json file in the directory, sorted by name
// then version. Files that do not match the naming pattern are skipped.
func (f *FileStore) LoadAll(_ context.Context) ([]*Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("schema store: read dir %s: %w", f.dir, err)
	}
	var envs []*Envelope
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".json")
		idx := strings.LastIndex(base, "_")
		if idx <= 0 {
			continue
		}
		if _, err := ParseVersion(base[idx+1:]); err != nil {
			continue
		}
		env, err := f.loadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool {
		if envs[i].Meta.Name != envs[j].Meta.Name {
			return envs[i].Meta.Name < envs[j].Meta.Name
		}
		return envs[i].Meta.Version.Compare(envs[j].Meta.Version) < 0
	})
	return envs, nil
}

func (f *FileStore) Remove(_ context.Context, name string, version Version) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(name, version)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("schema store: %s: %w", filepath.Base(path), ErrNotFound)
		}
		return fmt.Errorf("schema store: remove %s: %w", path, err)
	}
	return nil
}

// MemoryStore keeps envelopes in process memory. Used by tests and by runs
// that do not configure a schema directory.
type MemoryStore struct {
	mu   sync.RWMutex
	envs map[string]*Envelope // keyed by Filename(name, version)
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{envs: make(map[string]*Envelope)}
}

func (m *MemoryStore) Put(_ context.Context, env *Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envs[Filename(env.Meta.Name, env.Meta.Version)] = cloneEnvelope(env)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, name string, version Version) (*Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.envs[Filename(name, version)]
	if !ok {
		return nil, fmt.Errorf("schema store: %s %s: %w", name, version, ErrNotFound)
	}
	return cloneEnvelope(env), nil
}

func (m *MemoryStore) LoadAll(_ context.Context) ([]*Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Envelope, 0, len(m.envs))
	for _, env := range m.envs {
		out = append(out, cloneEnvelope(env))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Meta.Name != out[j].Meta.Name {
			return out[i].Meta.Name < out[j].Meta.Name
		}
		return out[i].Meta.Version.Compare(out[j].Meta.Version) < 0
	})
	return out, nil
}

func (m *MemoryStore) Remove(_ context.Context, name string, version Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Filename(name, version)
	if _, ok := m.envs[key]; !ok {
		return fmt.Errorf("schema store: %s %s: %w", name, version, ErrNotFound)
	}
	delete(m.envs, key)
	return nil
}

func cloneEnvelope(env *Envelope) *Envelope {
	out := *env
	out.Schema = env.Schema.Clone()
	return &out
}
