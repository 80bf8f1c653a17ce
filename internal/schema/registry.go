package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docpipe/docpipe/internal/cache"
)

// DefaultMaxDepth bounds the dependency cycle-check traversal.
const DefaultMaxDepth = 1000

// Registry stores, versions, and resolves schemas. The dependency index and
// active-version mapping live under the registry lock; reads work against a
// consistent snapshot. Hot lookups go through the cache backend when one is
// configured.
type Registry struct {
	store    Store
	cache    cache.Backend // nil disables caching
	ttl      time.Duration
	logger   *zap.Logger
	maxDepth int

	mu     sync.RWMutex
	metas  map[string][]Meta   // name → metas sorted by version
	active map[string]Version  // name → active version
	deps   map[string][]string // name → direct dependencies
}

// NewRegistry builds a registry over store, loading any persisted schemas
// into the index. A nil backend disables lookup caching.
func NewRegistry(ctx context.Context, store Store, backend cache.Backend, ttl time.Duration, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		store:    store,
		cache:    backend,
		ttl:      ttl,
		logger:   logger,
		maxDepth: DefaultMaxDepth,
		metas:    make(map[string][]Meta),
		active:   make(map[string]Version),
		deps:     make(map[string][]string),
	}

	envs, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: load: %w", err)
	}
	for _, env := range envs {
		r.indexLocked(env.Meta)
		if env.Meta.Active {
			r.active[env.Meta.Name] = env.Meta.Version
		}
		deps, err := env.Schema.Dependencies()
		if err != nil {
			return nil, fmt.Errorf("registry: load %s %s: %w", env.Meta.Name, env.Meta.Version, err)
		}
		r.deps[env.Meta.Name] = deps
	}
	if len(envs) > 0 {
		logger.Debug("schema registry loaded", zap.Int("schemas", len(envs)))
	}
	return r, nil
}

// SetMaxDepth overrides the cycle-check traversal bound.
func (r *Registry) SetMaxDepth(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if depth > 0 {
		r.maxDepth = depth
	}
}

func schemaCacheKey(name string) string {
	return cache.Key(cache.NamespaceSchema, name)
}

// indexLocked inserts meta into the sorted per-name slice. Caller holds the
// write lock (or is inside NewRegistry before the registry is shared).
func (r *Registry) indexLocked(meta Meta) {
	metas := r.metas[meta.Name]
	i := sort.Search(len(metas), func(i int) bool {
		return metas[i].Version.Compare(meta.Version) >= 0
	})
	if i < len(metas) && metas[i].Version.Compare(meta.Version) == 0 {
		metas[i] = meta
	} else {
		metas = append(metas, Meta{})
		copy(metas[i+1:], metas[i:])
		metas[i] = meta
	}
	r.metas[meta.Name] = metas
}

// Register persists the schema under its (name, version). With makeActive it
// deactivates prior versions of the same name; with updateDeps it records
// the schema's dependency edges in the index. The dependency cycle check
// runs before anything is persisted.
func (r *Registry) Register(ctx context.Context, s *Schema, makeActive, updateDeps bool) error {
	if s == nil {
		return fmt.Errorf("register: %w: nil schema", ErrInvalidSchema)
	}
	if err := s.validate(); err != nil {
		return fmt.Errorf("register %s: %w", s.Name, err)
	}
	if s.Version.IsZero() {
		return fmt.Errorf("register %s: %w: version must be at least 0.0.1", s.Name, ErrInvalidSchema)
	}
	deps, err := s.Dependencies()
	if err != nil {
		return fmt.Errorf("register %s: %w", s.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, meta := range r.metas[s.Name] {
		if meta.Version.Compare(s.Version) == 0 {
			return fmt.Errorf("register %s %s: %w", s.Name, s.Version, ErrConflict)
		}
	}
	if err := r.checkCycleLocked(s.Name, deps); err != nil {
		return err
	}
	if s.Parent != "" {
		if err := r.checkOverridesLocked(ctx, s); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	env := &Envelope{
		Meta: Meta{
			Name:         s.Name,
			Version:      s.Version,
			Kind:         s.Kind,
			Active:       makeActive,
			RegisteredAt: now,
			UpdatedAt:    now,
		},
		Schema: s.Clone(),
	}
	if err := r.store.Put(ctx, env); err != nil {
		return fmt.Errorf("register %s %s: %w", s.Name, s.Version, err)
	}

	if makeActive {
		if prev, ok := r.active[s.Name]; ok && prev.Compare(s.Version) != 0 {
			if err := r.setActiveFlagLocked(ctx, s.Name, prev, false); err != nil {
				return fmt.Errorf("register %s %s: deactivate %s: %w", s.Name, s.Version, prev, err)
			}
		}
		r.active[s.Name] = s.Version
		r.dropCached(ctx, s.Name)
	}
	if updateDeps {
		r.deps[s.Name] = deps
	}
	r.indexLocked(env.Meta)

	r.logger.Debug("schema registered",
		zap.String("name", s.Name),
		zap.String("version", s.Version.String()),
		zap.Bool("active", makeActive),
		zap.Strings("dependencies", deps))
	return nil
}

// setActiveFlagLocked rewrites a persisted envelope's Active flag and keeps
// the meta index in sync. Caller holds the write lock.
func (r *Registry) setActiveFlagLocked(ctx context.Context, name string, version Version, active bool) error {
	env, err := r.store.Load(ctx, name, version)
	if err != nil {
		return err
	}
	env.Meta.Active = active
	env.Meta.UpdatedAt = time.Now().UTC()
	if err := r.store.Put(ctx, env); err != nil {
		return err
	}
	r.indexLocked(env.Meta)
	return nil
}

// checkOverridesLocked verifies the parent schema exists and that every
// field redefining an inherited one carries the override flag. Caller holds
// the write lock.
func (r *Registry) checkOverridesLocked(ctx context.Context, s *Schema) error {
	parentFields, _, err := r.effectiveFields(ctx, s.Parent, func(name string) (Version, bool) {
		v, ok := r.active[name]
		return v, ok
	})
	if err != nil {
		return fmt.Errorf("register %s: parent %s: %w", s.Name, s.Parent, err)
	}
	for name, field := range s.Fields {
		if _, inherited := parentFields[name]; inherited && !field.Override {
			return fmt.Errorf("register %s: %w: field %q redefines a field of parent %s without override",
				s.Name, ErrInvalidSchema, name, s.Parent)
		}
	}
	return nil
}

// activeVersion reads the active version for name under the read lock.
func (r *Registry) activeVersion(name string) (Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.active[name]
	return v, ok
}

// effectiveFields walks the single-inheritance chain of name and returns the
// merged field map and required set, child definitions shadowing inherited
// ones. getActive resolves each link so callers control locking: Register
// passes a direct map read (write lock held), Validate passes activeVersion.
func (r *Registry) effectiveFields(ctx context.Context, name string, getActive func(string) (Version, bool)) (map[string]FieldDef, map[string]bool, error) {
	var chain []*Schema
	for current := name; current != ""; {
		if len(chain) >= r.maxDepth {
			return nil, nil, fmt.Errorf("%w: parent chain exceeds depth limit %d", ErrInvalidSchema, r.maxDepth)
		}
		version, ok := getActive(current)
		if !ok {
			return nil, nil, fmt.Errorf("%s: no active version: %w", current, ErrNotFound)
		}
		env, err := r.store.Load(ctx, current, version)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, env.Schema)
		current = env.Schema.Parent
	}

	// Apply root first so nearer schemas shadow.
	fields := make(map[string]FieldDef)
	required := make(map[string]bool)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Fields {
			fields[k] = v
		}
		for _, req := range chain[i].Required {
			required[req] = true
		}
	}
	return fields, required, nil
}

// Get returns the named schema: the exact version when one is given, else
// the active version. Active lookups check the cache before the store.
func (r *Registry) Get(ctx context.Context, name string, version *Version) (*Schema, error) {
	if version != nil {
		env, err := r.store.Load(ctx, name, *version)
		if err != nil {
			return nil, fmt.Errorf("get %s %s: %w", name, *version, err)
		}
		return env.Schema, nil
	}

	if r.cache != nil {
		if payload, err := r.cache.Get(ctx, schemaCacheKey(name)); err != nil {
			r.logger.Debug("schema cache read failed; falling back to store",
				zap.String("name", name), zap.Error(err))
		} else if payload != nil {
			var s Schema
			if err := json.Unmarshal(payload, &s); err == nil {
				return &s, nil
			}
			_ = r.cache.Delete(ctx, schemaCacheKey(name))
		}
	}

	r.mu.RLock()
	active, ok := r.active[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s: no active version: %w", name, ErrNotFound)
	}
	env, err := r.store.Load(ctx, name, active)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", name, active, err)
	}
	if r.cache != nil {
		if payload, err := json.Marshal(env.Schema); err == nil {
			if err := r.cache.Set(ctx, schemaCacheKey(name), payload, r.ttl); err != nil {
				r.logger.Debug("schema cache write failed", zap.String("name", name), zap.Error(err))
			}
		}
	}
	return env.Schema, nil
}

// List enumerates registration metadata. A non-empty kind filters by kind;
// inactive versions are included only when includeInactive is set.
func (r *Registry) List(_ context.Context, kind Kind, includeInactive bool) ([]Meta, error) {
	if kind != "" && !kind.IsValid() {
		return nil, fmt.Errorf("list: %w: unknown kind %q", ErrInvalidSchema, kind)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metas))
	for name := range r.metas {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Meta
	for _, name := range names {
		for _, meta := range r.metas[name] {
			if kind != "" && meta.Kind != kind {
				continue
			}
			if !includeInactive && !meta.Active {
				continue
			}
			out = append(out, meta)
		}
	}
	return out, nil
}

// Dependencies returns the direct dependency set recorded for name.
func (r *Registry) Dependencies(_ context.Context, name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.metas[name]; !ok {
		return nil, fmt.Errorf("dependencies %s: %w", name, ErrNotFound)
	}
	return append([]string(nil), r.deps[name]...), nil
}

// Invalidate removes name from the cache and from the active-schema mapping.
// The registration itself is untouched; a later Register with makeActive
// restores an active version.
func (r *Registry) Invalidate(ctx context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, name)
	r.dropCached(ctx, name)
}

// Deactivate clears the Active flag on one version.
func (r *Registry) Deactivate(ctx context.Context, name string, version Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setActiveFlagLocked(ctx, name, version, false); err != nil {
		return fmt.Errorf("deactivate %s %s: %w", name, version, err)
	}
	if active, ok := r.active[name]; ok && active.Compare(version) == 0 {
		delete(r.active, name)
	}
	r.dropCached(ctx, name)
	return nil
}

// Delete removes a schema version. Without hard it soft-deactivates; with
// hard it removes the persisted envelope and drops the version from the
// index entirely.
func (r *Registry) Delete(ctx context.Context, name string, version Version, hard bool) error {
	if !hard {
		return r.Deactivate(ctx, name, version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Remove(ctx, name, version); err != nil {
		return fmt.Errorf("delete %s %s: %w", name, version, err)
	}
	metas := r.metas[name]
	for i, meta := range metas {
		if meta.Version.Compare(version) == 0 {
			r.metas[name] = append(metas[:i], metas[i+1:]...)
			break
		}
	}
	if len(r.metas[name]) == 0 {
		delete(r.metas, name)
		delete(r.deps, name)
	}
	if active, ok := r.active[name]; ok && active.Compare(version) == 0 {
		delete(r.active, name)
	}
	r.dropCached(ctx, name)
	return nil
}

// dropCached removes name's cache entry. Caller holds the write lock.
func (r *Registry) dropCached(ctx context.Context, name string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, schemaCacheKey(name)); err != nil {
		r.logger.Debug("schema cache delete failed", zap.String("name", name), zap.Error(err))
	}
}

// checkCycleLocked verifies that registering name with the given direct
// dependencies cannot close a loop. The walk is an explicit worklist DFS over
// the registry's current dependency map; reaching name again is a cycle,
// reported with the verbatim path. Caller holds the write lock.
func (r *Registry) checkCycleLocked(name string, deps []string) error {
	type frame struct {
		id   string
		path []string
	}

	stack := make([]frame, 0, len(deps))
	for i := len(deps) - 1; i >= 0; i-- {
		stack = append(stack, frame{id: deps[i], path: []string{name}})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.id == name {
			return &CycleError{Path: append(f.path, f.id)}
		}
		onPath := false
		for _, seen := range f.path {
			if seen == f.id {
				onPath = true
				break
			}
		}
		if onPath {
			continue
		}
		if len(f.path) >= r.maxDepth {
			return fmt.Errorf("cycle check from %s: dependency chain exceeds depth limit %d", name, r.maxDepth)
		}

		next, ok := r.deps[f.id]
		if !ok {
			continue
		}
		path := make([]string, len(f.path)+1)
		copy(path, f.path)
		path[len(f.path)] = f.id
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: next[i], path: path})
		}
	}
	return nil
}
