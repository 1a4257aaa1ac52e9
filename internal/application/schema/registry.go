package schema

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrBlankName       = errors.New("name must not be blank")
	ErrVersionBelowOne = errors.New("version must be >= 1")
	ErrNilMigrateFunc  = errors.New("migrate func must not be nil")
	ErrNameMismatch    = errors.New("versions belong to different schemas")

	// ErrShapeDrift means the same (name, version) was re-registered with a
	// different payload shape. Silent drift is exactly what the registry
	// exists to prevent, so this is always an error.
	ErrShapeDrift = errors.New("schema already registered with a different shape")

	ErrVersionNotFound  = errors.New("schema version not registered")
	ErrNoMigrationPath  = errors.New("no migration path")
	ErrSchemaNotFound   = errors.New("schema name not registered")
	ErrEndpointMissing  = errors.New("migration endpoint not registered")
	ErrDuplicateEdge    = errors.New("migration already registered")
	ErrDowngradeRefused = errors.New("migrations only run toward newer versions")
)

// Registry catalogs known (name, version) pairs and the directed graph of
// migrations between them. All mutations validate first and commit after,
// so an error never leaves partial state behind.
type Registry struct {
	mu sync.RWMutex

	// versions by schema name, then by version number
	versions map[string]map[int]Version
	// migrations keyed by "<fromKey>-><toKey>"
	migrations map[string]Migration
}

func NewRegistry() *Registry {
	return &Registry{
		versions:   make(map[string]map[int]Version),
		migrations: make(map[string]Migration),
	}
}

// Register adds a version to the catalog. Identical re-registration is a
// no-op; the same (name, version) with a different shape is rejected.
func (r *Registry) Register(v Version) error {
	if v.Name == "" {
		return fmt.Errorf("register: %w", ErrBlankName)
	}
	if v.Version < 1 {
		return fmt.Errorf("register %q: %w", v.Name, ErrVersionBelowOne)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byVersion, ok := r.versions[v.Name]
	if !ok {
		byVersion = make(map[int]Version)
		r.versions[v.Name] = byVersion
	}

	if existing, ok := byVersion[v.Version]; ok {
		if existing.Shape != v.Shape {
			return fmt.Errorf("register %s: %w", v.Key(), ErrShapeDrift)
		}
		return nil
	}

	byVersion[v.Version] = v
	return nil
}

// RegisterMigration stores an edge between two already-registered versions
// of the same schema. Enforcing registration here, not at use time, keeps
// pathfinding free of dangling edges.
func (r *Registry) RegisterMigration(m Migration) error {
	if m.Migrate == nil {
		return fmt.Errorf("register migration %s: %w", m.Key(), ErrNilMigrateFunc)
	}
	if !m.From.CompatibleWith(m.To) {
		return fmt.Errorf("register migration %s: %w", m.Key(), ErrNameMismatch)
	}
	if m.To.Version <= m.From.Version {
		return fmt.Errorf("register migration %s: %w", m.Key(), ErrDowngradeRefused)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registeredLocked(m.From) {
		return fmt.Errorf("register migration %s: from %s: %w", m.Key(), m.From.Key(), ErrEndpointMissing)
	}
	if !r.registeredLocked(m.To) {
		return fmt.Errorf("register migration %s: to %s: %w", m.Key(), m.To.Key(), ErrEndpointMissing)
	}
	if _, ok := r.migrations[m.Key()]; ok {
		return fmt.Errorf("register migration %s: %w", m.Key(), ErrDuplicateEdge)
	}

	r.migrations[m.Key()] = m
	return nil
}

func (r *Registry) registeredLocked(v Version) bool {
	byVersion, ok := r.versions[v.Name]
	if !ok {
		return false
	}
	_, ok = byVersion[v.Version]
	return ok
}

// Lookup returns the registered version for (name, version).
func (r *Registry) Lookup(name string, version int) (Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byVersion, ok := r.versions[name]
	if !ok {
		return Version{}, fmt.Errorf("lookup %s: %w", name, ErrSchemaNotFound)
	}
	v, ok := byVersion[version]
	if !ok {
		return Version{}, fmt.Errorf("lookup %s:v%d: %w", name, version, ErrVersionNotFound)
	}
	return v, nil
}

// LatestVersion returns the highest registered version for the name.
func (r *Registry) LatestVersion(name string) (Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byVersion, ok := r.versions[name]
	if !ok || len(byVersion) == 0 {
		return Version{}, fmt.Errorf("latest %s: %w", name, ErrSchemaNotFound)
	}

	var latest Version
	for _, v := range byVersion {
		if v.Version > latest.Version {
			latest = v
		}
	}
	return latest, nil
}

// IsCompatible reports whether payloads at `from` can be brought to `to`:
// same registered version, or a migration path exists.
func (r *Registry) IsCompatible(name string, from, to int) bool {
	fromV, err := r.Lookup(name, from)
	if err != nil {
		return false
	}
	toV, err := r.Lookup(name, to)
	if err != nil {
		return false
	}
	if from == to {
		return true
	}
	_, err = r.FindMigrationPath(fromV, toV)
	return err == nil
}

// FindMigrationPath returns the shortest ordered migration chain from one
// version to another. BFS gives the fewest hops; every hop is a potential
// lossy transformation, so fewer hops wins when several paths exist. A
// same-version request returns an empty, non-nil path.
func (r *Registry) FindMigrationPath(from, to Version) ([]Migration, error) {
	if !from.CompatibleWith(to) {
		return nil, fmt.Errorf("path %s->%s: %w", from.Key(), to.Key(), ErrNameMismatch)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.registeredLocked(from) {
		return nil, fmt.Errorf("path %s->%s: from: %w", from.Key(), to.Key(), ErrVersionNotFound)
	}
	if !r.registeredLocked(to) {
		return nil, fmt.Errorf("path %s->%s: to: %w", from.Key(), to.Key(), ErrVersionNotFound)
	}

	if from.Version == to.Version {
		return []Migration{}, nil
	}
	if from.Version > to.Version {
		return nil, fmt.Errorf("path %s->%s: %w", from.Key(), to.Key(), ErrNoMigrationPath)
	}

	// BFS over version numbers, exploring only registered versions reachable
	// through registered edges, strictly upward.
	type node struct {
		version int
		path    []Migration
	}

	visited := map[int]bool{from.Version: true}
	queue := []node{{version: from.Version}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for next := cur.version + 1; next <= to.Version; next++ {
			if visited[next] {
				continue
			}
			edge, ok := r.edgeLocked(from.Name, cur.version, next)
			if !ok {
				continue
			}

			path := make([]Migration, len(cur.path), len(cur.path)+1)
			copy(path, cur.path)
			path = append(path, edge)

			if next == to.Version {
				return path, nil
			}
			visited[next] = true
			queue = append(queue, node{version: next, path: path})
		}
	}

	return nil, fmt.Errorf("path %s->%s: %w", from.Key(), to.Key(), ErrNoMigrationPath)
}

func (r *Registry) edgeLocked(name string, from, to int) (Migration, bool) {
	byVersion := r.versions[name]
	fromV, okF := byVersion[from]
	toV, okT := byVersion[to]
	if !okF || !okT {
		return Migration{}, false
	}
	m, ok := r.migrations[fromV.Key()+"->"+toV.Key()]
	return m, ok
}

// ApplyPath runs a migration chain over a payload, returning the upgraded
// payload. An empty path returns the input untouched.
func ApplyPath(path []Migration, p Payload) (Payload, error) {
	cur := p
	for _, m := range path {
		next, err := m.Migrate(cur)
		if err != nil {
			return nil, fmt.Errorf("migrate %s: %w", m.Key(), err)
		}
		cur = next
	}
	return cur, nil
}
