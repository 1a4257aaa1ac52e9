package schema

import (
	"fmt"
	"reflect"
)

// Version identifies one payload shape of a named event schema. It is an
// immutable value; Key() is its canonical identity.
type Version struct {
	Name    string
	Version int
	Shape   reflect.Type
}

func NewVersion(name string, version int, shape any) (Version, error) {
	if name == "" {
		return Version{}, fmt.Errorf("schema version: %w", ErrBlankName)
	}
	if version < 1 {
		return Version{}, fmt.Errorf("schema version %q: %w", name, ErrVersionBelowOne)
	}
	var t reflect.Type
	if shape != nil {
		t = reflect.TypeOf(shape)
	}
	return Version{Name: name, Version: version, Shape: t}, nil
}

func (v Version) Key() string {
	return fmt.Sprintf("%s:v%d", v.Name, v.Version)
}

// CompatibleWith only holds between versions of the same schema name.
func (v Version) CompatibleWith(other Version) bool {
	return v.Name == other.Name
}

// Payload is the wire form a migration transforms. Migrations work on the
// decoded generic form, not on concrete structs, so a chain of them can be
// applied without knowing intermediate types.
type Payload map[string]any

// MigrateFunc is a pure transformation from one version's payload to the
// next. It must not mutate its input.
type MigrateFunc func(Payload) (Payload, error)

// Migration is one edge of the migration graph.
type Migration struct {
	From    Version
	To      Version
	Migrate MigrateFunc
}

func NewMigration(from, to Version, fn MigrateFunc) (Migration, error) {
	if fn == nil {
		return Migration{}, fmt.Errorf("migration %s->%s: %w", from.Key(), to.Key(), ErrNilMigrateFunc)
	}
	if !from.CompatibleWith(to) {
		return Migration{}, fmt.Errorf("migration %s->%s: %w", from.Key(), to.Key(), ErrNameMismatch)
	}
	return Migration{From: from, To: to, Migrate: fn}, nil
}

func (m Migration) Key() string {
	return m.From.Key() + "->" + m.To.Key()
}
