package schema

import (
	"errors"
	"testing"
)

type userV1 struct {
	Name string `json:"name"`
}

type userV2 struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func mustVersion(t *testing.T, name string, version int, shape any) Version {
	t.Helper()
	v, err := NewVersion(name, version, shape)
	if err != nil {
		t.Fatalf("NewVersion(%s, %d): %v", name, version, err)
	}
	return v
}

func mustRegister(t *testing.T, r *Registry, v Version) {
	t.Helper()
	if err := r.Register(v); err != nil {
		t.Fatalf("Register(%s): %v", v.Key(), err)
	}
}

func mustMigration(t *testing.T, r *Registry, from, to Version, fn MigrateFunc) {
	t.Helper()
	m, err := NewMigration(from, to, fn)
	if err != nil {
		t.Fatalf("NewMigration(%s->%s): %v", from.Key(), to.Key(), err)
	}
	if err := r.RegisterMigration(m); err != nil {
		t.Fatalf("RegisterMigration(%s): %v", m.Key(), err)
	}
}

func identity(p Payload) (Payload, error) { return p, nil }

func TestNewVersionValidation(t *testing.T) {
	if _, err := NewVersion("", 1, userV1{}); !errors.Is(err, ErrBlankName) {
		t.Errorf("blank name: err = %v, want ErrBlankName", err)
	}
	if _, err := NewVersion("user", 0, userV1{}); !errors.Is(err, ErrVersionBelowOne) {
		t.Errorf("version 0: err = %v, want ErrVersionBelowOne", err)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	v1 := mustVersion(t, "user", 1, userV1{})

	mustRegister(t, r, v1)
	if err := r.Register(v1); err != nil {
		t.Errorf("identical re-registration must be a no-op, got %v", err)
	}
}

func TestRegisterShapeDrift(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, mustVersion(t, "user", 1, userV1{}))

	drifted := mustVersion(t, "user", 1, userV2{})
	if err := r.Register(drifted); !errors.Is(err, ErrShapeDrift) {
		t.Errorf("err = %v, want ErrShapeDrift", err)
	}
}

func TestRegisterMigrationValidation(t *testing.T) {
	r := NewRegistry()
	u1 := mustVersion(t, "user", 1, userV1{})
	u2 := mustVersion(t, "user", 2, userV2{})
	o1 := mustVersion(t, "order", 1, nil)
	mustRegister(t, r, u1)
	mustRegister(t, r, o1)

	if _, err := NewMigration(u1, u2, nil); !errors.Is(err, ErrNilMigrateFunc) {
		t.Errorf("nil fn: err = %v, want ErrNilMigrateFunc", err)
	}
	if _, err := NewMigration(u1, o1, identity); !errors.Is(err, ErrNameMismatch) {
		t.Errorf("cross-schema: err = %v, want ErrNameMismatch", err)
	}

	// downgrade edge
	if err := r.RegisterMigration(Migration{From: u2, To: u1, Migrate: identity}); !errors.Is(err, ErrDowngradeRefused) {
		t.Errorf("downgrade: err = %v, want ErrDowngradeRefused", err)
	}

	// u2 not registered yet
	m, _ := NewMigration(u1, u2, identity)
	if err := r.RegisterMigration(m); !errors.Is(err, ErrEndpointMissing) {
		t.Errorf("unregistered endpoint: err = %v, want ErrEndpointMissing", err)
	}

	mustRegister(t, r, u2)
	if err := r.RegisterMigration(m); err != nil {
		t.Fatalf("RegisterMigration: %v", err)
	}
	if err := r.RegisterMigration(m); !errors.Is(err, ErrDuplicateEdge) {
		t.Errorf("duplicate edge: err = %v, want ErrDuplicateEdge", err)
	}
}

func TestLatestVersion(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, mustVersion(t, "user", 1, nil))
	mustRegister(t, r, mustVersion(t, "user", 3, nil))
	mustRegister(t, r, mustVersion(t, "user", 2, nil))

	latest, err := r.LatestVersion("user")
	if err != nil {
		t.Fatalf("LatestVersion: %v", err)
	}
	if latest.Version != 3 {
		t.Errorf("latest = v%d, want v3", latest.Version)
	}

	if _, err := r.LatestVersion("ghost"); !errors.Is(err, ErrSchemaNotFound) {
		t.Errorf("err = %v, want ErrSchemaNotFound", err)
	}
}

func TestFindMigrationPathSameVersion(t *testing.T) {
	r := NewRegistry()
	v1 := mustVersion(t, "user", 1, nil)
	mustRegister(t, r, v1)

	path, err := r.FindMigrationPath(v1, v1)
	if err != nil {
		t.Fatalf("FindMigrationPath: %v", err)
	}
	if path == nil || len(path) != 0 {
		t.Errorf("same-version path = %v, want empty non-nil", path)
	}
}

func TestFindMigrationPathShortest(t *testing.T) {
	// edges: 1->2, 2->3, 3->4 and a shortcut 1->3. Shortest 1->4 is 1->3->4.
	r := NewRegistry()
	versions := make([]Version, 5)
	for i := 1; i <= 4; i++ {
		versions[i] = mustVersion(t, "user", i, nil)
		mustRegister(t, r, versions[i])
	}
	mustMigration(t, r, versions[1], versions[2], identity)
	mustMigration(t, r, versions[2], versions[3], identity)
	mustMigration(t, r, versions[3], versions[4], identity)
	mustMigration(t, r, versions[1], versions[3], identity)

	path, err := r.FindMigrationPath(versions[1], versions[4])
	if err != nil {
		t.Fatalf("FindMigrationPath: %v", err)
	}
	if len(path) != 2 {
		t.Fatalf("path length = %d, want 2", len(path))
	}
	if path[0].Key() != "user:v1->user:v3" || path[1].Key() != "user:v3->user:v4" {
		t.Errorf("path = [%s, %s], want the v1->v3->v4 shortcut", path[0].Key(), path[1].Key())
	}
}

func TestFindMigrationPathMissing(t *testing.T) {
	r := NewRegistry()
	v1 := mustVersion(t, "user", 1, nil)
	v2 := mustVersion(t, "user", 2, nil)
	v3 := mustVersion(t, "user", 3, nil)
	mustRegister(t, r, v1)
	mustRegister(t, r, v2)
	mustRegister(t, r, v3)
	mustMigration(t, r, v2, v3, identity)

	// v1 has no outgoing edge
	if _, err := r.FindMigrationPath(v1, v3); !errors.Is(err, ErrNoMigrationPath) {
		t.Errorf("err = %v, want ErrNoMigrationPath", err)
	}
	// downgrade request
	if _, err := r.FindMigrationPath(v3, v2); !errors.Is(err, ErrNoMigrationPath) {
		t.Errorf("downgrade: err = %v, want ErrNoMigrationPath", err)
	}
	// unregistered endpoint
	ghost := mustVersion(t, "user", 9, nil)
	if _, err := r.FindMigrationPath(v1, ghost); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("ghost target: err = %v, want ErrVersionNotFound", err)
	}
}

func TestIsCompatible(t *testing.T) {
	r := NewRegistry()
	v1 := mustVersion(t, "user", 1, nil)
	v2 := mustVersion(t, "user", 2, nil)
	mustRegister(t, r, v1)
	mustRegister(t, r, v2)

	if !r.IsCompatible("user", 1, 1) {
		t.Error("same version must be compatible")
	}
	if r.IsCompatible("user", 1, 2) {
		t.Error("no edge registered, must not be compatible")
	}

	mustMigration(t, r, v1, v2, identity)
	if !r.IsCompatible("user", 1, 2) {
		t.Error("edge registered, must be compatible")
	}
	if r.IsCompatible("ghost", 1, 2) {
		t.Error("unknown schema must not be compatible")
	}
}

func TestApplyPath(t *testing.T) {
	r := NewRegistry()
	v1 := mustVersion(t, "user", 1, userV1{})
	v2 := mustVersion(t, "user", 2, userV2{})
	v3 := mustVersion(t, "user", 3, nil)
	mustRegister(t, r, v1)
	mustRegister(t, r, v2)
	mustRegister(t, r, v3)

	mustMigration(t, r, v1, v2, func(p Payload) (Payload, error) {
		out := Payload{"firstName": p["name"], "lastName": ""}
		return out, nil
	})
	mustMigration(t, r, v2, v3, func(p Payload) (Payload, error) {
		out := Payload{}
		for k, v := range p {
			out[k] = v
		}
		out["schemaVersion"] = 3
		return out, nil
	})

	path, err := r.FindMigrationPath(v1, v3)
	if err != nil {
		t.Fatalf("FindMigrationPath: %v", err)
	}

	got, err := ApplyPath(path, Payload{"name": "ada"})
	if err != nil {
		t.Fatalf("ApplyPath: %v", err)
	}
	if got["firstName"] != "ada" {
		t.Errorf("firstName = %v, want ada", got["firstName"])
	}
	if got["schemaVersion"] != 3 {
		t.Errorf("schemaVersion = %v, want 3", got["schemaVersion"])
	}
}

func TestApplyPathPropagatesError(t *testing.T) {
	v1 := mustVersion(t, "user", 1, nil)
	v2 := mustVersion(t, "user", 2, nil)
	boom := errors.New("boom")

	m, _ := NewMigration(v1, v2, func(Payload) (Payload, error) { return nil, boom })

	if _, err := ApplyPath([]Migration{m}, Payload{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}
