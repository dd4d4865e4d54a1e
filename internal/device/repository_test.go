package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			name        TEXT PRIMARY KEY,
			secret      TEXT NOT NULL,
			metadata    TEXT NOT NULL DEFAULT '{}',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testDescriptor creates a descriptor for testing.
func testDescriptor(name string) *Descriptor {
	return &Descriptor{
		Name:   name,
		Secret: "secret-" + name,
		Metadata: map[string]string{
			"model": "quadcopter-mk2",
		},
	}
}

func TestRepositoryCreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	want := testDescriptor("drone-alpha")
	if err := repo.Create(ctx, want); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByName(ctx, "drone-alpha")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}

	if got.Name != want.Name {
		t.Errorf("Name = %q, want %q", got.Name, want.Name)
	}
	if got.Secret != want.Secret {
		t.Errorf("Secret = %q, want %q", got.Secret, want.Secret)
	}
	if got.Metadata["model"] != "quadcopter-mk2" {
		t.Errorf("Metadata[model] = %q, want quadcopter-mk2", got.Metadata["model"])
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestRepositoryGetNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.GetByName(context.Background(), "nonexistent")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByName() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepositoryCreateDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDescriptor("drone-alpha")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, testDescriptor("drone-alpha"))
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create() duplicate error = %v, want ErrDeviceExists", err)
	}
}

func TestRepositoryList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"drone-charlie", "drone-alpha", "drone-bravo"} {
		if err := repo.Create(ctx, testDescriptor(name)); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	got, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	want := []string{"drone-alpha", "drone-bravo", "drone-charlie"}
	if len(got) != len(want) {
		t.Fatalf("List() returned %d devices, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("List()[%d].Name = %q, want %q", i, got[i].Name, name)
		}
	}
}

func TestRepositoryDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDescriptor("drone-alpha")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.Delete(ctx, "drone-alpha"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	_, err := repo.GetByName(ctx, "drone-alpha")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByName() after delete error = %v, want ErrDeviceNotFound", err)
	}

	if err := repo.Delete(ctx, "drone-alpha"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() missing device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepositoryNilMetadata(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := &Descriptor{Name: "drone-bare", Secret: "s"}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByName(ctx, "drone-bare")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if got.Metadata != nil {
		t.Errorf("Metadata = %v, want nil for empty object", got.Metadata)
	}
}
