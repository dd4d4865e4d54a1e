package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the operators table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE operators (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			display_name  TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			disabled      INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,
			last_login_at TEXT
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

func TestOperatorCreateAndGet(t *testing.T) {
	repo := NewOperatorRepository(setupTestDB(t))
	ctx := context.Background()

	op := &Operator{Username: "dispatch", DisplayName: "Dispatch Desk", PasswordHash: "hash"}
	if err := repo.Create(ctx, op); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if op.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}

	byID, err := repo.GetByID(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Username != "dispatch" {
		t.Errorf("Username = %q, want dispatch", byID.Username)
	}

	byName, err := repo.GetByUsername(ctx, "dispatch")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if byName.ID != op.ID {
		t.Errorf("ID = %q, want %q", byName.ID, op.ID)
	}
	if byName.LastLoginAt != nil {
		t.Errorf("LastLoginAt = %v, want nil before first login", byName.LastLoginAt)
	}
}

func TestOperatorDuplicateUsername(t *testing.T) {
	repo := NewOperatorRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, &Operator{Username: "dispatch", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, &Operator{Username: "dispatch", PasswordHash: "h"})
	if !errors.Is(err, ErrUsernameExists) {
		t.Errorf("Create() duplicate error = %v, want ErrUsernameExists", err)
	}
}

func TestOperatorNotFound(t *testing.T) {
	repo := NewOperatorRepository(setupTestDB(t))
	ctx := context.Background()

	if _, err := repo.GetByUsername(ctx, "ghost"); !errors.Is(err, ErrOperatorNotFound) {
		t.Errorf("GetByUsername() error = %v, want ErrOperatorNotFound", err)
	}
	if err := repo.UpdatePassword(ctx, "opr-ghost", "h"); !errors.Is(err, ErrOperatorNotFound) {
		t.Errorf("UpdatePassword() error = %v, want ErrOperatorNotFound", err)
	}
	if err := repo.Delete(ctx, "opr-ghost"); !errors.Is(err, ErrOperatorNotFound) {
		t.Errorf("Delete() error = %v, want ErrOperatorNotFound", err)
	}
}

func TestOperatorRecordLogin(t *testing.T) {
	repo := NewOperatorRepository(setupTestDB(t))
	ctx := context.Background()

	op := &Operator{Username: "dispatch", PasswordHash: "h"}
	if err := repo.Create(ctx, op); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	when := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.RecordLogin(ctx, op.ID, when); err != nil {
		t.Fatalf("RecordLogin() error = %v", err)
	}

	got, err := repo.GetByID(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(when) {
		t.Errorf("LastLoginAt = %v, want %v", got.LastLoginAt, when)
	}
}

func TestOperatorCountAndList(t *testing.T) {
	repo := NewOperatorRepository(setupTestDB(t))
	ctx := context.Background()

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}

	for _, name := range []string{"alpha", "bravo"} {
		if err := repo.Create(ctx, &Operator{Username: name, PasswordHash: "h"}); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	ops, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ops) != 2 {
		t.Errorf("List() = %d operators, want 2", len(ops))
	}
}
