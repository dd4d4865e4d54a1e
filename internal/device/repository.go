package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device inventory persistence.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByName retrieves a provisioned device by name.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByName(ctx context.Context, name string) (*Descriptor, error)

	// List retrieves all provisioned devices ordered by name.
	List(ctx context.Context) ([]Descriptor, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the name is already provisioned.
	Create(ctx context.Context, d *Descriptor) error

	// Delete removes a device by name.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, name string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByName retrieves a provisioned device by name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Descriptor, error) {
	query := `
		SELECT name, secret, metadata, created_at, updated_at
		FROM devices
		WHERE name = ?`

	d, err := scanDescriptor(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by name: %w", err)
	}
	return d, nil
}

// List retrieves all provisioned devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Descriptor, error) {
	query := `
		SELECT name, secret, metadata, created_at, updated_at
		FROM devices
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var descriptors []Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		descriptors = append(descriptors, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return descriptors, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Descriptor) error {
	metadata, err := json.Marshal(metadataOrEmpty(d.Metadata))
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (name, secret, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		d.Name,
		d.Secret,
		string(metadata),
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Delete removes a device by name.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning logic.
type scanner interface {
	Scan(dest ...any) error
}

// scanDescriptor scans a device row into a Descriptor.
func scanDescriptor(s scanner) (*Descriptor, error) {
	var d Descriptor
	var metadata, createdAt, updatedAt string

	if err := s.Scan(&d.Name, &d.Secret, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &d.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata for %s: %w", d.Name, err)
		}
	}

	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for %s: %w", d.Name, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for %s: %w", d.Name, err)
	}

	return &d, nil
}

// metadataOrEmpty normalizes nil metadata to an empty map so the stored
// JSON is always an object.
func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
