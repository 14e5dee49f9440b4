package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"plangate/pkg/models"
)

const auditSchema = `CREATE TABLE IF NOT EXISTS validation_audit (
	id UUID PRIMARY KEY,
	validation_id UUID NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	fingerprint TEXT NOT NULL,
	valid BOOLEAN NOT NULL,
	errors INT NOT NULL,
	warnings INT NOT NULL,
	corrections INT NOT NULL
);
CREATE INDEX IF NOT EXISTS validation_audit_created_at_idx ON validation_audit (created_at DESC);
CREATE INDEX IF NOT EXISTS validation_audit_validation_id_idx ON validation_audit (validation_id);`

const auditColumns = "id, validation_id, created_at, fingerprint, valid, errors, warnings, corrections"

// PostgresAuditStore is a PostgreSQL implementation of the AuditStore interface.
type PostgresAuditStore struct {
	db *pgxpool.Pool
}

// NewPostgresAuditStore creates a new PostgresAuditStore.
func NewPostgresAuditStore(db *pgxpool.Pool) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

// EnsureSchema creates the audit table and its indexes if they do not exist.
func (s *PostgresAuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record saves an audit entry to the store.
func (s *PostgresAuditStore) Record(ctx context.Context, entry models.AuditEntry) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO validation_audit ("+auditColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		entry.ID, entry.ValidationID, entry.Timestamp, entry.Fingerprint,
		entry.Valid, entry.Errors, entry.Warnings, entry.Corrections,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Get retrieves the audit entry for a validation ID.
func (s *PostgresAuditStore) Get(ctx context.Context, validationID string) (*models.AuditEntry, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+auditColumns+" FROM validation_audit WHERE validation_id = $1 ORDER BY created_at DESC LIMIT 1",
		validationID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns up to limit audit entries, newest first.
func (s *PostgresAuditStore) List(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+auditColumns+" FROM validation_audit ORDER BY created_at DESC LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (models.AuditEntry, error) {
	var e models.AuditEntry
	err := row.Scan(&e.ID, &e.ValidationID, &e.Timestamp, &e.Fingerprint,
		&e.Valid, &e.Errors, &e.Warnings, &e.Corrections)
	return e, err
}
