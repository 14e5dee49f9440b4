package repository

import (
	"context"
	"errors"

	"plangate/pkg/models"
)

// ErrNotFound is returned when no audit entry matches a lookup.
var ErrNotFound = errors.New("audit entry not found")

// AuditStore is an interface for recording and reading validation audit entries.
type AuditStore interface {
	// Record appends an entry to the log.
	Record(ctx context.Context, entry models.AuditEntry) error
	// Get retrieves the entry written for a validation ID.
	Get(ctx context.Context, validationID string) (*models.AuditEntry, error)
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]models.AuditEntry, error)
}
