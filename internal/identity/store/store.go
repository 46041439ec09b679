// Package store persists identity records. The memory implementation backs
// unit tests and broker-less development; PostgreSQL is the production store.
package store

import (
	"context"
	"time"

	"sante/internal/identity/models"
	id "sante/pkg/domain"
)

// Store is the identity record repository. Implementations return
// sentinel.ErrNotFound for missing records and sentinel.ErrConflict when a
// create collides on (realm_id, user_id, kind).
type Store interface {
	Create(ctx context.Context, record *models.Record) error
	Get(ctx context.Context, recordID id.RecordID) (*models.Record, error)
	GetByUser(ctx context.Context, userID id.UserID) ([]*models.Record, error)
	GetByUserAndKind(ctx context.Context, userID id.UserID, kind models.Kind) (*models.Record, error)
	Update(ctx context.Context, record *models.Record) error

	// Delete physically removes a record. Only the hard-delete path uses it.
	Delete(ctx context.Context, recordID id.RecordID) error

	// ListAnonymizeDue returns soft-deleted, not yet anonymized records whose
	// grace period ends at or before cutoff.
	ListAnonymizeDue(ctx context.Context, cutoff time.Time, grace time.Duration, limit int) ([]*models.Record, error)

	// FindByCorrelationHash searches anonymized records for a matching
	// correlation hash.
	FindByCorrelationHash(ctx context.Context, hash string) ([]*models.Record, error)
}
