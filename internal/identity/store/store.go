// Package store defines the contact persistence contract the linking engine
// depends on. Implementations live in the memory and postgres subpackages.
package store

import (
	"context"
	"time"

	"conflux/internal/identity/models"
	dErrors "conflux/pkg/domain-errors"
)

var (
	// ErrNotFound keeps storage-specific 404s consistent across
	// implementations.
	ErrNotFound = dErrors.New(dErrors.CodeNotFound, "contact record not found")

	// ErrConflict signals an optimistic update precondition failure. Under
	// the key locker it should not occur, but the contract defines it for
	// callers that bypass locking.
	ErrConflict = dErrors.New(dErrors.CodeConflict, "contact record was modified concurrently")
)

// UpdateFields holds the only mutations a contact record can receive after
// creation: demotion to secondary and repointing of its primary link. Nil
// fields are left untouched.
type UpdateFields struct {
	Precedence *models.Precedence
	LinkedID   *int64
}

// ContactStore is the durable storage contract. Soft-deleted records are
// invisible to every query.
type ContactStore interface {
	// FindByEmailOrPhone returns all non-deleted records whose email or phone
	// equals one of the given values. Nil arguments are ignored; result order
	// is unspecified.
	FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]models.ContactRecord, error)

	// FindComponent returns the primary with the given id plus all records
	// linked to it.
	FindComponent(ctx context.Context, primaryID int64) ([]models.ContactRecord, error)

	// ResolvePrimary returns the primary of the record's component, following
	// LinkedID when given a secondary.
	ResolvePrimary(ctx context.Context, recordID int64) (models.ContactRecord, error)

	// Create inserts a record, assigning id, createdAt and updatedAt.
	Create(ctx context.Context, rec models.ContactRecord) (models.ContactRecord, error)

	// Update mutates a record. When expectedUpdatedAt is non-nil the update
	// fails with ErrConflict unless the stored updatedAt matches.
	Update(ctx context.Context, id int64, fields UpdateFields, expectedUpdatedAt *time.Time) (models.ContactRecord, error)
}

// TxRunner provides the transactional boundary for multi-record mutations.
// Implementations guarantee that either every write inside fn lands or none
// do.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ContactStore) error) error
}

// SecondaryRelinker is an optional fast path: repoint a batch of secondaries
// at a new primary in one statement. Stores that do not implement it fall
// back to per-record Update calls.
type SecondaryRelinker interface {
	RelinkSecondaries(ctx context.Context, ids []int64, primaryID int64) error
}
