package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines entitlement persistence. Any implementation satisfying
// these compare-and-set semantics works: a relational table with a version
// column, or a key-value entry with a version field.
type Store interface {
	// Get retrieves an account by ID, including its transition history.
	// Returns ErrAccountNotFound if no account exists.
	Get(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindByEmail retrieves an account by its registration email.
	// Returns ErrAccountNotFound if no account exists.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Create persists a new account. Returns ErrAccountExists if the ID or
	// email is already registered.
	Create(ctx context.Context, acc *Account) error

	// CompareAndSet persists the account if its stored version still equals
	// expectedVersion, bumping acc.Version on success. A concurrent write
	// since the read fails with ErrVersionConflict and must be retried from
	// a fresh read, never silently overwritten.
	CompareAndSet(ctx context.Context, acc *Account, expectedVersion int64) error

	// PendingDowngrades returns IDs of accounts in pending_downgrade whose
	// current tier took effect at or before the given cutoff. Used by the
	// reconciliation sweep.
	PendingDowngrades(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}
