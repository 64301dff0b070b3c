package repo_interfaces

import (
	"context"

	"github.com/api-sage/retail-ledger/internal/domain"
)

// AccountRepository is the persistence contract of the ledger core. The
// store must provide a unique constraint on account numbers and a
// version-guarded update primitive.
//
// Update and UpdatePair compare the entity's Version against the stored
// row and fail with domain.ErrConcurrencyConflict on mismatch; on success
// the returned entity carries the incremented version. UpdatePair applies
// both updates atomically (both rows or neither).
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) (domain.Account, error)
	GetByID(ctx context.Context, id string) (domain.Account, error)
	GetByAccountNumber(ctx context.Context, accountNumber string) (domain.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)
	ListActive(ctx context.Context) ([]domain.Account, error)
	AccountNumberExists(ctx context.Context, accountNumber string) (bool, error)
	Update(ctx context.Context, account domain.Account) (domain.Account, error)
	UpdatePair(ctx context.Context, first domain.Account, second domain.Account) (domain.Account, domain.Account, error)
	// SetPrimary marks the given account primary and clears the flag on
	// every other account of the owner in one atomic step.
	SetPrimary(ctx context.Context, ownerID string, accountID string) error
}
