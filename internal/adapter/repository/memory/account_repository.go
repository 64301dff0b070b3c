package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/api-sage/retail-ledger/internal/domain"
)

// AccountRepository is an in-memory implementation of the persistence
// contract. It keeps the semantics of the postgres adapter (unique account
// numbers, version-guarded updates, atomic pair updates) so the ledger
// properties can be exercised without a database.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	numbers  map[string]string
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*domain.Account),
		numbers:  make(map[string]string),
	}
}

func clone(account *domain.Account) domain.Account {
	cp := *account
	cp.StatusHistory = make([]domain.StatusChange, len(account.StatusHistory))
	copy(cp.StatusHistory, account.StatusHistory)
	if account.Metadata.ClosingDate != nil {
		closing := *account.Metadata.ClosingDate
		cp.Metadata.ClosingDate = &closing
	}
	if account.Metadata.LastTransactionAt != nil {
		last := *account.Metadata.LastTransactionAt
		cp.Metadata.LastTransactionAt = &last
	}
	return cp
}

func (r *AccountRepository) Create(_ context.Context, account domain.Account) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.numbers[account.AccountNumber]; exists {
		return domain.Account{}, domain.ErrDuplicateAccountNumber
	}

	now := time.Now().UTC()
	account.Version = 1
	account.CreatedAt = now
	account.UpdatedAt = now

	stored := clone(&account)
	r.accounts[account.ID] = &stored
	r.numbers[account.AccountNumber] = account.ID

	return clone(&stored), nil
}

func (r *AccountRepository) GetByID(_ context.Context, id string) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, exists := r.accounts[id]
	if !exists {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return clone(account), nil
}

func (r *AccountRepository) GetByAccountNumber(_ context.Context, accountNumber string) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.numbers[accountNumber]
	if !exists {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return clone(r.accounts[id]), nil
}

func (r *AccountRepository) ListByOwner(_ context.Context, ownerID string) ([]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Account, 0)
	for _, account := range r.accounts {
		if account.OwnerID == ownerID {
			out = append(out, clone(account))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *AccountRepository) ListActive(_ context.Context) ([]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Account, 0)
	for _, account := range r.accounts {
		if account.IsActive {
			out = append(out, clone(account))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *AccountRepository) AccountNumberExists(_ context.Context, accountNumber string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.numbers[accountNumber]
	return exists, nil
}

func (r *AccountRepository) Update(_ context.Context, account domain.Account) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.updateLocked(account)
}

func (r *AccountRepository) UpdatePair(_ context.Context, first domain.Account, second domain.Account) (domain.Account, domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Both version checks run before either write so the pair commits
	// all-or-nothing.
	if err := r.checkVersionLocked(first); err != nil {
		return domain.Account{}, domain.Account{}, err
	}
	if err := r.checkVersionLocked(second); err != nil {
		return domain.Account{}, domain.Account{}, err
	}

	updatedFirst, err := r.updateLocked(first)
	if err != nil {
		return domain.Account{}, domain.Account{}, err
	}
	updatedSecond, err := r.updateLocked(second)
	if err != nil {
		return domain.Account{}, domain.Account{}, err
	}
	return updatedFirst, updatedSecond, nil
}

func (r *AccountRepository) SetPrimary(_ context.Context, ownerID string, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, exists := r.accounts[accountID]
	if !exists || target.OwnerID != ownerID {
		return domain.ErrAccountNotFound
	}

	now := time.Now().UTC()
	for _, account := range r.accounts {
		if account.OwnerID != ownerID {
			continue
		}
		isTarget := account.ID == accountID
		if account.IsPrimary != isTarget {
			account.IsPrimary = isTarget
			account.Version++
			account.UpdatedAt = now
		}
	}
	return nil
}

func (r *AccountRepository) checkVersionLocked(account domain.Account) error {
	stored, exists := r.accounts[account.ID]
	if !exists {
		return domain.ErrAccountNotFound
	}
	if stored.Version != account.Version {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

func (r *AccountRepository) updateLocked(account domain.Account) (domain.Account, error) {
	if err := r.checkVersionLocked(account); err != nil {
		return domain.Account{}, err
	}

	account.Version++
	account.UpdatedAt = time.Now().UTC()

	stored := clone(&account)
	r.accounts[account.ID] = &stored
	return clone(&stored), nil
}
