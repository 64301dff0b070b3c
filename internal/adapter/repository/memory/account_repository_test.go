package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/api-sage/retail-ledger/internal/adapter/repository/memory"
	"github.com/api-sage/retail-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

func newAccount(id, number, ownerID string) domain.Account {
	return domain.Account{
		ID:            id,
		AccountNumber: number,
		OwnerID:       ownerID,
		AccountType:   domain.AccountTypeChecking,
		Currency:      "USD",
		IsActive:      true,
		StatusHistory: []domain.StatusChange{{Status: domain.AccountStatusActive}},
	}
}

func TestCreateRejectsDuplicateAccountNumber(t *testing.T) {
	repo := memory.NewAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, newAccount("acc-1", "ACC001", "owner-1"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("new account version = %d, want 1", created.Version)
	}

	_, err = repo.Create(ctx, newAccount("acc-2", "ACC001", "owner-2"))
	if !errors.Is(err, domain.ErrDuplicateAccountNumber) {
		t.Fatalf("expected ErrDuplicateAccountNumber, got %v", err)
	}

	byNumber, err := repo.GetByAccountNumber(ctx, "ACC001")
	if err != nil {
		t.Fatalf("lookup by number failed: %v", err)
	}
	if byNumber.ID != "acc-1" {
		t.Fatalf("number resolves to %s, want acc-1", byNumber.ID)
	}
}

func TestUpdateDetectsStaleVersion(t *testing.T) {
	repo := memory.NewAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, newAccount("acc-1", "ACC001", "owner-1"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first := created
	first.Balance = decimal.NewFromInt(10)
	first.AvailableBalance = decimal.NewFromInt(10)
	updated, err := repo.Update(ctx, first)
	if err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if updated.Version != created.Version+1 {
		t.Fatalf("version = %d, want %d", updated.Version, created.Version+1)
	}

	stale := created
	stale.Balance = decimal.NewFromInt(99)
	if _, err := repo.Update(ctx, stale); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("stale update: expected ErrConcurrencyConflict, got %v", err)
	}

	current, _ := repo.GetByID(ctx, "acc-1")
	if !current.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("stale update overwrote balance: %s", current.Balance)
	}
}

func TestUpdatePairIsAllOrNothing(t *testing.T) {
	repo := memory.NewAccountRepository()
	ctx := context.Background()

	a, err := repo.Create(ctx, newAccount("acc-a", "ACC00A", "owner-1"))
	if err != nil {
		t.Fatalf("create a failed: %v", err)
	}
	b, err := repo.Create(ctx, newAccount("acc-b", "ACC00B", "owner-2"))
	if err != nil {
		t.Fatalf("create b failed: %v", err)
	}

	a.Balance = decimal.NewFromInt(70)
	staleB := b
	staleB.Version = b.Version + 5
	staleB.Balance = decimal.NewFromInt(80)

	if _, _, err := repo.UpdatePair(ctx, a, staleB); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}

	// The first leg must not have committed.
	storedA, _ := repo.GetByID(ctx, "acc-a")
	if !storedA.Balance.IsZero() {
		t.Fatalf("first leg committed despite stale second leg: %s", storedA.Balance)
	}
	if storedA.Version != a.Version {
		t.Fatalf("first leg version bumped to %d despite rollback", storedA.Version)
	}
}

func TestSetPrimaryKeepsExactlyOnePrimaryPerOwner(t *testing.T) {
	repo := memory.NewAccountRepository()
	ctx := context.Background()

	first := newAccount("acc-1", "ACC001", "owner-1")
	first.IsPrimary = true
	if _, err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create first failed: %v", err)
	}
	if _, err := repo.Create(ctx, newAccount("acc-2", "ACC002", "owner-1")); err != nil {
		t.Fatalf("create second failed: %v", err)
	}

	other := newAccount("acc-3", "ACC003", "owner-2")
	other.IsPrimary = true
	if _, err := repo.Create(ctx, other); err != nil {
		t.Fatalf("create other-owner account failed: %v", err)
	}

	if err := repo.SetPrimary(ctx, "owner-1", "acc-2"); err != nil {
		t.Fatalf("set primary failed: %v", err)
	}

	owned, err := repo.ListByOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list by owner failed: %v", err)
	}
	primaries := 0
	for _, account := range owned {
		if account.IsPrimary {
			primaries++
			if account.ID != "acc-2" {
				t.Fatalf("wrong primary: %s", account.ID)
			}
		}
	}
	if primaries != 1 {
		t.Fatalf("owner-1 has %d primaries, want 1", primaries)
	}

	untouched, _ := repo.GetByID(ctx, "acc-3")
	if !untouched.IsPrimary {
		t.Fatal("another owner's primary was disturbed")
	}

	if err := repo.SetPrimary(ctx, "owner-2", "acc-1"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("cross-owner set primary: expected ErrAccountNotFound, got %v", err)
	}
}

func TestListActiveExcludesInactiveAccounts(t *testing.T) {
	repo := memory.NewAccountRepository()
	ctx := context.Background()

	if _, err := repo.Create(ctx, newAccount("acc-1", "ACC001", "owner-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	closed := newAccount("acc-2", "ACC002", "owner-1")
	closed.IsActive = false
	closed.StatusHistory = append(closed.StatusHistory, domain.StatusChange{Status: domain.AccountStatusClosed})
	if _, err := repo.Create(ctx, closed); err != nil {
		t.Fatalf("create closed failed: %v", err)
	}

	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "acc-1" {
		t.Fatalf("unexpected active set: %+v", active)
	}
}
