package domain_test

import (
	"testing"
	"time"

	"github.com/api-sage/retail-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestQuantizeRoundsHalfAwayFromZero(t *testing.T) {
	cases := map[string]string{
		"10.005":  "10.01",
		"10.004":  "10.00",
		"-10.005": "-10.01",
		"0.125":   "0.13",
	}

	for in, want := range cases {
		got := domain.Quantize(dec(in))
		if !got.Equal(dec(want)) {
			t.Fatalf("Quantize(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestTotalAvailableFundsIncludesOverdraftHeadroom(t *testing.T) {
	account := domain.Account{
		Balance:          dec("100.00"),
		AvailableBalance: dec("80.00"),
		OverdraftLimit:   dec("50.00"),
		OverdraftUsed:    dec("10.00"),
	}

	if got := account.TotalAvailableFunds(); !got.Equal(dec("120.00")) {
		t.Fatalf("TotalAvailableFunds = %s, want 120.00", got)
	}
	if !account.CanDebit(dec("120.00")) {
		t.Fatal("expected CanDebit(120.00) to be true")
	}
	if account.CanDebit(dec("120.01")) {
		t.Fatal("expected CanDebit(120.01) to be false")
	}
}

func TestValidateRejectsBrokenInvariants(t *testing.T) {
	base := func() domain.Account {
		return domain.Account{
			Balance:          dec("100.00"),
			AvailableBalance: dec("100.00"),
			OverdraftLimit:   dec("50.00"),
			InterestRate:     dec("0.02"),
		}
	}

	cases := []struct {
		name   string
		mutate func(*domain.Account)
	}{
		{"negative balance", func(a *domain.Account) { a.Balance = dec("-1") }},
		{"negative available", func(a *domain.Account) { a.AvailableBalance = dec("-1") }},
		{"available exceeds balance", func(a *domain.Account) { a.AvailableBalance = dec("100.01") }},
		{"overdraft used exceeds limit", func(a *domain.Account) { a.OverdraftUsed = dec("50.01") }},
		{"negative overdraft limit", func(a *domain.Account) { a.OverdraftLimit = dec("-1") }},
		{"interest rate above one", func(a *domain.Account) { a.InterestRate = dec("1.01") }},
		{"negative daily limit", func(a *domain.Account) { a.DailyLimit = dec("-1") }},
	}

	for _, tc := range cases {
		account := base()
		tc.mutate(&account)
		err := account.Validate()
		if err == nil {
			t.Fatalf("%s: expected invariant violation", tc.name)
		}
		if !domain.IsInvariantViolation(err) {
			t.Fatalf("%s: expected InvariantViolationError, got %v", tc.name, err)
		}
	}

	valid := base()
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid account rejected: %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	account := domain.Account{
		StatusHistory: []domain.StatusChange{{Status: domain.AccountStatusActive}},
	}

	if !account.CanTransitionTo(domain.AccountStatusFrozen) {
		t.Fatal("active should be allowed to freeze")
	}
	if !account.CanTransitionTo(domain.AccountStatusClosed) {
		t.Fatal("active should be allowed to close")
	}
	if account.CanTransitionTo(domain.AccountStatusActive) {
		t.Fatal("transition to the current status should be rejected")
	}

	account.StatusHistory = append(account.StatusHistory, domain.StatusChange{Status: domain.AccountStatusClosed})
	for _, next := range []domain.AccountStatus{
		domain.AccountStatusActive,
		domain.AccountStatusSuspended,
		domain.AccountStatusFrozen,
	} {
		if account.CanTransitionTo(next) {
			t.Fatalf("closed is terminal, transition to %s should be rejected", next)
		}
	}
}

func TestSnapshotIsDetachedFromEntity(t *testing.T) {
	now := time.Now()
	account := domain.Account{
		ID:      "acc-1",
		Balance: dec("10.00"),
		StatusHistory: []domain.StatusChange{
			{Status: domain.AccountStatusActive, ChangedAt: now},
		},
	}

	snapshot := account.Snapshot()
	snapshot.StatusHistory[0].Status = domain.AccountStatusClosed

	if account.Status() != domain.AccountStatusActive {
		t.Fatal("mutating a snapshot must not affect the entity")
	}
	if snapshot.Status != domain.AccountStatusActive {
		t.Fatalf("snapshot status = %s, want ACTIVE", snapshot.Status)
	}
}
