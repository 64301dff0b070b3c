package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusFrozen    AccountStatus = "FROZEN"
	AccountStatusClosed    AccountStatus = "CLOSED"
)

type AccountType string

const (
	AccountTypeSavings    AccountType = "SAVINGS"
	AccountTypeChecking   AccountType = "CHECKING"
	AccountTypeBusiness   AccountType = "BUSINESS"
	AccountTypeInvestment AccountType = "INVESTMENT"
)

// allowedTransitions maps a status to the statuses it may move to.
// CLOSED is terminal.
var allowedTransitions = map[AccountStatus][]AccountStatus{
	AccountStatusActive:    {AccountStatusSuspended, AccountStatusFrozen, AccountStatusClosed},
	AccountStatusSuspended: {AccountStatusActive, AccountStatusFrozen, AccountStatusClosed},
	AccountStatusFrozen:    {AccountStatusActive, AccountStatusSuspended, AccountStatusClosed},
	AccountStatusClosed:    {},
}

type StatusChange struct {
	Status    AccountStatus `json:"status"`
	Reason    string        `json:"reason"`
	Actor     string        `json:"actor"`
	ChangedAt time.Time     `json:"changedAt"`
}

// Metadata holds derived counters. They are only updated as a side effect
// of ledger operations, never set by callers.
type Metadata struct {
	OpeningDeposit    decimal.Decimal
	ClosingReason     string
	ClosingDate       *time.Time
	LastTransactionAt *time.Time
	TransactionCount  int64
	TotalCredits      decimal.Decimal
	TotalDebits       decimal.Decimal
}

// Account is the ledger entity. Balance, AvailableBalance, OverdraftLimit
// and OverdraftUsed are all non-negative; AvailableBalance never exceeds
// Balance and OverdraftUsed never exceeds OverdraftLimit. Negative exposure
// lives entirely in OverdraftUsed, the stored Balance never goes below zero.
type Account struct {
	ID                    string
	AccountNumber         string
	OwnerID               string
	AccountType           AccountType
	Currency              string
	Balance               decimal.Decimal
	AvailableBalance      decimal.Decimal
	OverdraftLimit        decimal.Decimal
	OverdraftUsed         decimal.Decimal
	DailyLimit            decimal.Decimal
	MonthlyLimit          decimal.Decimal
	MinimumBalance        decimal.Decimal
	InterestRate          decimal.Decimal
	LastInterestAccrualAt time.Time
	IsActive              bool
	IsPrimary             bool
	StatusHistory         []StatusChange
	Metadata              Metadata
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Quantize rounds a monetary amount to 2 decimal places, half away from
// zero. Every monetary field assignment goes through this to prevent
// fractional-cent drift across repeated accruals.
func Quantize(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Status returns the current status, the last entry of the append-only
// history. Accounts are created with a seeded ACTIVE entry.
func (a *Account) Status() AccountStatus {
	if len(a.StatusHistory) == 0 {
		return AccountStatusActive
	}
	return a.StatusHistory[len(a.StatusHistory)-1].Status
}

func (a *Account) AvailableOverdraft() decimal.Decimal {
	return a.OverdraftLimit.Sub(a.OverdraftUsed)
}

// TotalAvailableFunds is the amount immediately debitable: available
// balance plus unused overdraft headroom.
func (a *Account) TotalAvailableFunds() decimal.Decimal {
	return a.AvailableBalance.Add(a.AvailableOverdraft())
}

func (a *Account) CanDebit(amount decimal.Decimal) bool {
	return a.TotalAvailableFunds().GreaterThanOrEqual(amount)
}

func (a *Account) CanTransitionTo(next AccountStatus) bool {
	for _, allowed := range allowedTransitions[a.Status()] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Validate checks the per-entity invariants. A failure here is a
// programming-contract violation, not a recoverable business failure.
func (a *Account) Validate() error {
	if a.Balance.IsNegative() {
		return &InvariantViolationError{Field: "balance", Detail: "balance is negative"}
	}
	if a.AvailableBalance.IsNegative() {
		return &InvariantViolationError{Field: "availableBalance", Detail: "available balance is negative"}
	}
	if a.AvailableBalance.GreaterThan(a.Balance) {
		return &InvariantViolationError{Field: "availableBalance", Detail: "available balance exceeds balance"}
	}
	if a.OverdraftLimit.IsNegative() {
		return &InvariantViolationError{Field: "overdraftLimit", Detail: "overdraft limit is negative"}
	}
	if a.OverdraftUsed.IsNegative() {
		return &InvariantViolationError{Field: "overdraftUsed", Detail: "overdraft used is negative"}
	}
	if a.OverdraftUsed.GreaterThan(a.OverdraftLimit) {
		return &InvariantViolationError{Field: "overdraftUsed", Detail: "overdraft used exceeds overdraft limit"}
	}
	if a.DailyLimit.IsNegative() || a.MonthlyLimit.IsNegative() || a.MinimumBalance.IsNegative() {
		return &InvariantViolationError{Field: "limits", Detail: "policy limits cannot be negative"}
	}
	if a.InterestRate.IsNegative() || a.InterestRate.GreaterThan(decimal.NewFromInt(1)) {
		return &InvariantViolationError{Field: "interestRate", Detail: "interest rate must be within [0, 1]"}
	}
	return nil
}

// Snapshot is the value the orchestration layer receives. Formatting and
// masking for display are the caller's responsibility.
type Snapshot struct {
	ID                    string
	AccountNumber         string
	OwnerID               string
	AccountType           AccountType
	Currency              string
	Balance               decimal.Decimal
	AvailableBalance      decimal.Decimal
	OverdraftLimit        decimal.Decimal
	OverdraftUsed         decimal.Decimal
	DailyLimit            decimal.Decimal
	MonthlyLimit          decimal.Decimal
	MinimumBalance        decimal.Decimal
	InterestRate          decimal.Decimal
	LastInterestAccrualAt time.Time
	Status                AccountStatus
	IsActive              bool
	IsPrimary             bool
	StatusHistory         []StatusChange
	Metadata              Metadata
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (a *Account) Snapshot() Snapshot {
	history := make([]StatusChange, len(a.StatusHistory))
	copy(history, a.StatusHistory)

	return Snapshot{
		ID:                    a.ID,
		AccountNumber:         a.AccountNumber,
		OwnerID:               a.OwnerID,
		AccountType:           a.AccountType,
		Currency:              a.Currency,
		Balance:               a.Balance,
		AvailableBalance:      a.AvailableBalance,
		OverdraftLimit:        a.OverdraftLimit,
		OverdraftUsed:         a.OverdraftUsed,
		DailyLimit:            a.DailyLimit,
		MonthlyLimit:          a.MonthlyLimit,
		MinimumBalance:        a.MinimumBalance,
		InterestRate:          a.InterestRate,
		LastInterestAccrualAt: a.LastInterestAccrualAt,
		Status:                a.Status(),
		IsActive:              a.IsActive,
		IsPrimary:             a.IsPrimary,
		StatusHistory:         history,
		Metadata:              a.Metadata,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

func ValidAccountType(t AccountType) bool {
	switch t {
	case AccountTypeSavings, AccountTypeChecking, AccountTypeBusiness, AccountTypeInvestment:
		return true
	}
	return false
}

func ValidAccountStatus(s AccountStatus) bool {
	switch s {
	case AccountStatusActive, AccountStatusSuspended, AccountStatusFrozen, AccountStatusClosed:
		return true
	}
	return false
}
