package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/api-sage/retail-ledger/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/retail-ledger/internal/domain"
	"github.com/api-sage/retail-ledger/internal/logger"
	"github.com/api-sage/retail-ledger/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Default policy values applied at account opening.
var (
	defaultDailyLimit     = decimal.NewFromInt(10000)
	defaultMonthlyLimit   = decimal.NewFromInt(100000)
	defaultMinimumBalance = decimal.NewFromInt(1000)
	defaultInterestRate   = decimal.RequireFromString("0.02")
)

// AccountService coordinates account creation, status transitions and the
// one-primary-per-owner rule. Owner-level changes are serialized on an
// owner key of the same lock table the ledger uses for balance mutations.
type AccountService struct {
	accountRepo    repo_interfaces.AccountRepository
	locks          *LockTable
	collector      *metrics.Collector
	now            func() time.Time
	numberAttempts int
}

func NewAccountService(
	accountRepo repo_interfaces.AccountRepository,
	locks *LockTable,
	collector *metrics.Collector,
	now func() time.Time,
	numberAttempts int,
) *AccountService {
	if now == nil {
		now = time.Now
	}
	if numberAttempts <= 0 {
		numberAttempts = 5
	}
	return &AccountService{
		accountRepo:    accountRepo,
		locks:          locks,
		collector:      collector,
		now:            now,
		numberAttempts: numberAttempts,
	}
}

func ownerKey(ownerID string) string {
	return "owner/" + ownerID
}

func (s *AccountService) CreateAccount(ctx context.Context, ownerID string, accountType domain.AccountType, currency string, initialDeposit decimal.Decimal) (domain.Snapshot, error) {
	started := time.Now()
	snapshot, err := s.createAccount(ctx, ownerID, accountType, currency, initialDeposit)
	s.collector.RecordOperation("create_account", err, time.Since(started))
	return snapshot, err
}

func (s *AccountService) createAccount(ctx context.Context, ownerID string, accountType domain.AccountType, currency string, initialDeposit decimal.Decimal) (domain.Snapshot, error) {
	logger.Info("account service create account request", logger.Fields{
		"ownerId":     ownerID,
		"accountType": accountType,
		"currency":    currency,
	})

	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Snapshot{}, fmt.Errorf("ownerId is required")
	}
	if !domain.ValidAccountType(accountType) {
		return domain.Snapshot{}, fmt.Errorf("accountType %q is not supported", accountType)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !isCurrencyCode(currency) {
		return domain.Snapshot{}, fmt.Errorf("currency must be a 3-letter code")
	}
	if initialDeposit.IsNegative() {
		return domain.Snapshot{}, domain.ErrInvalidAmount
	}
	if !initialDeposit.Equal(domain.Quantize(initialDeposit)) {
		return domain.Snapshot{}, fmt.Errorf("%w: more than 2 decimal places", domain.ErrInvalidAmount)
	}

	release, err := s.locks.Acquire(ctx, ownerKey(ownerID))
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer release()

	existing, err := s.accountRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		logger.Error("account service list owner accounts failed", err, logger.Fields{
			"ownerId": ownerID,
		})
		return domain.Snapshot{}, err
	}

	now := s.now().UTC()
	account := domain.Account{
		ID:                    uuid.NewString(),
		OwnerID:               ownerID,
		AccountType:           accountType,
		Currency:              currency,
		Balance:               decimal.Zero,
		AvailableBalance:      decimal.Zero,
		OverdraftLimit:        decimal.Zero,
		OverdraftUsed:         decimal.Zero,
		DailyLimit:            defaultDailyLimit,
		MonthlyLimit:          defaultMonthlyLimit,
		MinimumBalance:        minimumBalanceFor(accountType),
		InterestRate:          defaultInterestRate,
		LastInterestAccrualAt: now,
		IsActive:              true,
		// The owner's first account becomes the primary one.
		IsPrimary: len(existing) == 0,
		StatusHistory: []domain.StatusChange{{
			Status:    domain.AccountStatusActive,
			Reason:    "account opened",
			Actor:     "system",
			ChangedAt: now,
		}},
	}

	if initialDeposit.IsPositive() {
		deposit := domain.Quantize(initialDeposit)
		account.Balance = deposit
		account.AvailableBalance = deposit
		account.Metadata.OpeningDeposit = deposit
		account.Metadata.TotalCredits = deposit
		account.Metadata.TransactionCount = 1
		account.Metadata.LastTransactionAt = &now
	}

	if err := account.Validate(); err != nil {
		s.collector.RecordInvariantViolation()
		return domain.Snapshot{}, err
	}

	// The generation loop pre-checks for collisions but the storage
	// unique index is authoritative; a create racing another creation
	// loses with ErrDuplicateAccountNumber and retries with a fresh
	// candidate.
	var created domain.Account
	for attempt := 0; attempt < s.numberAttempts; attempt++ {
		candidate := generateAccountNumber(time.Now())

		exists, err := s.accountRepo.AccountNumberExists(ctx, candidate)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if exists {
			continue
		}

		account.AccountNumber = candidate
		created, err = s.accountRepo.Create(ctx, account)
		if err == nil {
			logger.Info("account service create account success", logger.Fields{
				"accountId":     created.ID,
				"accountNumber": created.AccountNumber,
				"ownerId":       created.OwnerID,
			})
			return created.Snapshot(), nil
		}
		if !errors.Is(err, domain.ErrDuplicateAccountNumber) {
			logger.Error("account service create account repository failed", err, logger.Fields{
				"ownerId": ownerID,
			})
			return domain.Snapshot{}, err
		}
	}

	logger.Error("account service account number attempts exhausted", domain.ErrDuplicateAccountNumber, logger.Fields{
		"ownerId":  ownerID,
		"attempts": s.numberAttempts,
	})
	return domain.Snapshot{}, domain.ErrDuplicateAccountNumber
}

// SetPrimary makes the account the owner's single primary one. The swap is
// one repository-level step, so no reader can observe two primaries.
func (s *AccountService) SetPrimary(ctx context.Context, accountID string) error {
	started := time.Now()
	err := s.setPrimary(ctx, accountID)
	s.collector.RecordOperation("set_primary", err, time.Since(started))
	return err
}

func (s *AccountService) setPrimary(ctx context.Context, accountID string) error {
	logger.Info("account service set primary request", logger.Fields{
		"accountId": accountID,
	})

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	release, err := s.locks.Acquire(ctx, ownerKey(account.OwnerID))
	if err != nil {
		return err
	}
	defer release()

	account, err = s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Status() == domain.AccountStatusClosed {
		return domain.ErrAccountNotActive
	}

	if err := s.accountRepo.SetPrimary(ctx, account.OwnerID, account.ID); err != nil {
		logger.Error("account service set primary failed", err, logger.Fields{
			"accountId": accountID,
			"ownerId":   account.OwnerID,
		})
		return err
	}

	logger.Info("account service set primary success", logger.Fields{
		"accountId": accountID,
		"ownerId":   account.OwnerID,
	})
	return nil
}

func (s *AccountService) ChangeStatus(ctx context.Context, accountID string, newStatus domain.AccountStatus, reason, actor string) error {
	started := time.Now()
	err := s.changeStatus(ctx, accountID, newStatus, reason, actor)
	s.collector.RecordOperation("change_status", err, time.Since(started))
	return err
}

func (s *AccountService) changeStatus(ctx context.Context, accountID string, newStatus domain.AccountStatus, reason, actor string) error {
	logger.Info("account service change status request", logger.Fields{
		"accountId": accountID,
		"newStatus": newStatus,
		"actor":     actor,
	})

	if !domain.ValidAccountStatus(newStatus) {
		return domain.ErrInvalidStatusChange
	}

	release, err := s.locks.Acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	if !account.CanTransitionTo(newStatus) {
		logger.Info("account service status transition rejected", logger.Fields{
			"accountId": accountID,
			"from":      account.Status(),
			"to":        newStatus,
		})
		return domain.ErrInvalidStatusChange
	}

	now := s.now().UTC()
	account.StatusHistory = append(account.StatusHistory, domain.StatusChange{
		Status:    newStatus,
		Reason:    reason,
		Actor:     actor,
		ChangedAt: now,
	})
	account.IsActive = newStatus == domain.AccountStatusActive

	if newStatus == domain.AccountStatusClosed {
		account.IsPrimary = false
		account.Metadata.ClosingReason = reason
		account.Metadata.ClosingDate = &now
	}

	if _, err := s.accountRepo.Update(ctx, account); err != nil {
		logger.Error("account service change status persist failed", err, logger.Fields{
			"accountId": accountID,
		})
		return err
	}

	logger.Info("account service change status success", logger.Fields{
		"accountId": accountID,
		"newStatus": newStatus,
	})
	return nil
}

func minimumBalanceFor(accountType domain.AccountType) decimal.Decimal {
	if accountType == domain.AccountTypeSavings {
		return defaultMinimumBalance
	}
	return decimal.Zero
}

func isCurrencyCode(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for _, ch := range currency {
		if ch < 'A' || ch > 'Z' {
			return false
		}
	}
	return true
}
