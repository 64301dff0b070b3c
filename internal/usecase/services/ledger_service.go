package services

import (
	"context"
	"fmt"
	"time"

	"github.com/api-sage/retail-ledger/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/retail-ledger/internal/domain"
	"github.com/api-sage/retail-ledger/internal/logger"
	"github.com/api-sage/retail-ledger/pkg/metrics"
	"github.com/shopspring/decimal"
)

// LedgerService is the balance mutation engine. Every operation loads the
// account under its per-account lock, validates against that snapshot,
// mutates, re-checks the entity invariants and persists through the
// version-guarded repository, so a check never races its own write.
//
// Policy decisions carried by this engine:
//   - credits (and accrued interest) repay overdraft before increasing the
//     balance;
//   - FROZEN and SUSPENDED accounts accept credits but reject debits and
//     holds; CLOSED rejects everything;
//   - balance and available balance floor at zero, the deficit of a debit
//     past the cash balance is tracked in overdraftUsed.
type LedgerService struct {
	accountRepo repo_interfaces.AccountRepository
	locks       *LockTable
	collector   *metrics.Collector
	now         func() time.Time
}

func NewLedgerService(
	accountRepo repo_interfaces.AccountRepository,
	locks *LockTable,
	collector *metrics.Collector,
	now func() time.Time,
) *LedgerService {
	if now == nil {
		now = time.Now
	}
	return &LedgerService{
		accountRepo: accountRepo,
		locks:       locks,
		collector:   collector,
		now:         now,
	}
}

func (s *LedgerService) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reason string) (domain.Snapshot, error) {
	started := time.Now()
	snapshot, err := s.credit(ctx, accountID, amount, reason)
	s.collector.RecordOperation("credit", err, time.Since(started))
	return snapshot, err
}

func (s *LedgerService) credit(ctx context.Context, accountID string, amount decimal.Decimal, reason string) (domain.Snapshot, error) {
	logger.Info("ledger service credit request", logger.Fields{
		"accountId": accountID,
		"amount":    amount,
		"reason":    reason,
	})

	if err := validateAmount(amount); err != nil {
		return domain.Snapshot{}, err
	}

	release, err := s.locks.Acquire(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer release()

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	if account.Status() == domain.AccountStatusClosed {
		return domain.Snapshot{}, domain.ErrAccountNotActive
	}

	s.applyCredit(&account, amount)
	s.stampTransaction(&account)

	return s.persist(ctx, account, "credit")
}

func (s *LedgerService) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reason string) (domain.Snapshot, error) {
	started := time.Now()
	snapshot, err := s.debit(ctx, accountID, amount, reason)
	s.collector.RecordOperation("debit", err, time.Since(started))
	return snapshot, err
}

func (s *LedgerService) debit(ctx context.Context, accountID string, amount decimal.Decimal, reason string) (domain.Snapshot, error) {
	logger.Info("ledger service debit request", logger.Fields{
		"accountId": accountID,
		"amount":    amount,
		"reason":    reason,
	})

	if err := validateAmount(amount); err != nil {
		return domain.Snapshot{}, err
	}

	release, err := s.locks.Acquire(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer release()

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	if err := s.applyDebit(&account, amount); err != nil {
		return domain.Snapshot{}, err
	}
	s.stampTransaction(&account)

	return s.persist(ctx, account, "debit")
}

func (s *LedgerService) Hold(ctx context.Context, accountID string, amount decimal.Decimal) (domain.Snapshot, error) {
	started := time.Now()
	snapshot, err := s.hold(ctx, accountID, amount)
	s.collector.RecordOperation("hold", err, time.Since(started))
	return snapshot, err
}

func (s *LedgerService) hold(ctx context.Context, accountID string, amount decimal.Decimal) (domain.Snapshot, error) {
	logger.Info("ledger service hold request", logger.Fields{
		"accountId": accountID,
		"amount":    amount,
	})

	if err := validateAmount(amount); err != nil {
		return domain.Snapshot{}, err
	}

	release, err := s.locks.Acquire(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer release()

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	if account.Status() != domain.AccountStatusActive {
		return domain.Snapshot{}, domain.ErrAccountNotActive
	}
	if account.AvailableBalance.LessThan(amount) {
		return domain.Snapshot{}, domain.ErrInsufficientAvailableBalance
	}

	account.AvailableBalance = domain.Quantize(account.AvailableBalance.Sub(amount))

	return s.persist(ctx, account, "hold")
}

func (s *LedgerService) Release(ctx context.Context, accountID string, amount decimal.Decimal) (domain.Snapshot, error) {
	started := time.Now()
	snapshot, err := s.release(ctx, accountID, amount)
	s.collector.RecordOperation("release", err, time.Since(started))
	return snapshot, err
}

func (s *LedgerService) release(ctx context.Context, accountID string, amount decimal.Decimal) (domain.Snapshot, error) {
	logger.Info("ledger service release request", logger.Fields{
		"accountId": accountID,
		"amount":    amount,
	})

	if err := validateAmount(amount); err != nil {
		return domain.Snapshot{}, err
	}

	release, err := s.locks.Acquire(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer release()

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	if account.Status() == domain.AccountStatusClosed {
		return domain.Snapshot{}, domain.ErrAccountNotActive
	}

	account.AvailableBalance = domain.Quantize(account.AvailableBalance.Add(amount))
	if account.AvailableBalance.GreaterThan(account.Balance) {
		// Releasing more than was held means a caller bug; the clamp
		// restores the invariant but is flagged, never silent.
		logger.Warn("ledger service release clamped to balance", logger.Fields{
			"accountId": accountID,
			"amount":    amount,
			"balance":   account.Balance,
		})
		s.collector.RecordReleaseClamp()
		account.AvailableBalance = account.Balance
	}

	return s.persist(ctx, account, "release")
}

func (s *LedgerService) AccrueInterest(ctx context.Context, accountID string, asOf time.Time) (domain.Snapshot, error) {
	started := time.Now()
	snapshot, err := s.accrueInterest(ctx, accountID, asOf)
	s.collector.RecordOperation("accrue_interest", err, time.Since(started))
	return snapshot, err
}

func (s *LedgerService) accrueInterest(ctx context.Context, accountID string, asOf time.Time) (domain.Snapshot, error) {
	logger.Info("ledger service accrue interest request", logger.Fields{
		"accountId": accountID,
		"asOf":      asOf,
	})

	release, err := s.locks.Acquire(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer release()

	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	if account.Status() != domain.AccountStatusActive {
		return domain.Snapshot{}, domain.ErrAccountNotActive
	}

	daysElapsed := int64(asOf.Sub(account.LastInterestAccrualAt) / (24 * time.Hour))
	if daysElapsed <= 0 || !account.Balance.IsPositive() {
		return account.Snapshot(), nil
	}

	dailyRate := account.InterestRate.Div(decimal.NewFromInt(365))
	interest := domain.Quantize(account.Balance.Mul(dailyRate).Mul(decimal.NewFromInt(daysElapsed)))

	if interest.IsPositive() {
		repaid := decimal.Min(interest, account.OverdraftUsed)
		account.OverdraftUsed = domain.Quantize(account.OverdraftUsed.Sub(repaid))
		remainder := interest.Sub(repaid)
		account.Balance = domain.Quantize(account.Balance.Add(remainder))
		account.AvailableBalance = domain.Quantize(account.AvailableBalance.Add(remainder))
		account.Metadata.TotalCredits = domain.Quantize(account.Metadata.TotalCredits.Add(interest))
	}
	account.LastInterestAccrualAt = asOf

	logger.Info("ledger service interest accrued", logger.Fields{
		"accountId":   accountID,
		"daysElapsed": daysElapsed,
		"interest":    interest,
	})

	return s.persist(ctx, account, "accrue_interest")
}

// Transfer debits one account and credits another as one atomic posting:
// observers see both legs applied or neither.
func (s *LedgerService) Transfer(ctx context.Context, fromAccountID, toAccountID string, amount decimal.Decimal, reason string) (domain.Snapshot, domain.Snapshot, error) {
	started := time.Now()
	fromSnapshot, toSnapshot, err := s.transfer(ctx, fromAccountID, toAccountID, amount, reason)
	s.collector.RecordOperation("transfer", err, time.Since(started))
	return fromSnapshot, toSnapshot, err
}

func (s *LedgerService) transfer(ctx context.Context, fromAccountID, toAccountID string, amount decimal.Decimal, reason string) (domain.Snapshot, domain.Snapshot, error) {
	logger.Info("ledger service transfer request", logger.Fields{
		"fromAccountId": fromAccountID,
		"toAccountId":   toAccountID,
		"amount":        amount,
		"reason":        reason,
	})

	if err := validateAmount(amount); err != nil {
		return domain.Snapshot{}, domain.Snapshot{}, err
	}
	if fromAccountID == toAccountID {
		return domain.Snapshot{}, domain.Snapshot{}, fmt.Errorf("%w: transfer within the same account", domain.ErrInvalidAmount)
	}

	release, err := s.locks.AcquirePair(ctx, fromAccountID, toAccountID)
	if err != nil {
		return domain.Snapshot{}, domain.Snapshot{}, err
	}
	defer release()

	from, err := s.accountRepo.GetByID(ctx, fromAccountID)
	if err != nil {
		return domain.Snapshot{}, domain.Snapshot{}, err
	}
	to, err := s.accountRepo.GetByID(ctx, toAccountID)
	if err != nil {
		return domain.Snapshot{}, domain.Snapshot{}, err
	}

	if from.Currency != to.Currency {
		return domain.Snapshot{}, domain.Snapshot{}, domain.ErrCurrencyMismatch
	}
	if to.Status() == domain.AccountStatusClosed {
		return domain.Snapshot{}, domain.Snapshot{}, domain.ErrAccountNotActive
	}

	if err := s.applyDebit(&from, amount); err != nil {
		return domain.Snapshot{}, domain.Snapshot{}, err
	}
	s.stampTransaction(&from)

	s.applyCredit(&to, amount)
	s.stampTransaction(&to)

	if err := s.checkInvariants(&from, "transfer"); err != nil {
		return domain.Snapshot{}, domain.Snapshot{}, err
	}
	if err := s.checkInvariants(&to, "transfer"); err != nil {
		return domain.Snapshot{}, domain.Snapshot{}, err
	}

	updatedFrom, updatedTo, err := s.accountRepo.UpdatePair(ctx, from, to)
	if err != nil {
		logger.Error("ledger service transfer persist failed", err, logger.Fields{
			"fromAccountId": fromAccountID,
			"toAccountId":   toAccountID,
		})
		return domain.Snapshot{}, domain.Snapshot{}, err
	}

	logger.Info("ledger service transfer success", logger.Fields{
		"fromAccountId": fromAccountID,
		"toAccountId":   toAccountID,
		"amount":        amount,
	})

	return updatedFrom.Snapshot(), updatedTo.Snapshot(), nil
}

func (s *LedgerService) GetSnapshot(ctx context.Context, accountID string) (domain.Snapshot, error) {
	account, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return account.Snapshot(), nil
}

// applyCredit repays overdraft first; only the remainder reaches the
// balance and available balance. Metadata counts the full amount.
func (s *LedgerService) applyCredit(account *domain.Account, amount decimal.Decimal) {
	repaid := decimal.Min(amount, account.OverdraftUsed)
	account.OverdraftUsed = domain.Quantize(account.OverdraftUsed.Sub(repaid))

	remainder := amount.Sub(repaid)
	account.Balance = domain.Quantize(account.Balance.Add(remainder))
	account.AvailableBalance = domain.Quantize(account.AvailableBalance.Add(remainder))
	account.Metadata.TotalCredits = domain.Quantize(account.Metadata.TotalCredits.Add(amount))
}

// applyDebit draws cash from the available balance first and covers any
// shortfall from the overdraft headroom. Held funds (balance beyond the
// available balance) stay earmarked and are never consumed by a debit.
func (s *LedgerService) applyDebit(account *domain.Account, amount decimal.Decimal) error {
	if account.Status() != domain.AccountStatusActive {
		return domain.ErrAccountNotActive
	}
	if !account.CanDebit(amount) {
		return domain.ErrInsufficientFunds
	}

	cash := decimal.Min(amount, account.AvailableBalance)
	shortfall := amount.Sub(cash)

	account.Balance = domain.Quantize(account.Balance.Sub(cash))
	account.AvailableBalance = domain.Quantize(account.AvailableBalance.Sub(cash))
	account.OverdraftUsed = domain.Quantize(account.OverdraftUsed.Add(shortfall))
	account.Metadata.TotalDebits = domain.Quantize(account.Metadata.TotalDebits.Add(amount))
	return nil
}

func (s *LedgerService) stampTransaction(account *domain.Account) {
	now := s.now().UTC()
	account.Metadata.TransactionCount++
	account.Metadata.LastTransactionAt = &now
}

func (s *LedgerService) checkInvariants(account *domain.Account, operation string) error {
	if err := account.Validate(); err != nil {
		s.collector.RecordInvariantViolation()
		logger.Error("ledger service invariant check failed", err, logger.Fields{
			"accountId": account.ID,
			"operation": operation,
		})
		return err
	}
	return nil
}

func (s *LedgerService) persist(ctx context.Context, account domain.Account, operation string) (domain.Snapshot, error) {
	if err := s.checkInvariants(&account, operation); err != nil {
		return domain.Snapshot{}, err
	}

	updated, err := s.accountRepo.Update(ctx, account)
	if err != nil {
		logger.Error("ledger service persist failed", err, logger.Fields{
			"accountId": account.ID,
			"operation": operation,
		})
		return domain.Snapshot{}, err
	}

	logger.Info("ledger service operation success", logger.Fields{
		"accountId": account.ID,
		"operation": operation,
		"balance":   updated.Balance,
		"available": updated.AvailableBalance,
	})

	return updated.Snapshot(), nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if !amount.Equal(domain.Quantize(amount)) {
		return fmt.Errorf("%w: more than 2 decimal places", domain.ErrInvalidAmount)
	}
	return nil
}
