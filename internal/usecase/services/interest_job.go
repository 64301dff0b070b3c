package services

import (
	"context"
	"errors"
	"time"

	"github.com/api-sage/retail-ledger/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/retail-ledger/internal/domain"
	"github.com/api-sage/retail-ledger/internal/logger"
)

// InterestAccrualJob sweeps active accounts and accrues interest up to the
// current date. Accrual is idempotent per day, so running the sweep more
// often than daily is harmless.
type InterestAccrualJob struct {
	ledger      *LedgerService
	accountRepo repo_interfaces.AccountRepository
	interval    time.Duration
	now         func() time.Time
}

func NewInterestAccrualJob(
	ledger *LedgerService,
	accountRepo repo_interfaces.AccountRepository,
	interval time.Duration,
	now func() time.Time,
) *InterestAccrualJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &InterestAccrualJob{
		ledger:      ledger,
		accountRepo: accountRepo,
		interval:    interval,
		now:         now,
	}
}

// Run blocks until the context is cancelled, sweeping once per interval.
func (j *InterestAccrualJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				logger.Error("interest accrual sweep failed", err, nil)
			}
		}
	}
}

// RunOnce accrues interest for every active account. A failure on one
// account does not stop the sweep; the first error is reported after the
// pass completes.
func (j *InterestAccrualJob) RunOnce(ctx context.Context) error {
	accounts, err := j.accountRepo.ListActive(ctx)
	if err != nil {
		return err
	}

	asOf := j.now().UTC()
	var firstErr error
	for _, account := range accounts {
		if _, err := j.ledger.AccrueInterest(ctx, account.ID, asOf); err != nil {
			// Another writer may have closed or mutated the account
			// mid-sweep; those accounts are picked up next pass.
			if errors.Is(err, domain.ErrAccountNotActive) || errors.Is(err, domain.ErrConcurrencyConflict) {
				continue
			}
			logger.Error("interest accrual failed for account", err, logger.Fields{
				"accountId": account.ID,
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
