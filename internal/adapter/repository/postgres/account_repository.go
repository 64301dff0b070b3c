package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/api-sage/retail-ledger/internal/domain"
	"github.com/api-sage/retail-ledger/internal/logger"
	"github.com/lib/pq"
)

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `
id, account_number, owner_id, account_type, currency,
balance, available_balance, overdraft_limit, overdraft_used,
daily_limit, monthly_limit, minimum_balance,
interest_rate, last_interest_accrual_at,
is_active, is_primary, status_history,
opening_deposit, closing_reason, closing_date,
last_transaction_at, transaction_count, total_credits, total_debits,
version, created_at, updated_at`

func (r *AccountRepository) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	logger.Info("account repository create", logger.Fields{
		"accountId":     account.ID,
		"accountNumber": account.AccountNumber,
		"ownerId":       account.OwnerID,
		"currency":      account.Currency,
	})

	history, err := json.Marshal(account.StatusHistory)
	if err != nil {
		return domain.Account{}, fmt.Errorf("marshal status history: %w", err)
	}

	const query = `
INSERT INTO accounts (
	id, account_number, owner_id, account_type, currency,
	balance, available_balance, overdraft_limit, overdraft_used,
	daily_limit, monthly_limit, minimum_balance,
	interest_rate, last_interest_accrual_at,
	is_active, is_primary, status_history,
	opening_deposit, closing_reason, closing_date,
	last_transaction_at, transaction_count, total_credits, total_debits,
	version
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9,
	$10, $11, $12,
	$13, $14,
	$15, $16, $17,
	$18, $19, $20,
	$21, $22, $23, $24,
	1
)
RETURNING version, created_at, updated_at`

	err = r.db.QueryRowContext(
		ctx,
		query,
		account.ID,
		account.AccountNumber,
		account.OwnerID,
		string(account.AccountType),
		account.Currency,
		account.Balance,
		account.AvailableBalance,
		account.OverdraftLimit,
		account.OverdraftUsed,
		account.DailyLimit,
		account.MonthlyLimit,
		account.MinimumBalance,
		account.InterestRate,
		account.LastInterestAccrualAt,
		account.IsActive,
		account.IsPrimary,
		history,
		account.Metadata.OpeningDeposit,
		account.Metadata.ClosingReason,
		nullableTime(account.Metadata.ClosingDate),
		nullableTime(account.Metadata.LastTransactionAt),
		account.Metadata.TransactionCount,
		account.Metadata.TotalCredits,
		account.Metadata.TotalDebits,
	).Scan(&account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			logger.Info("account repository create unique violation", logger.Fields{
				"accountNumber": account.AccountNumber,
			})
			return domain.Account{}, domain.ErrDuplicateAccountNumber
		}
		logger.Error("account repository create failed", err, logger.Fields{
			"ownerId":       account.OwnerID,
			"accountNumber": account.AccountNumber,
		})
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}

	logger.Info("account repository create success", logger.Fields{
		"accountId":     account.ID,
		"accountNumber": account.AccountNumber,
	})
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *AccountRepository) GetByAccountNumber(ctx context.Context, accountNumber string) (domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	return r.getOne(ctx, query, accountNumber)
}

func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 ORDER BY is_primary DESC, created_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		logger.Error("account repository list by owner failed", err, logger.Fields{
			"ownerId": ownerID,
		})
		return nil, fmt.Errorf("list accounts by owner: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts by owner: %w", err)
	}

	return accounts, nil
}

func (r *AccountRepository) ListActive(ctx context.Context) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE is_active ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		logger.Error("account repository list active failed", err, nil)
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active accounts: %w", err)
	}

	return accounts, nil
}

func (r *AccountRepository) AccountNumberExists(ctx context.Context, accountNumber string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_number = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, accountNumber).Scan(&exists); err != nil {
		logger.Error("account repository number exists check failed", err, logger.Fields{
			"accountNumber": accountNumber,
		})
		return false, fmt.Errorf("check account number: %w", err)
	}

	return exists, nil
}

func (r *AccountRepository) Update(ctx context.Context, account domain.Account) (domain.Account, error) {
	updated, err := r.updateTx(ctx, r.db, account)
	if err != nil {
		return domain.Account{}, err
	}
	return updated, nil
}

// UpdatePair persists both accounts inside one transaction so a transfer
// is visible either fully applied or not at all.
func (r *AccountRepository) UpdatePair(ctx context.Context, first domain.Account, second domain.Account) (domain.Account, domain.Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logger.Error("account repository begin pair tx failed", err, nil)
		return domain.Account{}, domain.Account{}, fmt.Errorf("begin pair update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var updatedFirst, updatedSecond domain.Account
	if updatedFirst, err = r.updateTx(ctx, tx, first); err != nil {
		return domain.Account{}, domain.Account{}, err
	}
	if updatedSecond, err = r.updateTx(ctx, tx, second); err != nil {
		return domain.Account{}, domain.Account{}, err
	}

	if err = tx.Commit(); err != nil {
		logger.Error("account repository commit pair tx failed", err, nil)
		return domain.Account{}, domain.Account{}, fmt.Errorf("commit pair update: %w", err)
	}

	return updatedFirst, updatedSecond, nil
}

// SetPrimary moves the primary flag within an owner's account set in one
// transaction, clearing the old primary before setting the new one so the
// partial unique index on (owner_id) WHERE is_primary never sees two. The
// index stays the authoritative guard against two primaries.
func (r *AccountRepository) SetPrimary(ctx context.Context, ownerID string, accountID string) error {
	logger.Info("account repository set primary", logger.Fields{
		"ownerId":   ownerID,
		"accountId": accountID,
	})

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set primary: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const clear = `
UPDATE accounts
SET is_primary = FALSE,
    version = version + 1,
    updated_at = NOW()
WHERE owner_id = $1
  AND is_primary
  AND id <> $2`

	if _, err = tx.ExecContext(ctx, clear, ownerID, accountID); err != nil {
		logger.Error("account repository clear primary failed", err, logger.Fields{
			"ownerId": ownerID,
		})
		return fmt.Errorf("clear primary account: %w", err)
	}

	const set = `
UPDATE accounts
SET is_primary = TRUE,
    version = version + 1,
    updated_at = NOW()
WHERE owner_id = $1
  AND id = $2
  AND NOT is_primary`

	var result sql.Result
	if result, err = tx.ExecContext(ctx, set, ownerID, accountID); err != nil {
		logger.Error("account repository set primary failed", err, logger.Fields{
			"ownerId":   ownerID,
			"accountId": accountID,
		})
		return fmt.Errorf("set primary account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set primary rows affected: %w", err)
	}
	if rows == 0 {
		// Either the target is already primary or it does not belong to
		// this owner; confirm it exists before treating this as a no-op.
		var exists bool
		if err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $2 AND owner_id = $1)`,
			ownerID, accountID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("verify primary target: %w", err)
		}
		if !exists {
			err = domain.ErrAccountNotFound
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set primary: %w", err)
	}

	return nil
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *AccountRepository) updateTx(ctx context.Context, db execer, account domain.Account) (domain.Account, error) {
	history, err := json.Marshal(account.StatusHistory)
	if err != nil {
		return domain.Account{}, fmt.Errorf("marshal status history: %w", err)
	}

	const query = `
UPDATE accounts
SET balance = $3,
    available_balance = $4,
    overdraft_limit = $5,
    overdraft_used = $6,
    daily_limit = $7,
    monthly_limit = $8,
    minimum_balance = $9,
    interest_rate = $10,
    last_interest_accrual_at = $11,
    is_active = $12,
    is_primary = $13,
    status_history = $14,
    closing_reason = $15,
    closing_date = $16,
    last_transaction_at = $17,
    transaction_count = $18,
    total_credits = $19,
    total_debits = $20,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1
  AND version = $2
RETURNING version, updated_at`

	err = db.QueryRowContext(
		ctx,
		query,
		account.ID,
		account.Version,
		account.Balance,
		account.AvailableBalance,
		account.OverdraftLimit,
		account.OverdraftUsed,
		account.DailyLimit,
		account.MonthlyLimit,
		account.MinimumBalance,
		account.InterestRate,
		account.LastInterestAccrualAt,
		account.IsActive,
		account.IsPrimary,
		history,
		account.Metadata.ClosingReason,
		nullableTime(account.Metadata.ClosingDate),
		nullableTime(account.Metadata.LastTransactionAt),
		account.Metadata.TransactionCount,
		account.Metadata.TotalCredits,
		account.Metadata.TotalDebits,
	).Scan(&account.Version, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the row is gone or someone else won the version
			// race; re-read to tell the two apart.
			if _, getErr := r.GetByID(ctx, account.ID); getErr != nil {
				if errors.Is(getErr, domain.ErrAccountNotFound) {
					return domain.Account{}, domain.ErrAccountNotFound
				}
				return domain.Account{}, getErr
			}
			logger.Info("account repository update version conflict", logger.Fields{
				"accountId": account.ID,
				"version":   account.Version,
			})
			return domain.Account{}, domain.ErrConcurrencyConflict
		}
		logger.Error("account repository update failed", err, logger.Fields{
			"accountId": account.ID,
		})
		return domain.Account{}, fmt.Errorf("update account: %w", err)
	}

	return account, nil
}

func (r *AccountRepository) getOne(ctx context.Context, query string, arg string) (domain.Account, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		logger.Error("account repository get failed", err, nil)
		return domain.Account{}, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var account domain.Account
	var accountType string
	var history []byte
	var closingDate sql.NullTime
	var lastTransactionAt sql.NullTime

	if err := row.Scan(
		&account.ID,
		&account.AccountNumber,
		&account.OwnerID,
		&accountType,
		&account.Currency,
		&account.Balance,
		&account.AvailableBalance,
		&account.OverdraftLimit,
		&account.OverdraftUsed,
		&account.DailyLimit,
		&account.MonthlyLimit,
		&account.MinimumBalance,
		&account.InterestRate,
		&account.LastInterestAccrualAt,
		&account.IsActive,
		&account.IsPrimary,
		&history,
		&account.Metadata.OpeningDeposit,
		&account.Metadata.ClosingReason,
		&closingDate,
		&lastTransactionAt,
		&account.Metadata.TransactionCount,
		&account.Metadata.TotalCredits,
		&account.Metadata.TotalDebits,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return domain.Account{}, err
	}

	account.AccountType = domain.AccountType(accountType)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &account.StatusHistory); err != nil {
			return domain.Account{}, fmt.Errorf("unmarshal status history: %w", err)
		}
	}
	if closingDate.Valid {
		t := closingDate.Time
		account.Metadata.ClosingDate = &t
	}
	if lastTransactionAt.Valid {
		t := lastTransactionAt.Time
		account.Metadata.LastTransactionAt = &t
	}

	return account, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == "23505"
	}
	return false
}
