package domain

import (
	"errors"
	"fmt"
)

// Business-rule failures. All are reported to the caller; none crash the
// process. Only ErrConcurrencyConflict is worth retrying with the same
// inputs.
var (
	ErrInvalidAmount                = errors.New("amount must be greater than zero")
	ErrInsufficientFunds            = errors.New("insufficient funds")
	ErrInsufficientAvailableBalance = errors.New("insufficient available balance")
	ErrAccountNotActive             = errors.New("account is not active")
	ErrAccountNotFound              = errors.New("account not found")
	ErrDuplicateAccountNumber       = errors.New("account number already exists")
	ErrConcurrencyConflict          = errors.New("concurrent modification conflict")
	ErrInvalidStatusChange          = errors.New("invalid status transition")
	ErrCurrencyMismatch             = errors.New("currency mismatch between accounts")
)

// InvariantViolationError marks state that should be unreachable. It is a
// distinct type so alerting can separate ledger bugs from ordinary
// business-rule failures.
type InvariantViolationError struct {
	Field  string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.Field, e.Detail)
}

// IsInvariantViolation reports whether err wraps an InvariantViolationError.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolationError
	return errors.As(err, &iv)
}
