package transactions

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects non-positive, over-precise or oversized amounts.
	ErrInvalidAmount = errors.New("amount must be a positive value with at most two decimal places")

	ErrInvalidDate = errors.New("dates must use the YYYY-MM-DD format")

	ErrLoanLimitExceeded = errors.New("loan limit exceeded")

	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound means the ledger record does not exist (or is not visible
	// to the requesting account).
	ErrNotFound = errors.New("transaction not found")

	// ErrLoanNotPending is returned when approving anything other than an
	// unapproved LOAN record.
	ErrLoanNotPending = errors.New("loan is not pending approval")
)

// PersistenceError wraps a store failure at the processor boundary.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("could not %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
