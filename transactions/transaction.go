package transactions

import (
	"time"

	"github.com/shopspring/decimal"
)

// --- Models ---

// Type is the kind of financial event a Record describes.
type Type string

const (
	TypeDeposit    Type = "DEPOSIT"
	TypeWithdrawal Type = "WITHDRAWAL"
	TypeLoan       Type = "LOAN"
	TypeLoanPaid   Type = "LOAN_PAID"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeLoan, TypeLoanPaid:
		return true
	}
	return false
}

// Record is one ledger entry. Records are never deleted; a LOAN record is
// rewritten in place when it is approved and again when it is paid off.
type Record struct {
	ID              int64           `json:"id"`
	AccountID       string          `json:"account_id"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionType Type            `json:"transaction_type"`
	LoanApprove     bool            `json:"loan_approve"`
	BalanceAfter    decimal.Decimal `json:"balance_after_transaction"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Filter selects ledger records. Zero values leave a dimension unbounded;
// To is exclusive.
type Filter struct {
	AccountID string
	Types     []Type
	From      time.Time
	To        time.Time
}

// Match reports whether r falls inside the filter. Stores that cannot push
// a filter down to a query use it directly.
func (f Filter) Match(r *Record) bool {
	if f.AccountID != "" && r.AccountID != f.AccountID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if r.TransactionType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.Timestamp.Before(f.To) {
		return false
	}
	return true
}
