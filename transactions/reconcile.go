package transactions

import (
	"context"

	"github.com/shopspring/decimal"
)

// Reconciliation compares an account's balance with the net effect of its
// ledger. For an account whose history is fully recorded, Drift is the
// opening balance.
type Reconciliation struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerNet decimal.Decimal `json:"ledger_net"`
	Drift     decimal.Decimal `json:"drift"`
	Records   int             `json:"records"`
}

// Reconcile is read-only; it never corrects the balance.
func (p *Processor) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	acc, err := p.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	records, err := p.store.ListRecords(ctx, Filter{AccountID: accountID})
	if err != nil {
		return nil, &PersistenceError{Op: "list transactions", Err: err}
	}

	net := LedgerNet(records)
	return &Reconciliation{
		AccountID: accountID,
		Balance:   acc.Balance,
		LedgerNet: net,
		Drift:     acc.Balance.Sub(net),
		Records:   len(records),
	}, nil
}

// LedgerNet sums the signed balance effect of records. A paid loan was
// disbursed and repaid, so it contributes nothing.
func LedgerNet(records []*Record) decimal.Decimal {
	net := decimal.Zero
	for _, r := range records {
		switch r.TransactionType {
		case TypeDeposit:
			net = net.Add(r.Amount)
		case TypeWithdrawal:
			net = net.Sub(r.Amount)
		case TypeLoan:
			if r.LoanApprove {
				net = net.Add(r.Amount)
			}
		}
	}
	return net
}
