package transactions

import (
	"context"

	"banking-ledger/account"
	"banking-ledger/notify"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the processor.
//
// Missing accounts are reported as account.ErrNotFound and missing records
// as ErrNotFound. CreateRecord assigns ID (and Timestamp when zero).
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mock_transactions -source=store.go
type Store interface {
	GetAccount(ctx context.Context, id string) (*account.Account, error)
	UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error

	CreateRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, id int64) (*Record, error)
	UpdateRecord(ctx context.Context, record *Record) error
	CountRecords(ctx context.Context, accountID string, typ Type, approved bool) (int, error)
	ListRecords(ctx context.Context, filter Filter) ([]*Record, error)
}

// Notifier delivers best-effort confirmations.
type Notifier interface {
	Send(ctx context.Context, to notify.Recipient, amount decimal.Decimal, subject string, kind notify.Kind) error
}
