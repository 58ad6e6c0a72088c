package sqlite

import (
	"time"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/transactions"

	"github.com/shopspring/decimal"
)

// Money columns are TEXT so SQLite's numeric affinity never turns them into
// floats.

type userModel struct {
	ID               string `gorm:"primaryKey;size:36"`
	DNI              string `gorm:"size:20;uniqueIndex;not null"`
	GeneratedPinHash string `gorm:"not null"`
	FullName         string `gorm:"size:255;not null"`
	Email            string `gorm:"size:255"`
	CreatedAt        time.Time
}

func (userModel) TableName() string { return "users" }

func (m *userModel) toUser() *auth.User {
	return &auth.User{
		ID:               m.ID,
		DNI:              m.DNI,
		GeneratedPinHash: m.GeneratedPinHash,
		FullName:         m.FullName,
		Email:            m.Email,
		CreatedAt:        m.CreatedAt,
	}
}

type accountModel struct {
	ID            string          `gorm:"primaryKey;size:36"`
	UserID        string          `gorm:"size:36;uniqueIndex;not null"`
	AccountNumber string          `gorm:"size:10;uniqueIndex;not null"`
	Balance       decimal.Decimal `gorm:"type:text;not null"`
	Currency      string          `gorm:"size:3;default:USD"`
	AccountType   string          `gorm:"size:20;default:checking"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (accountModel) TableName() string { return "accounts" }

func (m *accountModel) toAccount() *account.Account {
	return &account.Account{
		ID:            m.ID,
		UserID:        m.UserID,
		AccountNumber: m.AccountNumber,
		Balance:       m.Balance,
		Currency:      m.Currency,
		AccountType:   m.AccountType,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type recordModel struct {
	ID              int64           `gorm:"primaryKey;autoIncrement"`
	AccountID       string          `gorm:"size:36;index:idx_transactions_account_time;not null"`
	Amount          decimal.Decimal `gorm:"type:text;not null"`
	TransactionType string          `gorm:"size:10;not null"`
	LoanApprove     bool            `gorm:"not null;default:false"`
	BalanceAfter    decimal.Decimal `gorm:"column:balance_after_transaction;type:text;not null"`
	Timestamp       time.Time       `gorm:"column:timestamp;index:idx_transactions_account_time;not null"`
}

func (recordModel) TableName() string { return "transactions" }

func newRecordModel(r *transactions.Record) *recordModel {
	return &recordModel{
		ID:              r.ID,
		AccountID:       r.AccountID,
		Amount:          r.Amount,
		TransactionType: string(r.TransactionType),
		LoanApprove:     r.LoanApprove,
		BalanceAfter:    r.BalanceAfter,
		Timestamp:       r.Timestamp.UTC(),
	}
}

func (m *recordModel) toRecord() *transactions.Record {
	return &transactions.Record{
		ID:              m.ID,
		AccountID:       m.AccountID,
		Amount:          m.Amount,
		TransactionType: transactions.Type(m.TransactionType),
		LoanApprove:     m.LoanApprove,
		BalanceAfter:    m.BalanceAfter,
		Timestamp:       m.Timestamp,
	}
}
