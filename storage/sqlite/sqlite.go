// Package sqlite is an embedded single-file store on gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/config"
	"banking-ledger/transactions"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const memoryPath = ":memory:"

type Store struct {
	db *gorm.DB
}

// Open creates the database file (and its directory) if needed and applies
// basic tuning.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = memoryPath
	}
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	gormLogger := logger.Default
	if !cfg.LogMode {
		gormLogger = gormLogger.LogMode(logger.Silent)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	if path == memoryPath {
		// every connection would get its own empty database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
		_, _ = sqlDB.Exec("PRAGMA journal_mode = WAL;")
		_, _ = sqlDB.Exec("PRAGMA synchronous = NORMAL;")
	}
	_, _ = sqlDB.Exec("PRAGMA foreign_keys = ON;")

	return &Store{db: db}, nil
}

// Migrate runs schema migrations for all models.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&userModel{}, &accountModel{}, &recordModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user *auth.User, pinHash string) (string, error) {
	m := &userModel{
		ID:               uuid.NewString(),
		DNI:              user.DNI,
		GeneratedPinHash: pinHash,
		FullName:         user.FullName,
		Email:            user.Email,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", auth.ErrUserExists
		}
		return "", fmt.Errorf("could not create user: %w", err)
	}
	user.ID = m.ID
	user.GeneratedPinHash = pinHash
	user.CreatedAt = m.CreatedAt
	return m.ID, nil
}

func (s *Store) GetUserByDNI(ctx context.Context, dni string) (*auth.User, error) {
	return s.getUser(ctx, "dni = ?", dni)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *Store) getUser(ctx context.Context, cond string, arg string) (*auth.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).Where(cond, arg).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("could not get user: %w", err)
	}
	return m.toUser(), nil
}

func (s *Store) UpdatePinHash(ctx context.Context, userID, newPinHash string) error {
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", userID).Update("generated_pin_hash", newPinHash)
	if res.Error != nil {
		return fmt.Errorf("could not update pin: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// --- Accounts ---

func (s *Store) CreateAccount(ctx context.Context, acc *account.Account) (string, error) {
	m := &accountModel{
		ID:            acc.ID,
		UserID:        acc.UserID,
		AccountNumber: acc.AccountNumber,
		Balance:       acc.Balance,
		Currency:      acc.Currency,
		AccountType:   acc.AccountType,
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", s.duplicateAccount(ctx, acc.UserID)
		}
		return "", fmt.Errorf("could not create account: %w", err)
	}
	acc.ID = m.ID
	acc.CreatedAt, acc.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return m.ID, nil
}

// duplicateAccount tells which unique index a failed insert hit; the
// translated gorm error does not name it.
func (s *Store) duplicateAccount(ctx context.Context, userID string) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&accountModel{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return fmt.Errorf("could not create account: %w", err)
	}
	if n > 0 {
		return account.ErrAlreadyExists
	}
	return account.ErrNumberTaken
}

func (s *Store) GetAccountByUserID(ctx context.Context, userID string) (*account.Account, error) {
	return s.getAccount(ctx, "user_id = ?", userID)
}

func (s *Store) GetAccount(ctx context.Context, id string) (*account.Account, error) {
	return s.getAccount(ctx, "id = ?", id)
}

func (s *Store) getAccount(ctx context.Context, cond, arg string) (*account.Account, error) {
	var m accountModel
	if err := s.db.WithContext(ctx).Where(cond, arg).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("could not get account: %w", err)
	}
	return m.toAccount(), nil
}

func (s *Store) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	res := s.db.WithContext(ctx).Model(&accountModel{}).Where("id = ?", accountID).
		Updates(map[string]any{"balance": balance, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("could not update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return account.ErrNotFound
	}
	return nil
}

// --- Ledger ---

func (s *Store) CreateRecord(ctx context.Context, r *transactions.Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	m := newRecordModel(r)
	m.ID = 0
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("could not create transaction: %w", err)
	}
	r.ID = m.ID
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id int64) (*transactions.Record, error) {
	var m recordModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, transactions.ErrNotFound
		}
		return nil, fmt.Errorf("could not get transaction: %w", err)
	}
	return m.toRecord(), nil
}

func (s *Store) UpdateRecord(ctx context.Context, r *transactions.Record) error {
	res := s.db.WithContext(ctx).Model(&recordModel{}).Where("id = ?", r.ID).Updates(map[string]any{
		"transaction_type":          string(r.TransactionType),
		"loan_approve":              r.LoanApprove,
		"balance_after_transaction": r.BalanceAfter,
	})
	if res.Error != nil {
		return fmt.Errorf("could not update transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return transactions.ErrNotFound
	}
	return nil
}

func (s *Store) CountRecords(ctx context.Context, accountID string, typ transactions.Type, approved bool) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&recordModel{}).
		Where("account_id = ? AND transaction_type = ? AND loan_approve = ?", accountID, string(typ), approved).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("could not count transactions: %w", err)
	}
	return int(n), nil
}

// ListRecords compares timestamps in UTC, the zone every record is
// written in.
func (s *Store) ListRecords(ctx context.Context, filter transactions.Filter) ([]*transactions.Record, error) {
	q := s.db.WithContext(ctx).Model(&recordModel{})
	if filter.AccountID != "" {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		q = q.Where("transaction_type IN ?", types)
	}
	if !filter.From.IsZero() {
		q = q.Where("timestamp >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("timestamp < ?", filter.To.UTC())
	}

	var models []recordModel
	if err := q.Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("could not list transactions: %w", err)
	}

	records := make([]*transactions.Record, 0, len(models))
	for i := range models {
		records = append(records, models[i].toRecord())
	}
	return records, nil
}
