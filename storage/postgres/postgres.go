// Package postgres is the production store: users, accounts and the
// transaction ledger on PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/transactions"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

// Open connects with a lib/pq DSN and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Default name Postgres gives the UNIQUE on accounts.account_number.
const accountNumberConstraint = "accounts_account_number_key"

func violatedConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user *auth.User, pinHash string) (string, error) {
	id := uuid.NewString()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, dni, generated_pin_hash, full_name, email)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		id, user.DNI, pinHash, user.FullName, user.Email,
	).Scan(&user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", auth.ErrUserExists
		}
		return "", fmt.Errorf("could not create user: %w", err)
	}
	user.ID = id
	user.GeneratedPinHash = pinHash
	return id, nil
}

const userColumns = `id, dni, generated_pin_hash, full_name, email, created_at`

func (s *Store) GetUserByDNI(ctx context.Context, dni string) (*auth.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE dni = $1`, dni)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (*auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.DNI, &u.GeneratedPinHash, &u.FullName, &u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("could not get user: %w", err)
	}
	return &u, nil
}

func (s *Store) UpdatePinHash(ctx context.Context, userID, newPinHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET generated_pin_hash = $1 WHERE id = $2`, newPinHash, userID)
	if err != nil {
		return fmt.Errorf("could not update pin: %w", err)
	}
	return expectOne(res, auth.ErrUserNotFound)
}

// --- Accounts ---

func (s *Store) CreateAccount(ctx context.Context, acc *account.Account) (string, error) {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (id, user_id, account_number, balance, currency, account_type)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		acc.ID, acc.UserID, acc.AccountNumber, acc.Balance, acc.Currency, acc.AccountType,
	).Scan(&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		acc.ID = ""
		if isUniqueViolation(err) {
			if violatedConstraint(err) == accountNumberConstraint {
				return "", account.ErrNumberTaken
			}
			return "", account.ErrAlreadyExists
		}
		return "", fmt.Errorf("could not create account: %w", err)
	}
	return acc.ID, nil
}

const accountColumns = `id, user_id, account_number, balance, currency, account_type, created_at, updated_at`

func (s *Store) GetAccountByUserID(ctx context.Context, userID string) (*account.Account, error) {
	return s.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
}

func (s *Store) GetAccount(ctx context.Context, id string) (*account.Account, error) {
	return s.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (s *Store) getAccount(ctx context.Context, query, arg string) (*account.Account, error) {
	var a account.Account
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID, &a.UserID, &a.AccountNumber, &a.Balance, &a.Currency, &a.AccountType, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("could not get account: %w", err)
	}
	return &a, nil
}

func (s *Store) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = now() WHERE id = $2`, balance, accountID)
	if err != nil {
		return fmt.Errorf("could not update balance: %w", err)
	}
	return expectOne(res, account.ErrNotFound)
}

// --- Ledger ---

const recordColumns = `id, account_id, amount, transaction_type, loan_approve, balance_after_transaction, "timestamp"`

func (s *Store) CreateRecord(ctx context.Context, r *transactions.Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO transactions (account_id, amount, transaction_type, loan_approve, balance_after_transaction, "timestamp")
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		r.AccountID, r.Amount, string(r.TransactionType), r.LoanApprove, r.BalanceAfter, r.Timestamp,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("could not create transaction: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id int64) (*transactions.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transactions.ErrNotFound
		}
		return nil, fmt.Errorf("could not get transaction: %w", err)
	}
	return r, nil
}

// UpdateRecord rewrites the mutable part of a record: its type, approval
// flag and balance snapshot.
func (s *Store) UpdateRecord(ctx context.Context, r *transactions.Record) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET transaction_type = $1, loan_approve = $2, balance_after_transaction = $3 WHERE id = $4`,
		string(r.TransactionType), r.LoanApprove, r.BalanceAfter, r.ID)
	if err != nil {
		return fmt.Errorf("could not update transaction: %w", err)
	}
	return expectOne(res, transactions.ErrNotFound)
}

func (s *Store) CountRecords(ctx context.Context, accountID string, typ transactions.Type, approved bool) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1 AND transaction_type = $2 AND loan_approve = $3`,
		accountID, string(typ), approved,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("could not count transactions: %w", err)
	}
	return n, nil
}

func (s *Store) ListRecords(ctx context.Context, filter transactions.Filter) ([]*transactions.Record, error) {
	query, args := listQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not list transactions: %w", err)
	}
	defer rows.Close()

	records := []*transactions.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan transaction: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not list transactions: %w", err)
	}
	return records, nil
}

func listQuery(filter transactions.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.AccountID != "" {
		add("account_id = $%d", filter.AccountID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		add("transaction_type = ANY($%d)", pq.Array(types))
	}
	if !filter.From.IsZero() {
		add(`"timestamp" >= $%d`, filter.From)
	}
	if !filter.To.IsZero() {
		add(`"timestamp" < $%d`, filter.To)
	}

	query := `SELECT ` + recordColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	return query + ` ORDER BY id`, args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*transactions.Record, error) {
	var (
		r   transactions.Record
		typ string
	)
	if err := row.Scan(&r.ID, &r.AccountID, &r.Amount, &typ, &r.LoanApprove, &r.BalanceAfter, &r.Timestamp); err != nil {
		return nil, err
	}
	r.TransactionType = transactions.Type(typ)
	return &r, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
