// Package memory keeps users, accounts and ledger records in process
// memory. It backs local runs without a database and the end-to-end tests.
package memory

import (
	"context"
	"sync"
	"time"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/transactions"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu sync.RWMutex

	users      map[string]*auth.User
	usersByDNI map[string]string

	accounts       map[string]*account.Account
	accountsByUser map[string]string

	records []*transactions.Record
	nextID  int64

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:          make(map[string]*auth.User),
		usersByDNI:     make(map[string]string),
		accounts:       make(map[string]*account.Account),
		accountsByUser: make(map[string]string),
		nextID:         1,
		now:            time.Now,
	}
}

// --- Users ---

func (s *Store) CreateUser(_ context.Context, user *auth.User, pinHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByDNI[user.DNI]; ok {
		return "", auth.ErrUserExists
	}

	u := *user
	u.ID = uuid.NewString()
	u.GeneratedPinHash = pinHash
	u.CreatedAt = s.now()
	s.users[u.ID] = &u
	s.usersByDNI[u.DNI] = u.ID

	user.ID = u.ID
	user.CreatedAt = u.CreatedAt
	return u.ID, nil
}

func (s *Store) GetUserByDNI(_ context.Context, dni string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByDNI[dni]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) UpdatePinHash(_ context.Context, userID, newPinHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.GeneratedPinHash = newPinHash
	return nil
}

// --- Accounts ---

func (s *Store) CreateAccount(_ context.Context, acc *account.Account) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accountsByUser[acc.UserID]; ok {
		return "", account.ErrAlreadyExists
	}
	for _, a := range s.accounts {
		if a.AccountNumber == acc.AccountNumber {
			return "", account.ErrNumberTaken
		}
	}

	a := *acc
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.accounts[a.ID] = &a
	s.accountsByUser[a.UserID] = a.ID

	acc.ID = a.ID
	acc.CreatedAt, acc.UpdatedAt = now, now
	return a.ID, nil
}

func (s *Store) GetAccountByUserID(_ context.Context, userID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountsByUser[userID]
	if !ok {
		return nil, account.ErrNotFound
	}
	a := *s.accounts[id]
	return &a, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpdateBalance(_ context.Context, accountID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return account.ErrNotFound
	}
	a.Balance = balance
	a.UpdatedAt = s.now()
	return nil
}

// --- Ledger ---

func (s *Store) CreateRecord(_ context.Context, record *transactions.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[record.AccountID]; !ok {
		return account.ErrNotFound
	}

	record.ID = s.nextID
	s.nextID++
	if record.Timestamp.IsZero() {
		record.Timestamp = s.now()
	}
	r := *record
	s.records = append(s.records, &r)
	return nil
}

func (s *Store) GetRecord(_ context.Context, id int64) (*transactions.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := s.find(id)
	if r == nil {
		return nil, transactions.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRecord rewrites type, approval flag and balance snapshot. Amount,
// owner and timestamp are fixed at creation.
func (s *Store) UpdateRecord(_ context.Context, record *transactions.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.find(record.ID)
	if r == nil {
		return transactions.ErrNotFound
	}
	r.TransactionType = record.TransactionType
	r.LoanApprove = record.LoanApprove
	r.BalanceAfter = record.BalanceAfter
	return nil
}

func (s *Store) CountRecords(_ context.Context, accountID string, typ transactions.Type, approved bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if r.AccountID == accountID && r.TransactionType == typ && r.LoanApprove == approved {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListRecords(_ context.Context, filter transactions.Filter) ([]*transactions.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*transactions.Record{}
	for _, r := range s.records {
		if filter.Match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) find(id int64) *transactions.Record {
	for _, r := range s.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}
