package transactions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"banking-ledger/account"
	"banking-ledger/notify"

	"github.com/shopspring/decimal"
)

// DefaultMaxApprovedLoans is how many approved, unpaid loans an account may
// hold before further requests are refused.
const DefaultMaxApprovedLoans = 3

var maxAmount = decimal.New(1, 10)

const (
	maxIntegerDigits = 10
	// minExponent bounds how far Truncate has to rescale; "1.500" (-3) is
	// fine, "1e-999999999" is not.
	minExponent = -20
)

type Options struct {
	MaxApprovedLoans int
	// Location decides which calendar day a timestamp belongs to when
	// filtering reports.
	Location *time.Location
	// Now stamps new records; time.Now when nil.
	Now func() time.Time
}

// Request is one money operation against an account.
type Request struct {
	AccountID string
	Owner     notify.Recipient
	Amount    decimal.Decimal
}

// Result describes a completed operation. Applied is false when the call
// was a no-op (PayLoan on a loan that is not payable). Warning carries a
// notification failure; the operation itself still stands.
type Result struct {
	Balance decimal.Decimal `json:"balance"`
	Record  *Record         `json:"transaction,omitempty"`
	Applied bool            `json:"applied"`
	Warning string          `json:"warning,omitempty"`
}

// Processor applies deposits, withdrawals and the loan lifecycle to an
// account and its ledger.
type Processor struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	opts     Options
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*accountLock
}

// accountLock is dropped from Processor.locks once refs falls to zero, so
// the map only holds accounts with an operation in flight.
type accountLock struct {
	mu   sync.Mutex
	refs int
}

func NewProcessor(store Store, notifier Notifier, logger *slog.Logger, opts Options) *Processor {
	if opts.MaxApprovedLoans <= 0 {
		opts.MaxApprovedLoans = DefaultMaxApprovedLoans
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{
		store:    store,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		now:      opts.Now,
		locks:    make(map[string]*accountLock),
	}
}

// lockAccount serialises read-modify-write sequences on one account.
func (p *Processor) lockAccount(id string) func() {
	p.locksMu.Lock()
	l, ok := p.locks[id]
	if !ok {
		l = &accountLock{}
		p.locks[id] = l
	}
	l.refs++
	p.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		p.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, id)
		}
		p.locksMu.Unlock()
	}
}

// ValidateAmount checks the size of the amount before anything that
// rescales it: comparing or truncating "1e999999999" would expand it into a
// billion-digit integer.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Exponent() < minExponent {
		return ErrInvalidAmount
	}
	if amount.NumDigits()+int(amount.Exponent()) > maxIntegerDigits {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(2)) {
		return ErrInvalidAmount
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return ErrInvalidAmount
	}
	return nil
}

func (p *Processor) Deposit(ctx context.Context, req Request) (*Result, error) {
	res, err := p.move(ctx, req, TypeDeposit)
	if err != nil {
		return nil, err
	}
	res.Warning = p.notify(ctx, req.Owner, req.Amount, "Deposit Message", notify.KindDeposit)
	return res, nil
}

// Withdraw does not check the balance first: it may go negative.
func (p *Processor) Withdraw(ctx context.Context, req Request) (*Result, error) {
	res, err := p.move(ctx, req, TypeWithdrawal)
	if err != nil {
		return nil, err
	}
	res.Warning = p.notify(ctx, req.Owner, req.Amount, "Withdrawal Message", notify.KindWithdrawal)
	return res, nil
}

// move persists the new balance first and only then appends the record, so
// a failed balance write leaves no ledger entry behind.
func (p *Processor) move(ctx context.Context, req Request, typ Type) (*Result, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	unlock := p.lockAccount(req.AccountID)
	defer unlock()

	acc, err := p.loadAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	newBalance := acc.Balance.Add(req.Amount)
	if typ == TypeWithdrawal {
		newBalance = acc.Balance.Sub(req.Amount)
	}

	if err := p.store.UpdateBalance(ctx, acc.ID, newBalance); err != nil {
		return nil, p.fail("update balance", acc.ID, err)
	}

	record := &Record{
		AccountID:       acc.ID,
		Amount:          req.Amount,
		TransactionType: typ,
		BalanceAfter:    newBalance,
		Timestamp:       p.now(),
	}
	if err := p.store.CreateRecord(ctx, record); err != nil {
		return nil, p.fail("create transaction record", acc.ID, err)
	}

	p.logger.Info("transaction committed",
		"account_id", acc.ID,
		"type", typ,
		"amount", req.Amount.StringFixed(2),
		"balance", newBalance.StringFixed(2),
		"record_id", record.ID,
	)
	return &Result{Balance: newBalance, Record: record, Applied: true}, nil
}

// RequestLoan records a pending loan. Nothing is disbursed until approval.
func (p *Processor) RequestLoan(ctx context.Context, req Request) (*Result, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	unlock := p.lockAccount(req.AccountID)
	defer unlock()

	acc, err := p.loadAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	approved, err := p.store.CountRecords(ctx, acc.ID, TypeLoan, true)
	if err != nil {
		return nil, p.fail("count approved loans", acc.ID, err)
	}
	if approved >= p.opts.MaxApprovedLoans {
		p.logger.Info("loan request refused", "account_id", acc.ID, "approved_loans", approved)
		return nil, ErrLoanLimitExceeded
	}

	record := &Record{
		AccountID:       acc.ID,
		Amount:          req.Amount,
		TransactionType: TypeLoan,
		LoanApprove:     false,
		BalanceAfter:    acc.Balance,
		Timestamp:       p.now(),
	}
	if err := p.store.CreateRecord(ctx, record); err != nil {
		return nil, p.fail("create loan record", acc.ID, err)
	}

	p.logger.Info("loan requested", "account_id", acc.ID, "amount", req.Amount.StringFixed(2), "record_id", record.ID)

	res := &Result{Balance: acc.Balance, Record: record, Applied: true}
	res.Warning = p.notify(ctx, req.Owner, req.Amount, "Loan Request Message", notify.KindLoanRequest)
	return res, nil
}

// ApproveLoan disburses a pending loan: the amount is credited and the
// record is flagged approved in place.
func (p *Processor) ApproveLoan(ctx context.Context, loanID int64) (*Result, error) {
	loan, err := p.loadRecord(ctx, loanID)
	if err != nil {
		return nil, err
	}

	unlock := p.lockAccount(loan.AccountID)
	defer unlock()

	// re-read under the lock
	loan, err = p.loadRecord(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.TransactionType != TypeLoan || loan.LoanApprove {
		return nil, ErrLoanNotPending
	}

	acc, err := p.loadAccount(ctx, loan.AccountID)
	if err != nil {
		return nil, err
	}

	newBalance := acc.Balance.Add(loan.Amount)
	if err := p.store.UpdateBalance(ctx, acc.ID, newBalance); err != nil {
		return nil, p.fail("update balance", acc.ID, err)
	}

	loan.LoanApprove = true
	loan.BalanceAfter = newBalance
	if err := p.store.UpdateRecord(ctx, loan); err != nil {
		return nil, p.fail("approve loan record", acc.ID, err)
	}

	p.logger.Info("loan approved", "account_id", acc.ID, "record_id", loan.ID, "balance", newBalance.StringFixed(2))
	return &Result{Balance: newBalance, Record: loan, Applied: true}, nil
}

// PayLoan repays an approved loan from the requesting account's balance and
// turns the LOAN record into a LOAN_PAID record; no new record is created.
//
// An unapproved (or already paid) loan is a silent no-op. The balance is
// written before the record, so a failed record rewrite leaves the balance
// decremented.
func (p *Processor) PayLoan(ctx context.Context, loanID int64, accountID string) (*Result, error) {
	unlock := p.lockAccount(accountID)
	defer unlock()

	loan, err := p.loadRecord(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.AccountID != accountID {
		return nil, ErrNotFound
	}

	acc, err := p.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !loan.LoanApprove || loan.TransactionType != TypeLoan {
		return &Result{Balance: acc.Balance, Record: loan, Applied: false}, nil
	}

	if acc.Balance.LessThan(loan.Amount) {
		return nil, ErrInsufficientBalance
	}

	newBalance := acc.Balance.Sub(loan.Amount)
	if err := p.store.UpdateBalance(ctx, acc.ID, newBalance); err != nil {
		return nil, p.fail("update balance", acc.ID, err)
	}

	loan.TransactionType = TypeLoanPaid
	loan.BalanceAfter = newBalance
	if err := p.store.UpdateRecord(ctx, loan); err != nil {
		return nil, p.fail("mark loan paid", acc.ID, err)
	}

	p.logger.Info("loan paid", "account_id", acc.ID, "record_id", loan.ID, "balance", newBalance.StringFixed(2))
	return &Result{Balance: newBalance, Record: loan, Applied: true}, nil
}

func (p *Processor) loadAccount(ctx context.Context, id string) (*account.Account, error) {
	acc, err := p.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, account.ErrNotFound
		}
		return nil, p.fail("load account", id, err)
	}
	return acc, nil
}

func (p *Processor) loadRecord(ctx context.Context, id int64) (*Record, error) {
	rec, err := p.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "load transaction record", Err: err}
	}
	return rec, nil
}

func (p *Processor) fail(op, accountID string, err error) error {
	p.logger.Error("persistence failure", "op", op, "account_id", accountID, "err", err)
	return &PersistenceError{Op: op, Err: err}
}

// notify never fails the caller; a delivery problem comes back as a warning.
func (p *Processor) notify(ctx context.Context, to notify.Recipient, amount decimal.Decimal, subject string, kind notify.Kind) string {
	if p.notifier == nil {
		return ""
	}
	if err := p.notifier.Send(ctx, to, amount, subject, kind); err != nil {
		p.logger.Warn("notification failed", "subject", subject, "kind", kind, "err", err)
		return "Transaction completed, but the confirmation email could not be sent"
	}
	return ""
}
