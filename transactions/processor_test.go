package transactions_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"banking-ledger/account"
	"banking-ledger/notify"
	"banking-ledger/transactions"
	mock_transactions "banking-ledger/transactions/mocks"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

// decimalEq matches decimals by value, ignoring exponent differences.
type decimalEq struct{ want decimal.Decimal }

func (m decimalEq) Matches(x interface{}) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalEq) String() string { return "is decimal " + m.want.String() }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func eqDec(s string) gomock.Matcher { return decimalEq{want: dec(s)} }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    *mock_transactions.MockStore
	notifier *mock_transactions.MockNotifier
	proc     *transactions.Processor
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	store := mock_transactions.NewMockStore(ctrl)
	notifier := mock_transactions.NewMockNotifier(ctrl)
	proc := transactions.NewProcessor(store, notifier, quietLogger(), transactions.Options{
		Now: func() time.Time { return fixedNow },
	})
	return &fixture{store: store, notifier: notifier, proc: proc}
}

func acct(balance string) *account.Account {
	return &account.Account{ID: "acc-1", UserID: "user-1", Balance: dec(balance)}
}

var owner = notify.Recipient{Name: "Ana", Email: "ana@example.com"}

func TestProcessor_Deposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("100.00"), nil)
	gomock.InOrder(
		f.store.EXPECT().UpdateBalance(ctx, "acc-1", eqDec("150.00")).Return(nil),
		f.store.EXPECT().CreateRecord(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, r *transactions.Record) error {
			r.ID = 7
			return nil
		}),
		f.notifier.EXPECT().Send(ctx, owner, eqDec("50.00"), "Deposit Message", notify.KindDeposit).Return(nil),
	)

	res, err := f.proc.Deposit(ctx, transactions.Request{AccountID: "acc-1", Owner: owner, Amount: dec("50.00")})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Empty(t, res.Warning)
	assert.Equal(t, "150.00", res.Balance.StringFixed(2))
	require.NotNil(t, res.Record)
	assert.Equal(t, int64(7), res.Record.ID)
	assert.Equal(t, transactions.TypeDeposit, res.Record.TransactionType)
	assert.Equal(t, "50.00", res.Record.Amount.StringFixed(2))
	assert.True(t, res.Record.BalanceAfter.Equal(res.Balance))
	assert.False(t, res.Record.LoanApprove)
	assert.Equal(t, fixedNow, res.Record.Timestamp)
}

func TestProcessor_DepositBalanceWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbErr := errors.New("connection reset")

	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("100.00"), nil)
	f.store.EXPECT().UpdateBalance(ctx, "acc-1", eqDec("150.00")).Return(dbErr)
	// no CreateRecord, no Send

	res, err := f.proc.Deposit(ctx, transactions.Request{AccountID: "acc-1", Owner: owner, Amount: dec("50")})
	assert.Nil(t, res)

	var perr *transactions.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "update balance", perr.Op)
	assert.ErrorIs(t, err, dbErr)
}

func TestProcessor_DepositNotificationFailureKeepsDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("0"), nil)
	f.store.EXPECT().UpdateBalance(ctx, "acc-1", eqDec("20")).Return(nil)
	f.store.EXPECT().CreateRecord(ctx, gomock.Any()).Return(nil)
	f.notifier.EXPECT().Send(ctx, owner, eqDec("20"), "Deposit Message", notify.KindDeposit).
		Return(errors.New("smtp: 535 authentication failed"))

	res, err := f.proc.Deposit(ctx, transactions.Request{AccountID: "acc-1", Owner: owner, Amount: dec("20")})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, "20.00", res.Balance.StringFixed(2))
}

func TestProcessor_WithdrawMayGoNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("150.00"), nil)
	f.store.EXPECT().UpdateBalance(ctx, "acc-1", eqDec("-50.00")).Return(nil)
	f.store.EXPECT().CreateRecord(ctx, gomock.Any()).Return(nil)
	f.notifier.EXPECT().Send(ctx, owner, eqDec("200"), "Withdrawal Message", notify.KindWithdrawal).Return(nil)

	res, err := f.proc.Withdraw(ctx, transactions.Request{AccountID: "acc-1", Owner: owner, Amount: dec("200.00")})
	require.NoError(t, err)
	assert.Equal(t, "-50.00", res.Balance.StringFixed(2))
	assert.Equal(t, transactions.TypeWithdrawal, res.Record.TransactionType)
	assert.Equal(t, "-50.00", res.Record.BalanceAfter.StringFixed(2))
}

func TestProcessor_WithdrawRecordWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("10"), nil)
	f.store.EXPECT().UpdateBalance(ctx, "acc-1", eqDec("5")).Return(nil)
	f.store.EXPECT().CreateRecord(ctx, gomock.Any()).Return(errors.New("disk full"))

	_, err := f.proc.Withdraw(ctx, transactions.Request{AccountID: "acc-1", Owner: owner, Amount: dec("5")})
	var perr *transactions.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create transaction record", perr.Op)
}

func TestProcessor_InvalidAmount(t *testing.T) {
	tests := []struct {
		name   string
		amount string
	}{
		{name: "zero", amount: "0"},
		{name: "negative", amount: "-10.00"},
		{name: "three decimals", amount: "1.005"},
		{name: "too large", amount: "10000000000"},
		{name: "huge exponent", amount: "1e999999999"},
		{name: "tiny exponent", amount: "1e-999999999"},
		{name: "eleven integer digits", amount: "0.1e11"},
	}

	ops := map[string]func(*transactions.Processor, context.Context, transactions.Request) (*transactions.Result, error){
		"deposit":  (*transactions.Processor).Deposit,
		"withdraw": (*transactions.Processor).Withdraw,
		"loan":     (*transactions.Processor).RequestLoan,
	}

	for _, tt := range tests {
		for opName, op := range ops {
			t.Run(fmt.Sprintf("%s/%s", opName, tt.name), func(t *testing.T) {
				f := newFixture(t) // any store call fails the test
				_, err := op(f.proc, context.Background(), transactions.Request{AccountID: "acc-1", Amount: dec(tt.amount)})
				assert.ErrorIs(t, err, transactions.ErrInvalidAmount)
			})
		}
	}
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, transactions.ValidateAmount(dec("0.01")))
	assert.NoError(t, transactions.ValidateAmount(dec("1.500")))
	assert.NoError(t, transactions.ValidateAmount(dec("9999999999.99")))
	assert.NoError(t, transactions.ValidateAmount(dec("1e3")))

	start := time.Now()
	assert.ErrorIs(t, transactions.ValidateAmount(dec("1e999999999")), transactions.ErrInvalidAmount)
	assert.ErrorIs(t, transactions.ValidateAmount(dec("-1e999999999")), transactions.ErrInvalidAmount)
	assert.ErrorIs(t, transactions.ValidateAmount(dec("1e-999999999")), transactions.ErrInvalidAmount)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProcessor_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().GetAccount(ctx, "missing").Return(nil, fmt.Errorf("lookup: %w", account.ErrNotFound))

	_, err := f.proc.Deposit(ctx, transactions.Request{AccountID: "missing", Amount: dec("1")})
	assert.ErrorIs(t, err, account.ErrNotFound)

	var perr *transactions.PersistenceError
	assert.False(t, errors.As(err, &perr))
}

func TestProcessor_RequestLoan(t *testing.T) {
	tests := []struct {
		name     string
		approved int
		wantErr  error
	}{
		{name: "no loans yet", approved: 0},
		{name: "two approved", approved: 2},
		{name: "limit reached", approved: 3, wantErr: transactions.ErrLoanLimitExceeded},
		{name: "over limit", approved: 4, wantErr: transactions.ErrLoanLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("100.00"), nil)
			f.store.EXPECT().CountRecords(ctx, "acc-1", transactions.TypeLoan, true).Return(tt.approved, nil)
			if tt.wantErr == nil {
				f.store.EXPECT().CreateRecord(ctx, gomock.Any()).Return(nil)
				f.notifier.EXPECT().Send(ctx, owner, eqDec("500"), "Loan Request Message", notify.KindLoanRequest).Return(nil)
			}

			res, err := f.proc.RequestLoan(ctx, transactions.Request{AccountID: "acc-1", Owner: owner, Amount: dec("500.00")})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, transactions.TypeLoan, res.Record.TransactionType)
			assert.False(t, res.Record.LoanApprove)
			assert.Equal(t, "100.00", res.Balance.StringFixed(2), "requesting a loan does not move money")
		})
	}
}

func TestProcessor_RequestLoanCustomLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock_transactions.NewMockStore(ctrl)
	proc := transactions.NewProcessor(store, nil, quietLogger(), transactions.Options{MaxApprovedLoans: 1})
	ctx := context.Background()

	store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("0"), nil)
	store.EXPECT().CountRecords(ctx, "acc-1", transactions.TypeLoan, true).Return(1, nil)

	_, err := proc.RequestLoan(ctx, transactions.Request{AccountID: "acc-1", Amount: dec("1")})
	assert.ErrorIs(t, err, transactions.ErrLoanLimitExceeded)
}

func approvedLoan(amount string) *transactions.Record {
	return &transactions.Record{
		ID:              42,
		AccountID:       "acc-1",
		Amount:          dec(amount),
		TransactionType: transactions.TypeLoan,
		LoanApprove:     true,
		BalanceAfter:    dec("0"),
		Timestamp:       fixedNow.Add(-time.Hour),
	}
}

func TestProcessor_PayLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := approvedLoan("300.00")

	f.store.EXPECT().GetRecord(ctx, int64(42)).Return(loan, nil)
	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("1000.00"), nil)
	gomock.InOrder(
		f.store.EXPECT().UpdateBalance(ctx, "acc-1", eqDec("700.00")).Return(nil),
		f.store.EXPECT().UpdateRecord(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, r *transactions.Record) error {
			assert.Equal(t, int64(42), r.ID, "the loan record itself is rewritten")
			assert.Equal(t, transactions.TypeLoanPaid, r.TransactionType)
			assert.Equal(t, "700.00", r.BalanceAfter.StringFixed(2))
			return nil
		}),
	)
	// no CreateRecord: payoff reuses the loan record

	res, err := f.proc.PayLoan(ctx, 42, "acc-1")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "700.00", res.Balance.StringFixed(2))
	assert.Equal(t, transactions.TypeLoanPaid, res.Record.TransactionType)
}

func TestProcessor_PayLoanNotApprovedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := approvedLoan("300")
	loan.LoanApprove = false

	f.store.EXPECT().GetRecord(ctx, int64(42)).Return(loan, nil)
	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("1000"), nil)

	res, err := f.proc.PayLoan(ctx, 42, "acc-1")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "1000.00", res.Balance.StringFixed(2))
	assert.Equal(t, transactions.TypeLoan, res.Record.TransactionType)
}

func TestProcessor_PayLoanAlreadyPaidIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := approvedLoan("300")
	loan.TransactionType = transactions.TypeLoanPaid

	f.store.EXPECT().GetRecord(ctx, int64(42)).Return(loan, nil)
	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("1000"), nil)

	res, err := f.proc.PayLoan(ctx, 42, "acc-1")
	require.NoError(t, err)
	assert.False(t, res.Applied)
}

func TestProcessor_PayLoanInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().GetRecord(ctx, int64(42)).Return(approvedLoan("300.00"), nil)
	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("299.99"), nil)

	res, err := f.proc.PayLoan(ctx, 42, "acc-1")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, transactions.ErrInsufficientBalance)
}

func TestProcessor_PayLoanExactBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().GetRecord(ctx, int64(42)).Return(approvedLoan("300"), nil)
	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("300"), nil)
	f.store.EXPECT().UpdateBalance(ctx, "acc-1", eqDec("0")).Return(nil)
	f.store.EXPECT().UpdateRecord(ctx, gomock.Any()).Return(nil)

	res, err := f.proc.PayLoan(ctx, 42, "acc-1")
	require.NoError(t, err)
	assert.True(t, res.Balance.IsZero())
}

func TestProcessor_PayLoanNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().GetRecord(ctx, int64(9)).Return(nil, transactions.ErrNotFound)

	_, err := f.proc.PayLoan(ctx, 9, "acc-1")
	assert.ErrorIs(t, err, transactions.ErrNotFound)
}

func TestProcessor_PayLoanOfAnotherAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := approvedLoan("300")
	loan.AccountID = "acc-2"

	f.store.EXPECT().GetRecord(ctx, int64(42)).Return(loan, nil)

	_, err := f.proc.PayLoan(ctx, 42, "acc-1")
	assert.ErrorIs(t, err, transactions.ErrNotFound)
}

func TestProcessor_PayLoanRecordRewriteFailsAfterBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().GetRecord(ctx, int64(42)).Return(approvedLoan("300"), nil)
	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("1000"), nil)
	f.store.EXPECT().UpdateBalance(ctx, "acc-1", eqDec("700")).Return(nil)
	f.store.EXPECT().UpdateRecord(ctx, gomock.Any()).Return(errors.New("deadlock detected"))

	_, err := f.proc.PayLoan(ctx, 42, "acc-1")
	var perr *transactions.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "mark loan paid", perr.Op)
}

func TestProcessor_ApproveLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := approvedLoan("500")
	loan.LoanApprove = false

	f.store.EXPECT().GetRecord(ctx, int64(42)).Return(loan, nil).Times(2)
	f.store.EXPECT().GetAccount(ctx, "acc-1").Return(acct("100"), nil)
	f.store.EXPECT().UpdateBalance(ctx, "acc-1", eqDec("600")).Return(nil)
	f.store.EXPECT().UpdateRecord(ctx, gomock.Any()).Return(nil)

	res, err := f.proc.ApproveLoan(ctx, 42)
	require.NoError(t, err)
	assert.True(t, res.Record.LoanApprove)
	assert.Equal(t, transactions.TypeLoan, res.Record.TransactionType)
	assert.Equal(t, "600.00", res.Balance.StringFixed(2))
	assert.Equal(t, "600.00", res.Record.BalanceAfter.StringFixed(2))
}

func TestProcessor_ApproveLoanNotPending(t *testing.T) {
	tests := []struct {
		name   string
		record *transactions.Record
	}{
		{name: "already approved", record: approvedLoan("1")},
		{name: "paid", record: &transactions.Record{ID: 42, AccountID: "acc-1", TransactionType: transactions.TypeLoanPaid, LoanApprove: true}},
		{name: "deposit", record: &transactions.Record{ID: 42, AccountID: "acc-1", TransactionType: transactions.TypeDeposit}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.store.EXPECT().GetRecord(ctx, int64(42)).Return(tt.record, nil).Times(2)

			_, err := f.proc.ApproveLoan(ctx, 42)
			assert.ErrorIs(t, err, transactions.ErrLoanNotPending)
		})
	}
}

func TestProcessor_ListTransactionsDateBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dr, err := transactions.ParseDateRange("2025-03-01", "2025-03-14")
	require.NoError(t, err)

	f.store.EXPECT().ListRecords(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, filter transactions.Filter) ([]*transactions.Record, error) {
		assert.Equal(t, "acc-1", filter.AccountID)
		assert.Empty(t, filter.Types)
		assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), filter.From)
		assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), filter.To, "end date is inclusive")
		return nil, nil
	})

	_, err = f.proc.ListTransactions(ctx, "acc-1", dr)
	require.NoError(t, err)
}

func TestProcessor_ListTransactionsReversedRange(t *testing.T) {
	f := newFixture(t)

	dr, err := transactions.ParseDateRange("2025-03-14", "2025-03-01")
	require.NoError(t, err)

	records, err := f.proc.ListTransactions(context.Background(), "acc-1", dr)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProcessor_ListLoans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().ListRecords(ctx, transactions.Filter{AccountID: "acc-1", Types: []transactions.Type{transactions.TypeLoan}}).
		Return([]*transactions.Record{approvedLoan("10")}, nil)

	loans, err := f.proc.ListLoans(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func TestProcessor_ListStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.EXPECT().ListRecords(ctx, gomock.Any()).Return(nil, errors.New("timeout"))

	_, err := f.proc.ListTransactions(ctx, "acc-1", nil)
	var perr *transactions.PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		wantNil    bool
		wantErr    error
	}{
		{name: "both missing", wantNil: true},
		{name: "only start", start: "2025-01-01", wantNil: true},
		{name: "only end", end: "2025-01-01", wantNil: true},
		{name: "valid", start: "2025-01-01", end: "2025-01-31"},
		{name: "bad start", start: "01/01/2025", end: "2025-01-31", wantErr: transactions.ErrInvalidDate},
		{name: "bad end", start: "2025-01-01", end: "2025-02-30", wantErr: transactions.ErrInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dr, err := transactions.ParseDateRange(tt.start, tt.end)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, dr)
				return
			}
			require.NotNil(t, dr)
			assert.Equal(t, tt.start, dr.Start.Format("2006-01-02"))
			assert.Equal(t, tt.end, dr.End.Format("2006-01-02"))
		})
	}
}

func TestLedgerNet(t *testing.T) {
	records := []*transactions.Record{
		{TransactionType: transactions.TypeDeposit, Amount: dec("50")},
		{TransactionType: transactions.TypeWithdrawal, Amount: dec("200")},
		{TransactionType: transactions.TypeLoan, Amount: dec("500"), LoanApprove: true},
		{TransactionType: transactions.TypeLoan, Amount: dec("700")},
		{TransactionType: transactions.TypeLoanPaid, Amount: dec("300"), LoanApprove: true},
	}
	assert.Equal(t, "350.00", transactions.LedgerNet(records).StringFixed(2))
}
