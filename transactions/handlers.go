package transactions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/notify"

	"github.com/shopspring/decimal"
)

// --- Models ---

type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type OperationResponse struct {
	Message string `json:"message"`
	*Result
}

// --- Handlers ---

type Env struct {
	Processor *Processor
	Accounts  account.Store
	Users     auth.UserStore
	Logger    *slog.Logger
}

func (env *Env) DepositHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := env.moneyRequest(w, r)
	if !ok {
		return
	}
	res, err := env.Processor.Deposit(r.Context(), req)
	if err != nil {
		env.respondWithProcessorError(w, err, "/transactions")
		return
	}
	env.respond(w, fmt.Sprintf("%s$ was deposited successfully", formatAmount(req.Amount)), res)
}

func (env *Env) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := env.moneyRequest(w, r)
	if !ok {
		return
	}
	res, err := env.Processor.Withdraw(r.Context(), req)
	if err != nil {
		env.respondWithProcessorError(w, err, "/transactions")
		return
	}
	env.respond(w, fmt.Sprintf("%s$ withdrawn successfully", formatAmount(req.Amount)), res)
}

func (env *Env) LoanRequestHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := env.moneyRequest(w, r)
	if !ok {
		return
	}
	res, err := env.Processor.RequestLoan(r.Context(), req)
	if err != nil {
		env.respondWithProcessorError(w, err, "/loans")
		return
	}
	env.respond(w, fmt.Sprintf("Loan request of %s$ submitted successfully", formatAmount(req.Amount)), res)
}

func (env *Env) PayLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || loanID <= 0 {
		auth.RespondWithFailure(w, http.StatusNotFound, "not_found", "Loan not found", "")
		return
	}

	acc, ok := env.currentAccount(w, r)
	if !ok {
		return
	}

	res, err := env.Processor.PayLoan(r.Context(), loanID, acc.ID)
	if err != nil {
		env.respondWithProcessorError(w, err, "/loans")
		return
	}
	if !res.Applied {
		env.respond(w, "Loan is not awaiting payment", res)
		return
	}
	env.respond(w, fmt.Sprintf("Loan of %s$ paid successfully", formatAmount(res.Record.Amount)), res)
}

func (env *Env) LoanListHandler(w http.ResponseWriter, r *http.Request) {
	acc, ok := env.currentAccount(w, r)
	if !ok {
		return
	}
	loans, err := env.Processor.ListLoans(r.Context(), acc.ID)
	if err != nil {
		env.respondWithProcessorError(w, err, "")
		return
	}
	auth.JSON(w, http.StatusOK, map[string]any{"loans": nonNil(loans)})
}

// ReportHandler lists the account's transactions, filtered by
// start_date/end_date when both are present.
func (env *Env) ReportHandler(w http.ResponseWriter, r *http.Request) {
	acc, ok := env.currentAccount(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	dr, err := ParseDateRange(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		env.respondWithProcessorError(w, err, "")
		return
	}

	records, err := env.Processor.ListTransactions(r.Context(), acc.ID, dr)
	if err != nil {
		env.respondWithProcessorError(w, err, "")
		return
	}
	auth.JSON(w, http.StatusOK, map[string]any{
		"account":      acc,
		"transactions": nonNil(records),
	})
}

func (env *Env) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	acc, ok := env.currentAccount(w, r)
	if !ok {
		return
	}
	rec, err := env.Processor.Reconcile(r.Context(), acc.ID)
	if err != nil {
		env.respondWithProcessorError(w, err, "")
		return
	}
	auth.JSON(w, http.StatusOK, rec)
}

// ApproveLoanHandler is a back-office route; it is not bound to a user.
func (env *Env) ApproveLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || loanID <= 0 {
		auth.RespondWithFailure(w, http.StatusNotFound, "not_found", "Loan not found", "")
		return
	}
	res, err := env.Processor.ApproveLoan(r.Context(), loanID)
	if err != nil {
		env.respondWithProcessorError(w, err, "")
		return
	}
	env.respond(w, fmt.Sprintf("Loan of %s$ approved", formatAmount(res.Record.Amount)), res)
}

// --- Helpers ---

// moneyRequest resolves the caller's account and owner and decodes the amount.
func (env *Env) moneyRequest(w http.ResponseWriter, r *http.Request) (Request, bool) {
	var body AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		auth.RespondWithFailure(w, http.StatusBadRequest, "invalid_amount", "Invalid request body", "")
		return Request{}, false
	}
	if err := ValidateAmount(body.Amount); err != nil {
		auth.RespondWithFailure(w, http.StatusBadRequest, "invalid_amount", err.Error(), "")
		return Request{}, false
	}

	acc, ok := env.currentAccount(w, r)
	if !ok {
		return Request{}, false
	}

	req := Request{AccountID: acc.ID, Amount: body.Amount}
	user, err := env.Users.GetUserByID(r.Context(), acc.UserID)
	if err != nil {
		// the operation does not depend on it; notification just has nobody to reach
		env.logger().Warn("owner lookup failed", "user_id", acc.UserID, "err", err)
	} else {
		req.Owner = notify.Recipient{Name: user.FullName, Email: user.Email}
	}
	return req, true
}

func (env *Env) currentAccount(w http.ResponseWriter, r *http.Request) (*account.Account, bool) {
	userID, err := auth.GetUserIDFromContext(r)
	if err != nil {
		auth.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}

	acc, err := env.Accounts.GetAccountByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			auth.RespondWithFailure(w, http.StatusNotFound, "not_found", "Account not found", "")
			return nil, false
		}
		env.logger().Error("resolve account", "user_id", userID, "err", err)
		auth.RespondWithFailure(w, http.StatusInternalServerError, "persistence_failure", "Failed to get account", "")
		return nil, false
	}
	return acc, true
}

func (env *Env) respond(w http.ResponseWriter, message string, res *Result) {
	auth.JSON(w, http.StatusOK, OperationResponse{Message: message, Result: res})
}

// respondWithProcessorError maps processor errors to status codes. Balance
// and storage failures come with the view the client should go back to.
func (env *Env) respondWithProcessorError(w http.ResponseWriter, err error, redirect string) {
	var perr *PersistenceError
	switch {
	case errors.Is(err, ErrInvalidAmount):
		auth.RespondWithFailure(w, http.StatusBadRequest, "invalid_amount", err.Error(), "")
	case errors.Is(err, ErrInvalidDate):
		auth.RespondWithFailure(w, http.StatusBadRequest, "invalid_date", err.Error(), "")
	case errors.Is(err, ErrLoanLimitExceeded):
		auth.RespondWithFailure(w, http.StatusConflict, "loan_limit_exceeded", "You have crossed the loan limit", "")
	case errors.Is(err, ErrInsufficientBalance):
		auth.RespondWithFailure(w, http.StatusConflict, "insufficient_balance", "Insufficient balance", redirect)
	case errors.Is(err, ErrLoanNotPending):
		auth.RespondWithFailure(w, http.StatusConflict, "loan_not_pending", err.Error(), "")
	case errors.Is(err, ErrNotFound):
		auth.RespondWithFailure(w, http.StatusNotFound, "not_found", "Loan not found", "")
	case errors.Is(err, account.ErrNotFound):
		auth.RespondWithFailure(w, http.StatusNotFound, "not_found", "Account not found", "")
	case errors.As(err, &perr):
		auth.RespondWithFailure(w, http.StatusInternalServerError, "persistence_failure",
			"Transaction failed, please try again", redirect)
	default:
		env.logger().Error("unexpected processor error", "err", err)
		auth.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (env *Env) logger() *slog.Logger {
	if env.Logger != nil {
		return env.Logger
	}
	return slog.Default()
}

// formatAmount renders d with two decimals and comma-grouped thousands,
// e.g. 1234567.5 as "1,234,567.50".
func formatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func nonNil(records []*Record) []*Record {
	if records == nil {
		return []*Record{}
	}
	return records
}
