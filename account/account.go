package account

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"banking-ledger/auth"

	"github.com/shopspring/decimal"
)

// --- Models ---

type Account struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	AccountType   string          `json:"account_type"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type CreateAccountRequest struct {
	AccountType string `json:"account_type"`
	Currency    string `json:"currency"`
}

// --- Storage ---

var (
	ErrNotFound      = errors.New("account not found")
	ErrAlreadyExists = errors.New("account already exists")
	ErrNumberTaken   = errors.New("account number already in use")
)

// numberAttempts bounds how often CreateAccountHandler draws a fresh
// account number after a collision.
const numberAttempts = 3

// Store persists accounts. A user owns at most one account.
type Store interface {
	CreateAccount(ctx context.Context, account *Account) (string, error)
	GetAccountByUserID(ctx context.Context, userID string) (*Account, error)
}

// --- Handlers ---

type Env struct {
	Accounts Store
	Logger   *slog.Logger
	// NewNumber draws account numbers; generateAccountNumber when nil.
	NewNumber func() (string, error)
}

func (env *Env) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserIDFromContext(r)
	if err != nil {
		auth.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req CreateAccountRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			auth.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if req.AccountType == "" {
		req.AccountType = "checking"
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	var (
		account   *Account
		accountID string
	)
	for attempt := 1; ; attempt++ {
		accountNumber, err := env.newNumber()
		if err != nil {
			auth.RespondWithError(w, http.StatusInternalServerError, "Failed to generate account number")
			return
		}

		account = &Account{
			UserID:        userID,
			AccountNumber: accountNumber,
			Balance:       decimal.Zero,
			Currency:      req.Currency,
			AccountType:   req.AccountType,
		}
		accountID, err = env.Accounts.CreateAccount(r.Context(), account)
		if err == nil {
			break
		}

		switch {
		case errors.Is(err, ErrAlreadyExists):
			auth.RespondWithError(w, http.StatusConflict, "Account already exists")
			return
		case errors.Is(err, ErrNumberTaken) && attempt < numberAttempts:
			env.logger().Warn("account number collision", "user_id", userID, "attempt", attempt)
			continue
		}
		env.logger().Error("create account", "user_id", userID, "err", err)
		auth.RespondWithError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	auth.JSON(w, http.StatusCreated, map[string]string{"account_id": accountID, "account_number": account.AccountNumber})
}

func (env *Env) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserIDFromContext(r)
	if err != nil {
		auth.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	account, err := env.Accounts.GetAccountByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			auth.RespondWithError(w, http.StatusNotFound, "Account not found")
			return
		}
		env.logger().Error("get account", "user_id", userID, "err", err)
		auth.RespondWithError(w, http.StatusInternalServerError, "Failed to get account")
		return
	}

	auth.JSON(w, http.StatusOK, account)
}

func (env *Env) newNumber() (string, error) {
	if env.NewNumber != nil {
		return env.NewNumber()
	}
	return generateAccountNumber()
}

func (env *Env) logger() *slog.Logger {
	if env.Logger != nil {
		return env.Logger
	}
	return slog.Default()
}

// generateAccountNumber returns a random 10-digit account number.
func generateAccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9_000_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%010d", n.Int64()+1_000_000_000), nil
}
