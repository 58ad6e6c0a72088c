package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"banking-ledger/account"
	"banking-ledger/auth"
	"banking-ledger/config"
	"banking-ledger/currency"
	"banking-ledger/notify"
	"banking-ledger/storage/memory"
	"banking-ledger/storage/postgres"
	"banking-ledger/storage/sqlite"
	"banking-ledger/transactions"
)

// store is what every backend provides.
type store interface {
	auth.UserStore
	account.Store
	transactions.Store
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openStore connects the configured backend and brings its schema up to date.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, func() error, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, db.Close, nil
	case "sqlite":
		db, err := sqlite.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, db.Close, nil
	case "memory":
		return memory.New(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB()
	logger.Info("connected to the database", "driver", cfg.Database.Driver)

	if cfg.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}

	mailer, err := notify.NewMailer(notify.Config{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		Debug:    cfg.Email.Debug,
	}, logger)
	if err != nil {
		return err
	}

	processor := transactions.NewProcessor(db, mailer, logger, transactions.Options{
		MaxApprovedLoans: cfg.Loans.MaxApproved,
		Location:         cfg.Location(),
	})

	tokens := auth.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authEnv := &auth.Env{Users: db, Tokens: tokens, Logger: logger}
	accountEnv := &account.Env{Accounts: db, Logger: logger}
	transactionsEnv := &transactions.Env{Processor: processor, Accounts: db, Users: db, Logger: logger}
	rates := currency.NewClient(cfg.Currency.BaseURL, cfg.Currency.Timeout)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      auth.Logger(routes(tokens, authEnv, accountEnv, transactionsEnv, rates, cfg.Admin.APIKey)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func routes(tokens *auth.Authenticator, authEnv *auth.Env, accountEnv *account.Env, txEnv *transactions.Env, rates *currency.Client, adminKey string) *http.ServeMux {
	rateLimiter := auth.NewRateLimiter()
	protected := func(h http.HandlerFunc) http.Handler {
		return tokens.Middleware(h)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Welcome to the Banking System!")
	})

	// Auth routes
	mux.Handle("POST /signup", auth.ValidateSignupRequest(http.HandlerFunc(authEnv.SignupHandler)))
	mux.Handle("POST /login", rateLimiter.Middleware(http.HandlerFunc(authEnv.LoginHandler)))
	mux.Handle("POST /change-password", protected(authEnv.ChangePasswordHandler))
	mux.HandleFunc("POST /refresh", authEnv.RefreshHandler)
	mux.Handle("GET /status", protected(authEnv.StatusHandler))
	mux.Handle("GET /me", protected(authEnv.GetUserHandler))

	// Account routes
	mux.Handle("POST /create-account", protected(accountEnv.CreateAccountHandler))
	mux.Handle("GET /account", protected(accountEnv.GetAccountHandler))

	// Transactions routes
	mux.Handle("POST /deposit", protected(txEnv.DepositHandler))
	mux.Handle("POST /withdraw", protected(txEnv.WithdrawHandler))
	mux.Handle("POST /loans", protected(txEnv.LoanRequestHandler))
	mux.Handle("GET /loans", protected(txEnv.LoanListHandler))
	mux.Handle("POST /loans/{id}/pay", protected(txEnv.PayLoanHandler))
	mux.Handle("GET /transactions", protected(txEnv.ReportHandler))
	mux.Handle("GET /reconcile", protected(txEnv.ReconcileHandler))

	// Back office
	mux.Handle("POST /admin/loans/{id}/approve", auth.AdminMiddleware(adminKey, http.HandlerFunc(txEnv.ApproveLoanHandler)))

	// Currency conversion route
	mux.HandleFunc("GET /convert", rates.ConvertHandler)

	return mux
}
