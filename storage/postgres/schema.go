package postgres

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. The BIGSERIAL id gives ledger
// insertion order.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                 UUID PRIMARY KEY,
		dni                VARCHAR(20) NOT NULL UNIQUE,
		generated_pin_hash TEXT NOT NULL,
		full_name          VARCHAR(255) NOT NULL,
		email              VARCHAR(255) NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id             UUID PRIMARY KEY,
		user_id        UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		account_number VARCHAR(10) NOT NULL UNIQUE,
		balance        NUMERIC(14, 2) NOT NULL DEFAULT 0,
		currency       VARCHAR(3) NOT NULL DEFAULT 'USD',
		account_type   VARCHAR(20) NOT NULL DEFAULT 'checking',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id                        BIGSERIAL PRIMARY KEY,
		account_id                UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		amount                    NUMERIC(14, 2) NOT NULL,
		transaction_type          VARCHAR(10) NOT NULL,
		loan_approve              BOOLEAN NOT NULL DEFAULT FALSE,
		balance_after_transaction NUMERIC(14, 2) NOT NULL,
		"timestamp"               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_account_id_idx ON transactions (account_id, "timestamp")`,
}

// Migrate creates missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
