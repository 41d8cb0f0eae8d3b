package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS payments (
		id                 TEXT PRIMARY KEY,
		status             TEXT NOT NULL,
		amount             NUMERIC(18,2) NOT NULL,
		currency           TEXT NOT NULL,
		payment_method     TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL,
		completed_at       TIMESTAMPTZ,
		errors_json        TEXT NOT NULL DEFAULT '[]',
		merchant_id        TEXT NOT NULL DEFAULT '',
		customer_phone     TEXT,
		provider_reference TEXT NOT NULL DEFAULT '',
		callback_url       TEXT NOT NULL DEFAULT '',
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS payments_created_at_idx ON payments (created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS payments_pending_idx ON payments (status) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS mywallet_sessions (
		payment_id         TEXT PRIMARY KEY,
		provider_reference TEXT NOT NULL,
		session_token      TEXT,
		created_at         TIMESTAMPTZ NOT NULL,
		last_status_check  TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id             BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		type           TEXT NOT NULL,
		payload        JSONB NOT NULL,
		headers        JSONB NOT NULL DEFAULT '{}',
		traceparent    TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT 'pending',
		relay_id       TEXT,
		lease_until    TIMESTAMPTZ,
		retry_count    INT NOT NULL DEFAULT 0,
		last_error     TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_status_idx ON outbox (status, id)`,
}

// Migrate creates the ledger tables. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
