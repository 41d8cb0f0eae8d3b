package postgres

import (
	"context"
	"errors"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository keeps MyWallet session artifacts across restarts.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) FindSession(ctx context.Context, paymentID string) (domain.SessionEntry, error) {
	var e domain.SessionEntry
	err := r.pool.QueryRow(ctx, `SELECT payment_id, provider_reference, session_token, created_at, last_status_check
		FROM mywallet_sessions WHERE payment_id=$1`, paymentID).
		Scan(&e.PaymentID, &e.ProviderReference, &e.SessionToken, &e.CreatedAt, &e.LastStatusCheck)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionEntry{}, domain.ErrNotFound
	}
	return e, err
}

// UpsertSession keeps the original created_at of an existing entry.
func (r *SessionRepository) UpsertSession(ctx context.Context, e domain.SessionEntry) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO mywallet_sessions (payment_id, provider_reference, session_token, created_at, last_status_check)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (payment_id) DO UPDATE SET provider_reference=$2, session_token=$3, last_status_check=$5`,
		e.PaymentID, e.ProviderReference, e.SessionToken, e.CreatedAt, e.LastStatusCheck)
	return err
}
