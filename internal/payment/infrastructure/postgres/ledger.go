package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/dmehra2102/payment-aggregator/pkg/tracing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const aggregateType = "payment"

// Ledger is the Postgres payment ledger. Every status change is written to
// the outbox in the same transaction as the payment row.
type Ledger struct {
	log  *slog.Logger
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewLedger(log *slog.Logger, pool *pgxpool.Pool) *Ledger {
	return &Ledger{log: log, pool: pool, now: time.Now}
}

const paymentColumns = `id, status, amount::text, currency, payment_method, created_at, completed_at,
	errors_json, merchant_id, customer_phone, provider_reference, callback_url`

func (l *Ledger) FindByID(ctx context.Context, id string) (domain.PaymentResponse, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentResponse{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	return p, nil
}

// FindAll returns every payment, newest first.
func (l *Ledger) FindAll(ctx context.Context) ([]domain.PaymentResponse, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.PaymentResponse{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces the payment by id. Terminal rows are never
// rewritten. A PaymentStatusChanged event is queued when the payment is new
// or its status moved.
func (l *Ledger) Upsert(ctx context.Context, p domain.PaymentResponse) error {
	errs, err := json.Marshal(nonNil(p.Errors))
	if err != nil {
		return err
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var previous domain.Status
	err = tx.QueryRow(ctx, `SELECT status FROM payments WHERE id=$1 FOR UPDATE`, p.ID).Scan(&previous)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return err
	case previous.Terminal():
		if previous != p.Status {
			l.log.Warn("terminal payment left unchanged", "payment_id", p.ID, "stored", previous, "incoming", p.Status)
		}
		return nil
	}

	_, err = tx.Exec(ctx, `INSERT INTO payments (id, status, amount, currency, payment_method, created_at, completed_at,
			errors_json, merchant_id, customer_phone, provider_reference, callback_url, updated_at)
		VALUES ($1,$2,$3::numeric,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET status=$2, amount=$3::numeric, currency=$4, payment_method=$5,
			completed_at=$7, errors_json=$8, merchant_id=$9, customer_phone=$10, provider_reference=$11,
			callback_url=$12, updated_at=$13
		WHERE payments.status = 'pending'`,
		p.ID, string(p.Status), p.Amount.String(), p.Currency, p.PaymentMethod, p.CreatedAt, p.CompletedAt,
		string(errs), p.MerchantID, p.CustomerPhone, p.ProviderReference, p.CallbackURL, l.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert payment %s: %w", p.ID, err)
	}

	if previous != p.Status {
		event := domain.NewStatusChanged(p, previous, l.now())
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		headers := tracing.InjectMap(ctx)
		_, err = tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
			VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
			aggregateType, p.ID, domain.EventPaymentStatusChanged, payload, headers, headers[tracing.TraceparentHeader])
		if err != nil {
			return fmt.Errorf("queue event for %s: %w", p.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func scanPayment(row pgx.Row) (domain.PaymentResponse, error) {
	var (
		p      domain.PaymentResponse
		status string
		amount string
		errs   string
	)
	err := row.Scan(&p.ID, &status, &amount, &p.Currency, &p.PaymentMethod, &p.CreatedAt, &p.CompletedAt,
		&errs, &p.MerchantID, &p.CustomerPhone, &p.ProviderReference, &p.CallbackURL)
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	p.Status = domain.Status(status)
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.PaymentResponse{}, fmt.Errorf("payment %s amount: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(errs), &p.Errors); err != nil {
		return domain.PaymentResponse{}, fmt.Errorf("payment %s errors: %w", p.ID, err)
	}
	p.Errors = nonNil(p.Errors)
	p.CreatedAt = p.CreatedAt.UTC()
	if p.CompletedAt != nil {
		t := p.CompletedAt.UTC()
		p.CompletedAt = &t
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
