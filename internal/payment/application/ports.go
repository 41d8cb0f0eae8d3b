package application

import (
	"context"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/shopspring/decimal"
)

// Provider is one payment rail.
//
// Business failures are reported as a failed PaymentResponse with at least
// one diagnostic; the error return is reserved for infrastructure faults.
type Provider interface {
	CreatePayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResponse, error)
	// GetPayment returns nil when the provider does not know id.
	GetPayment(ctx context.Context, id string) (*domain.PaymentResponse, error)
	// GetBalance returns nil for rails without a balance concept.
	GetBalance(ctx context.Context, accountID string) (*decimal.Decimal, error)
}

// Ledger is the durable record of every payment. FindByID returns
// domain.ErrNotFound on a miss.
type Ledger interface {
	FindByID(ctx context.Context, id string) (domain.PaymentResponse, error)
	FindAll(ctx context.Context) ([]domain.PaymentResponse, error)
	Upsert(ctx context.Context, p domain.PaymentResponse) error
}

// SessionStore persists remote-wallet session artifacts keyed by payment id.
// FindSession returns domain.ErrNotFound on a miss.
type SessionStore interface {
	FindSession(ctx context.Context, paymentID string) (domain.SessionEntry, error)
	UpsertSession(ctx context.Context, e domain.SessionEntry) error
}
