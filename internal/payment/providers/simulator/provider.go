// Package simulator implements payment rails without a real back-end: card
// settles instantly, the mobile-money and EFT rails settle after a fixed delay.
package simulator

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/shopspring/decimal"
)

type Provider struct {
	log   *slog.Logger
	rail  Rail
	store *store
	sched *Scheduler
	now   func() time.Time
}

func NewProvider(log *slog.Logger, rail Rail, sched *Scheduler) *Provider {
	return &Provider{
		log:   log.With("method", rail.Code),
		rail:  rail,
		store: newStore(),
		sched: sched,
		now:   time.Now,
	}
}

func (p *Provider) CreatePayment(_ context.Context, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	id := domain.NewPaymentID(p.rail.Code)
	payment := domain.NewPending(id, p.rail.Code, req, p.now())

	if p.rail.Settlement <= 0 {
		payment.Succeed(p.now())
		p.store.put(payment)
		return payment, nil
	}

	p.store.put(payment)
	scheduled := p.sched.After(p.rail.Settlement, func() {
		p.store.update(id, func(rec *domain.PaymentResponse) {
			if rec.Succeed(p.now()) {
				p.log.Info("simulated settlement", "payment_id", id)
			}
		})
	})
	if !scheduled {
		p.log.Warn("settlement not scheduled, scheduler stopped", "payment_id", id)
	}
	return payment, nil
}

func (p *Provider) GetPayment(_ context.Context, id string) (*domain.PaymentResponse, error) {
	payment, ok := p.store.get(id)
	if !ok {
		return nil, nil
	}
	return &payment, nil
}

func (p *Provider) GetBalance(_ context.Context, accountID string) (*decimal.Decimal, error) {
	if p.rail.Balance == nil {
		return nil, nil
	}
	return p.rail.Balance(accountID), nil
}
