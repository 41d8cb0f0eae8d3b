package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Service routes payment operations to the provider that owns the rail and
// write-through persists every result in the ledger.
type Service struct {
	log      *slog.Logger
	registry *Registry
	ledger   Ledger
	tracer   trace.Tracer
}

func NewService(log *slog.Logger, registry *Registry, ledger Ledger) *Service {
	return &Service{
		log:      log,
		registry: registry,
		ledger:   ledger,
		tracer:   otel.Tracer("payment-aggregator"),
	}
}

func (s *Service) CreatePayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "CreatePayment", trace.WithAttributes(attribute.String("payment.method", req.PaymentMethod)))
	defer span.End()

	provider, ok := s.registry.Resolve(req.PaymentMethod)
	if !ok {
		return domain.PaymentResponse{}, domain.UnsupportedMethod(req.PaymentMethod)
	}
	if err := req.Validate(); err != nil {
		return domain.PaymentResponse{}, err
	}

	resp, err := provider.CreatePayment(ctx, req)
	if err != nil {
		span.RecordError(err)
		return domain.PaymentResponse{}, fmt.Errorf("create payment via %s: %w", req.PaymentMethod, err)
	}
	if err := s.ledger.Upsert(ctx, resp); err != nil {
		span.RecordError(err)
		s.log.Error("persist payment failed", "payment_id", resp.ID, "err", err)
		return domain.PaymentResponse{}, fmt.Errorf("persist payment %s: %w", resp.ID, err)
	}

	span.SetAttributes(attribute.String("payment.id", resp.ID), attribute.String("payment.status", string(resp.Status)))
	s.log.Info("payment created", "payment_id", resp.ID, "method", resp.PaymentMethod, "status", resp.Status)
	return resp, nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (domain.PaymentResponse, error) {
	ctx, span := s.tracer.Start(ctx, "GetPayment", trace.WithAttributes(attribute.String("payment.id", id)))
	defer span.End()

	stored, err := s.ledger.FindByID(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Scan only on a clean miss. A failing ledger is an error, never a provider fan-out.
		return s.scanProviders(ctx, id)
	case err != nil:
		span.RecordError(err)
		return domain.PaymentResponse{}, fmt.Errorf("load payment %s: %w", id, err)
	}

	provider, ok := s.registry.Resolve(stored.PaymentMethod)
	if !ok {
		return stored, nil
	}
	refreshed, err := provider.GetPayment(ctx, id)
	if err != nil {
		span.RecordError(err)
		return domain.PaymentResponse{}, fmt.Errorf("refresh payment %s: %w", id, err)
	}
	if refreshed == nil {
		return stored, nil
	}
	if stored.IsTerminal() && refreshed.Status != stored.Status {
		s.log.Warn("ignoring status regression", "payment_id", id, "stored", stored.Status, "reported", refreshed.Status)
		return stored, nil
	}
	if err := s.ledger.Upsert(ctx, *refreshed); err != nil {
		span.RecordError(err)
		return domain.PaymentResponse{}, fmt.Errorf("persist payment %s: %w", id, err)
	}
	return *refreshed, nil
}

// scanProviders covers payments whose ledger write was lost: any provider
// that still knows the id wins and the record is persisted again.
func (s *Service) scanProviders(ctx context.Context, id string) (domain.PaymentResponse, error) {
	for _, code := range s.registry.Codes() {
		provider, _ := s.registry.Resolve(code)
		p, err := provider.GetPayment(ctx, id)
		if err != nil {
			s.log.Warn("provider lookup failed", "method", code, "payment_id", id, "err", err)
			continue
		}
		if p == nil {
			continue
		}
		if err := s.ledger.Upsert(ctx, *p); err != nil {
			return domain.PaymentResponse{}, fmt.Errorf("persist payment %s: %w", id, err)
		}
		s.log.Info("payment recovered from provider", "payment_id", id, "method", code)
		return *p, nil
	}
	return domain.PaymentResponse{}, domain.ErrNotFound
}

func (s *Service) ListWallets() []domain.Wallet {
	return ListWallets()
}

// GetAllPayments returns every ledger record, newest first.
func (s *Service) GetAllPayments(ctx context.Context) ([]domain.PaymentResponse, error) {
	payments, err := s.ledger.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// GetBalance reports supported=false when no provider serves method.
func (s *Service) GetBalance(ctx context.Context, method, accountID string) (balance *decimal.Decimal, supported bool, err error) {
	if strings.TrimSpace(method) == "" {
		return nil, false, nil
	}
	provider, ok := s.registry.Resolve(method)
	if !ok {
		return nil, false, nil
	}
	balance, err = provider.GetBalance(ctx, accountID)
	if err != nil {
		return nil, true, fmt.Errorf("balance via %s: %w", method, err)
	}
	return balance, true, nil
}

type ReconcileResult struct {
	Checked int
	Settled int
	Failed  int
}

// ReconcilePending refreshes every pending ledger record.
func (s *Service) ReconcilePending(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	payments, err := s.ledger.FindAll(ctx)
	if err != nil {
		return res, fmt.Errorf("list payments: %w", err)
	}
	for _, p := range payments {
		if p.Status != domain.StatusPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		refreshed, err := s.GetPayment(ctx, p.ID)
		if err != nil {
			s.log.Error("reconcile payment failed", "payment_id", p.ID, "err", err)
			continue
		}
		switch refreshed.Status {
		case domain.StatusSuccess:
			res.Settled++
		case domain.StatusFailed:
			res.Failed++
		}
	}
	s.log.Info("reconcile sweep finished", "checked", res.Checked, "settled", res.Settled, "failed", res.Failed)
	return res, nil
}
