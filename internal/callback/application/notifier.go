// Package application delivers payment status changes to merchant callback
// URLs.
package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const EventTypeHeader = "X-MonoPay-Event"

var ErrNoCallbackURL = errors.New("payment has no callback url")

// DeliveryError is a non-2xx answer from a merchant endpoint.
type DeliveryError struct {
	URL        string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("callback %s answered %d", e.URL, e.StatusCode)
}

type Notifier struct {
	log    *slog.Logger
	client *http.Client
	tracer trace.Tracer
}

func NewNotifier(log *slog.Logger, timeout time.Duration) *Notifier {
	return NewNotifierWithClient(log, &http.Client{Timeout: timeout})
}

func NewNotifierWithClient(log *slog.Logger, client *http.Client) *Notifier {
	return &Notifier{log: log, client: client, tracer: otel.Tracer("callback-notifier")}
}

// Deliver POSTs the event to its callback URL once.
func (n *Notifier) Deliver(ctx context.Context, event domain.PaymentStatusChanged) error {
	if event.CallbackURL == "" {
		return ErrNoCallbackURL
	}
	ctx, span := n.tracer.Start(ctx, "DeliverCallback", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.id", event.PaymentID), attribute.String("payment.status", string(event.Status))))
	defer span.End()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, event.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventTypeHeader, domain.EventPaymentStatusChanged)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := n.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("callback %s: %w", event.CallbackURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{URL: event.CallbackURL, StatusCode: resp.StatusCode}
	}
	n.log.Info("callback delivered", "payment_id", event.PaymentID, "status", event.Status)
	return nil
}
