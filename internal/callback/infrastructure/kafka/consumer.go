package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/dmehra2102/payment-aggregator/pkg/outbox"
	"github.com/dmehra2102/payment-aggregator/pkg/tracing"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Claims dedupes deliveries across redeliveries and consumer restarts.
type Claims interface {
	Key(paymentID, status string) string
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type Notifier interface {
	Deliver(ctx context.Context, event domain.PaymentStatusChanged) error
}

type Consumer struct {
	log      *slog.Logger
	reader   Reader
	notifier Notifier
	claims   Claims
	tracer   trace.Tracer
	attempts int
	backoff  time.Duration
}

type Option func(*Consumer)

// WithRetry makes up to attempts delivery tries per event, waiting backoff
// before the second and doubling the wait after that.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Consumer) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

func NewConsumer(log *slog.Logger, reader Reader, notifier Notifier, claims Claims, opts ...Option) *Consumer {
	c := &Consumer{
		log:      log,
		reader:   reader,
		notifier: notifier,
		claims:   claims,
		tracer:   otel.Tracer("callback-consumer"),
		attempts: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled or an event cannot be settled. An
// unsettled event's offset is never committed, so the group hands it out
// again after a restart.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				c.log.Info("stopped mid-delivery, offset left uncommitted", "offset", msg.Offset)
				return nil
			}
			return fmt.Errorf("offset %d left uncommitted: %w", msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

// handle processes one message. A nil error means the offset may be
// committed: the event was delivered, skipped, or exhausted its attempts.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	if t := tracing.HeaderValue(msg.Headers, outbox.EventTypeHeader); t != "" && t != domain.EventPaymentStatusChanged {
		return nil
	}

	var event domain.PaymentStatusChanged
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.log.Error("unmarshal failed", "offset", msg.Offset, "err", err)
		return nil
	}
	if event.CallbackURL == "" {
		return nil
	}

	key := c.claims.Key(event.PaymentID, string(event.Status))
	seen, err := c.claims.Seen(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency check for %s: %w", event.PaymentID, err)
	}
	if seen {
		c.log.Info("duplicate event skipped", "key", key)
		return nil
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentStatusChanged",
		trace.WithAttributes(attribute.String("payment.id", event.PaymentID)))
	defer span.End()

	err = c.deliver(msgCtx, event)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	if ctx.Err() != nil {
		// The redelivery after restart must not find the claim taken.
		if rErr := c.claims.Release(context.WithoutCancel(ctx), key); rErr != nil {
			c.log.Error("idempotency release failed", "key", key, "err", rErr)
		}
		return ctx.Err()
	}
	c.log.Error("callback delivery abandoned", "payment_id", event.PaymentID, "status", event.Status, "attempts", c.attempts, "err", err)
	return nil
}

func (c *Consumer) deliver(ctx context.Context, event domain.PaymentStatusChanged) error {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.notifier.Deliver(ctx, event)
		if err == nil {
			return nil
		}
		if attempt >= c.attempts {
			return err
		}
		c.log.Warn("callback delivery failed, retrying", "payment_id", event.PaymentID, "attempt", attempt, "wait", wait, "err", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}
