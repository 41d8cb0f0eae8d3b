package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	callbackapp "github.com/dmehra2102/payment-aggregator/internal/callback/application"
	callbackkafka "github.com/dmehra2102/payment-aggregator/internal/callback/infrastructure/kafka"
	"github.com/dmehra2102/payment-aggregator/internal/config"
	"github.com/dmehra2102/payment-aggregator/pkg/idempotency"
	"github.com/dmehra2102/payment-aggregator/pkg/logging"
	"github.com/dmehra2102/payment-aggregator/pkg/shutdown"
	"github.com/dmehra2102/payment-aggregator/pkg/tracing"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load(os.Getenv("MONOPAY_CONFIG"))
	if err != nil {
		logging.New("callback-service", "info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New("callback-service", cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("callback-service failed", "err", err)
		os.Exit(1)
	}
	log.Info("callback-service shutdown complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	stopTracing, err := tracing.Init(ctx, "callback-service", cfg.Tracing.Endpoint, log)
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	defer func() { _ = stopTracing(context.Background()) }()

	redisDB := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisDB.Close()
	if err := redisDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	claims := idempotency.NewStore(redisDB, "callback", cfg.Redis.TTL)

	notifier := callbackapp.NewNotifier(log, cfg.Callback.Timeout)
	reader := callbackkafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Group)
	consumer := callbackkafka.NewConsumer(log, reader, notifier, claims,
		callbackkafka.WithRetry(cfg.Callback.Attempts, cfg.Callback.Backoff))

	log.Info("consuming payment events", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.Group)
	return consumer.Run(ctx)
}
