package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dmehra2102/payment-aggregator/internal/config"
	"github.com/dmehra2102/payment-aggregator/internal/payment/bootstrap"
	paymenthttp "github.com/dmehra2102/payment-aggregator/internal/payment/infrastructure/http"
	paymentkafka "github.com/dmehra2102/payment-aggregator/internal/payment/infrastructure/kafka"
	pg "github.com/dmehra2102/payment-aggregator/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/payment-aggregator/internal/payment/providers/simulator"
	"github.com/dmehra2102/payment-aggregator/pkg/logging"
	"github.com/dmehra2102/payment-aggregator/pkg/outbox"
	"github.com/dmehra2102/payment-aggregator/pkg/shutdown"
	"github.com/dmehra2102/payment-aggregator/pkg/tracing"
	"github.com/go-chi/chi/v5"
)

func main() {
	cfg, err := config.Load(os.Getenv("MONOPAY_CONFIG"))
	if err != nil {
		logging.New("aggregator-service", "info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Service, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("aggregator-service failed", "err", err)
		os.Exit(1)
	}
	log.Info("aggregator-service shutdown complete")
}

// run owns every resource it opens and releases them before returning.
func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	closers := shutdown.NewStack(log)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = closers.Close(closeCtx)
	}()

	stopTracing, err := tracing.Init(ctx, cfg.Service, cfg.Tracing.Endpoint, log)
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	closers.Push("tracing", stopTracing)

	stores, err := bootstrap.OpenStores(ctx, log, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("ledger open: %w", err)
	}
	closers.Push("ledger", func(context.Context) error { stores.Close(); return nil })

	sched := simulator.NewScheduler(ctx)
	closers.Push("simulator", func(context.Context) error { return sched.Close() })

	svc, err := bootstrap.NewService(log, cfg, sched, stores)
	if err != nil {
		return fmt.Errorf("provider setup: %w", err)
	}

	// Status change events only exist with the Postgres outbox.
	if stores.Pool != nil {
		writer := paymentkafka.NewWriter(cfg.Kafka.Brokers)
		closers.Push("kafka writer", func(context.Context) error { return writer.Close() })

		store := pg.NewOutboxStore(log, stores.Pool, cfg.Outbox.MaxRetries)
		dispatch := outbox.NewDispatcher(log, writer, cfg.Kafka.Topic)
		relay := outbox.NewRelay(log, store, dispatch, cfg.Service+"-relay",
			outbox.WithInterval(cfg.Outbox.Interval),
			outbox.WithLease(cfg.Outbox.Lease),
			outbox.WithBatchSize(cfg.Outbox.BatchSize))
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("relay stopped with error", "err", err)
			}
		}()
	}

	r := chi.NewRouter()
	r.Mount("/", paymenthttp.NewHandler(log, svc).Routes())
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
