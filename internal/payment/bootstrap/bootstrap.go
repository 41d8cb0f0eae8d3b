// Package bootstrap assembles the payment service from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmehra2102/payment-aggregator/internal/config"
	"github.com/dmehra2102/payment-aggregator/internal/payment/application"
	"github.com/dmehra2102/payment-aggregator/internal/payment/infrastructure/memory"
	pg "github.com/dmehra2102/payment-aggregator/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/payment-aggregator/internal/payment/providers/mywallet"
	"github.com/dmehra2102/payment-aggregator/internal/payment/providers/simulator"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stores are the durable dependencies of the service. Pool is nil for the
// in-memory ledger.
type Stores struct {
	Ledger   application.Ledger
	Sessions application.SessionStore
	Pool     *pgxpool.Pool
}

func (s Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStores connects to Postgres when a URL is configured and applies the
// schema; otherwise it returns the in-memory ledger.
func OpenStores(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) (Stores, error) {
	if cfg.URL == "" {
		log.Warn("no postgres url configured, payments are kept in memory")
		l := memory.NewLedger()
		return Stores{Ledger: l, Sessions: l}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return Stores{}, fmt.Errorf("pg connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return Stores{}, fmt.Errorf("pg ping: %w", err)
	}
	if err := pg.Migrate(ctx, pool); err != nil {
		pool.Close()
		return Stores{}, err
	}
	return Stores{
		Ledger:   pg.NewLedger(log, pool),
		Sessions: pg.NewSessionRepository(pool),
		Pool:     pool,
	}, nil
}

// Factories returns a constructor for every method this build supports.
func Factories(log *slog.Logger, cfg *config.Config, sched *simulator.Scheduler, stores Stores) map[string]application.ProviderFactory {
	factories := make(map[string]application.ProviderFactory)
	for code, rail := range simulator.Rails() {
		rail := rail
		if d, ok := cfg.Simulator.Settlement[code]; ok {
			rail.Settlement = d
		}
		factories[code] = func() (application.Provider, error) {
			return simulator.NewProvider(log, rail, sched), nil
		}
	}
	factories[mywallet.Method] = func() (application.Provider, error) {
		return mywallet.NewProvider(log, mywallet.Config{
			BaseURL:  cfg.MyWallet.BaseURL,
			Username: cfg.MyWallet.Username,
			Password: cfg.MyWallet.Password,
			Timeout:  cfg.MyWallet.Timeout,
		}, nil, stores.Ledger, stores.Sessions), nil
	}
	return factories
}

// NewService builds the registry from the enabled methods and the service
// on top of it.
func NewService(log *slog.Logger, cfg *config.Config, sched *simulator.Scheduler, stores Stores) (*application.Service, error) {
	registry, err := application.NewRegistry(log, cfg.Providers.Enabled, Factories(log, cfg, sched, stores))
	if err != nil {
		return nil, err
	}
	return application.NewService(log, registry, stores.Ledger), nil
}
