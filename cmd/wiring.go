package main

import (
	"context"
	"fmt"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/adapters/repository/postgres"
	"github.com/okian/recon/internal/adapters/repository/sqlite"
	"github.com/okian/recon/internal/config"
	"github.com/okian/recon/internal/domain/dedupe"
	"github.com/okian/recon/pkg/logger"
)

// openStore opens the record store selected by cfg.StoreDriver.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Info(ctx, "using in-memory store")
		return repository.NewMemoryStore(ctx), nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		log.Info(ctx, "using postgres store")
		return s, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, log.Named("sqlite"))
		if err != nil {
			return nil, err
		}
		log.Info(ctx, "using sqlite store", logger.String("path", cfg.SQLitePath))
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown store_driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

// newEngine builds the deduplication engine over store.
func newEngine(store repository.Store, cfg *config.Config, log logger.Logger) (*dedupe.Engine, error) {
	return dedupe.New(store,
		dedupe.WithConfig(cfg.Engine()),
		dedupe.WithLogger(log.Named("dedupe")),
	)
}

// openEngine opens the store and builds an engine over it. The returned
// close function releases the store.
func openEngine(ctx context.Context, cfg *config.Config, log logger.Logger) (*dedupe.Engine, repository.Store, func(), error) {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	engine, err := newEngine(store, cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Error(context.Background(), "failed to close store", logger.Error(err))
		}
	}
	return engine, store, closeFn, nil
}
