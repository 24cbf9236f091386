package main

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/beacon/internal/config"
	"github.com/alfredjeanlab/beacon/internal/store"
	"github.com/alfredjeanlab/beacon/internal/store/memstore"
	"github.com/alfredjeanlab/beacon/internal/store/postgres"
)

// openStore connects to Postgres when a database URL is configured and
// falls back to an in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("BEACON_DATABASE_URL not set, events are kept in memory")
		return memstore.New(), nil
	}
	s, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}
