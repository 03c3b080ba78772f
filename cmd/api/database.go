package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/library-catalog/cmd/api/book"
	"github.com/library-catalog/cmd/api/config"
	"github.com/library-catalog/cmd/api/database"
	"github.com/library-catalog/cmd/api/inmemory"
	"github.com/rs/zerolog"
)

/* Opens the configured storage, applies migrations when asked to, and returns it with its release function. */
func openStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (book.Store, func(), error) {
	if cfg.Driver == "memory" {
		store, err := inmemory.NewInMemoryStore()
		if err != nil {
			return nil, nil, fmt.Errorf("creating in-memory store: %w", err)
		}
		logger.Warn().Msg("using in-memory storage, data is lost on exit")
		return store, func() {}, nil
	}

	dbObject, err := database.ConnectDb(ctx, cfg.Driver, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting with db: %w", err)
	}
	release := func() {
		if err := dbObject.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing db")
		}
	}

	store, err := database.NewStore(dbObject, cfg.Driver, logger)
	if err != nil {
		release()
		return nil, nil, err
	}

	if cfg.Migrate {
		err = database.MigrationUp(store)
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			release()
			return nil, nil, fmt.Errorf("migrating: %w", err)
		}
	}
	return store, release, nil
}
