package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/config"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/memory"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/postgres"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store/sqlite"
)

// NewStore creates the store selected by cfg.DBDriver.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		st, err := postgres.New(ctx, postgres.Options{DSN: cfg.PostgresDSN, Channel: cfg.NotifyChannel}, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := sqlite.New(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		log.Warn().Msg("memory store selected; data is lost on restart")
		return memory.New(memory.WithLogger(log)), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}
