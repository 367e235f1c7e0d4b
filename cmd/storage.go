package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/voidmaw/regrip/internal/config"
	"github.com/voidmaw/regrip/internal/store"
)

// openStore builds the configured stats backend. Durable backends are wrapped
// so a flaky database buffers learning events instead of dropping them.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	params := cfg.Engine().Breaker.ToParams()
	sc := cfg.Storage()

	switch sc.Backend {
	case "memory":
		return store.NewMemory(params, time.Now), nil

	case "badger":
		inner, err := store.NewBadger(store.BadgerConfig{
			Path:       sc.Path,
			SyncWrites: sc.SyncWrites,
		}, params, time.Now, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store at %q: %w", sc.Path, err)
		}
		return store.NewResilient(inner, sc.RetryBase, uint64(sc.RetryAttempts), logger), nil

	case "postgres":
		pool, err := pgxpool.New(ctx, sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		inner, err := store.NewPostgres(ctx, pool, params, time.Now, logger)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return store.NewResilient(inner, sc.RetryBase, uint64(sc.RetryAttempts), logger), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}
