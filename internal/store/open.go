package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/internal/config"
)

// Open builds the KV backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (KV, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryKV(), nil

	case config.BackendSQLite:
		path, err := homedir.Expand(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand sqlite path: %w", err)
		}
		return NewSQLiteKV(ctx, path, logger)

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		kv, err := NewPostgresKV(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return kv, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
