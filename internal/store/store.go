package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS kv_records (
            key TEXT PRIMARY KEY,
            value BYTEA NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`
	sqlSelectValue = `SELECT value FROM kv_records WHERE key = $1`
	sqlUpsert      = `
        INSERT INTO kv_records (key, value, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;`
	sqlDelete       = `DELETE FROM kv_records WHERE key = $1`
	sqlDeletePrefix = `DELETE FROM kv_records WHERE key LIKE $1`
	sqlListKeys     = `SELECT key FROM kv_records WHERE key LIKE $1 ORDER BY key`
)

// PostgresKV provides a PostgreSQL implementation of KV.
type PostgresKV struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresKV verifies the connection and ensures the table exists.
func NewPostgresKV(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresKV, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &PostgresKV{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

func (s *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, sqlSelectValue, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, nil
}

func (s *PostgresKV) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.pool.Exec(ctx, sqlUpsert, key, value); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, sqlDelete, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	tag, err := s.pool.Exec(ctx, sqlDeletePrefix, escapeLike(prefix)+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to delete prefix %q: %w", prefix, err)
	}
	s.log.Debug("Deleted keys by prefix", zap.String("prefix", prefix), zap.Int64("count", tag.RowsAffected()))
	return int(tag.RowsAffected()), nil
}

func (s *PostgresKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, sqlListKeys, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresKV) Close() error {
	s.pool.Close()
	return nil
}

var _ KV = (*PostgresKV)(nil)
