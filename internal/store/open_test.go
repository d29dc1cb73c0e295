package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/braydenmw/bwmetadata-sub003/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("memory", func(t *testing.T) {
		kv, err := Open(ctx, config.StoreConfig{Backend: config.BackendMemory}, logger)
		require.NoError(t, err)
		assert.IsType(t, &MemoryKV{}, kv)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.StoreConfig{Backend: config.BackendSQLite}
		cfg.SQLite.Path = filepath.Join(t.TempDir(), "core.db")
		kv, err := Open(ctx, cfg, logger)
		require.NoError(t, err)
		defer kv.Close()
		assert.IsType(t, &SQLiteKV{}, kv)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Open(ctx, config.StoreConfig{Backend: "etcd"}, logger)
		assert.ErrorContains(t, err, `unknown store backend "etcd"`)
	})
}
