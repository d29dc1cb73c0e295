package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
)

func TestNewComponents_InMemory(t *testing.T) {
	ctx := context.Background()
	c, err := NewComponentFactory().Create(ctx, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.KV)
	assert.NotNil(t, c.Orchestrator)
	assert.Nil(t, c.Watcher)
	assert.NoError(t, c.StartWatcher(ctx), "no watcher is a no-op")

	res, err := c.Orchestrator.OrchestrateCompleteAnalysis(ctx, schemas.AnalysisParameters{
		Organization: "Acme Corp",
		Country:      "Kenya",
	})
	require.NoError(t, err)
	assert.Greater(t, res.Confidence, 0.0)
	assert.Len(t, res.SystemStatus.Components, 5)
}

func TestNewComponents_SQLiteSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.StoreCfg.Backend = config.BackendSQLite
	cfg.StoreCfg.SQLite.Path = filepath.Join(t.TempDir(), "core.db")

	c, err := NewComponents(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = c.Orchestrator.OrchestrateCompleteAnalysis(ctx, schemas.AnalysisParameters{Organization: "Acme Corp"})
	require.NoError(t, err)
	agents := len(c.Registry.ListAgents())
	c.Close()

	reopened, err := NewComponents(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reopened.Close()
	assert.Len(t, reopened.Registry.ListAgents(), agents)
	assert.NotEmpty(t, reopened.Memory.Recall("analyses", 10))
}

func TestNewComponents_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig()
		cfg.StoreCfg.Backend = "etcd"
		c, err := NewComponents(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, c)
	})

	t.Run("invalid orchestrator config closes earlier components", func(t *testing.T) {
		cfg := testConfig()
		cfg.OrchestratorCfg.ResearchMaxIterations = 0
		c, err := NewComponents(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create orchestrator")
		assert.Nil(t, c)
	})

	t.Run("gemini without key", func(t *testing.T) {
		cfg := testConfig()
		cfg.ReasoningCfg.Provider = config.ProviderGemini
		cfg.ReasoningCfg.APIKey = ""
		_, err := NewComponents(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
	})
}

func TestComponents_CloseOnEmpty(t *testing.T) {
	assert.NotPanics(t, func() { (&Components{}).Close() })
}
