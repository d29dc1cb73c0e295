// File: internal/service/components.go
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/internal/agent"
	"github.com/braydenmw/bwmetadata-sub003/internal/autofix"
	"github.com/braydenmw/bwmetadata-sub003/internal/bus"
	"github.com/braydenmw/bwmetadata-sub003/internal/evolution"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
	"github.com/braydenmw/bwmetadata-sub003/internal/orchestrator"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

// Components holds every initialized core service. It centralizes the
// lifecycle of the process so commands only deal with one value.
type Components struct {
	KV           store.KV
	Bus          *bus.EventBus
	Memory       *memory.Store
	Improver     *evolution.Improver
	Autofix      *autofix.Engine
	Registry     *agent.Registry
	Orchestrator *orchestrator.Orchestrator

	// Watcher is nil unless log watching is enabled and a log file is set.
	Watcher *autofix.Watcher

	logger *zap.Logger
}

// StartWatcher begins tailing the log file if a watcher was configured.
func (c *Components) StartWatcher(ctx context.Context) error {
	if c.Watcher == nil {
		return nil
	}
	return c.Watcher.Start(ctx)
}

// Close releases components in reverse construction order. It is safe to
// call on a partially built value.
func (c *Components) Close() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop producers of new work.
	if c.Orchestrator != nil {
		c.Orchestrator.Close()
		logger.Debug("Orchestrator stopped.")
	}
	if c.Registry != nil {
		c.Registry.Close()
	}
	if c.Autofix != nil {
		c.Autofix.Close()
	}

	// 2. Close the durable store last.
	if c.KV != nil {
		if err := c.KV.Close(); err != nil {
			logger.Warn("Error closing store.", zap.Error(err))
		} else {
			logger.Debug("Store closed.")
		}
	}
	logger.Info("All components shut down.")
}
