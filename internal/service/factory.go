// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/agent"
	"github.com/braydenmw/bwmetadata-sub003/internal/autofix"
	"github.com/braydenmw/bwmetadata-sub003/internal/bus"
	"github.com/braydenmw/bwmetadata-sub003/internal/collaborators"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/evolution"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
	"github.com/braydenmw/bwmetadata-sub003/internal/orchestrator"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

// ComponentFactory builds the set of core components. Commands depend on the
// interface so they can be tested with a factory that returns fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create is NewComponents behind the ComponentFactory interface.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	return NewComponents(ctx, cfg, logger)
}

// NewComponents wires store, bus, memory, improver, self-fixing engine, agent
// registry, collaborators and orchestrator, in that order. On failure every
// component built so far is closed.
func NewComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (c *Components, err error) {
	c = &Components{logger: logger}
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			c.Close()
			c = nil
		}
	}()

	// 1. Store
	kv, err := store.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return c, fmt.Errorf("failed to open store: %w", err)
	}
	c.KV = kv
	logger.Debug("Store initialized.", zap.String("backend", cfg.Store().Backend))

	// 2. Event bus
	c.Bus = bus.New(logger, cfg.Bus().LogSize)

	// 3. Long-term memory
	c.Memory, err = memory.New(ctx, kv, c.Bus, logger, cfg.Memory())
	if err != nil {
		return c, fmt.Errorf("failed to initialize memory: %w", err)
	}
	logger.Debug("Memory initialized.")

	// 4. Self-improvement
	c.Improver, err = evolution.NewImprover(cfg.Evolution(), c.Memory, c.Bus, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize self-improvement engine: %w", err)
	}

	// 5. Self-fixing engine, resetting weights through the improver.
	c.Autofix, err = autofix.NewEngine(ctx, cfg.Autofix(), kv, c.Memory, c.Bus, c.Improver, logger,
		autofix.WithCachePrefix(cfg.Store().CachePrefix))
	if err != nil {
		return c, fmt.Errorf("failed to initialize self-fixing engine: %w", err)
	}
	logger.Debug("Self-fixing engine initialized.")

	// 6. Agent registry
	c.Registry, err = agent.NewRegistry(ctx, cfg.Agents(), kv, c.Memory, c.Bus, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize agent registry: %w", err)
	}

	// 7. Collaborators
	reasoner, err := InitializeReasoner(ctx, cfg.Reasoning(), c.Memory, logger)
	if err != nil {
		return c, err
	}

	// 8. Orchestrator
	c.Orchestrator, err = orchestrator.New(orchestrator.Dependencies{
		Bus:        c.Bus,
		KV:         kv,
		Memory:     c.Memory,
		Registry:   c.Registry,
		Errors:     c.Autofix,
		Improver:   c.Improver,
		Reasoner:   reasoner,
		Researcher: collaborators.NewKeywordResearcher(logger),
		Assembler:  collaborators.NewReportAssembler(c.Memory, logger),
		Enhancer:   collaborators.NewSectionEnhancer(logger),
		Provenance: collaborators.NewBusRecorder(c.Bus, logger),
		Health:     []schemas.HealthReporter{c.Bus, c.Memory, c.Registry, c.Autofix, c.Improver},
	}, cfg.Orchestrator(), logger, orchestrator.WithCachePrefix(cfg.Store().CachePrefix))
	if err != nil {
		return c, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	logger.Debug("Orchestrator initialized.")

	// 9. Optional log watcher
	c.Watcher, err = InitializeWatcher(cfg.Autofix(), cfg.Logger(), c.Autofix, logger)
	if err != nil {
		return c, err
	}

	logger.Info("All components initialized successfully.")
	return c, nil
}
