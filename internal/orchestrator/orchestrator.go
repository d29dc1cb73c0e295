// File: internal/orchestrator/orchestrator.go
// Description: Sequences a complete analysis over the core components and runs
// the background maintenance cycles. Every collaborator is injected through an
// interface so the pipeline can be exercised with fakes.

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/agent"
	"github.com/braydenmw/bwmetadata-sub003/internal/autofix"
	"github.com/braydenmw/bwmetadata-sub003/internal/bus"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/evolution"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

// MemoryService is the slice of the memory store the orchestrator uses.
type MemoryService interface {
	Remember(ctx context.Context, category string, entry schemas.MemoryEntry) (schemas.MemoryEntry, error)
	SearchMemory(query, category string) []schemas.MemoryEntry
	Compact(ctx context.Context) (int, error)
}

// AgentRegistry is the slice of the agent registry the orchestrator uses.
type AgentRegistry interface {
	SpawnAgent(ctx context.Context, cfg agent.SpawnConfig) (*schemas.Agent, error)
	FindActiveByName(name string) (schemas.Agent, bool)
	AssignTask(ctx context.Context, agentID string, spec agent.TaskSpec) (*schemas.Task, error)
	ExecuteTasks(ctx context.Context) agent.ExecutionSummary
	RegisterHandler(capability string, h agent.TaskHandler)
}

// Improver is the self-improvement contract.
type Improver interface {
	AnalyzeAndImprove(ctx context.Context) schemas.Improvement
	RecordPerformance(s evolution.Sample)
	RecordAccuracy(s evolution.Sample)
	HasRecentSamples() bool
	Weights() map[string]float64
}

// ApprovalUpdater is optionally implemented by the provenance recorder.
type ApprovalUpdater interface {
	UpdateApproval(ctx context.Context, reportID, approval, mandate string) error
}

// Dependencies are the components the orchestrator drives.
type Dependencies struct {
	Bus        bus.Bus
	KV         store.KV
	Memory     MemoryService
	Registry   AgentRegistry
	Errors     autofix.ErrorReporter
	Improver   Improver
	Reasoner   schemas.Reasoner
	Researcher schemas.Researcher
	Assembler  schemas.PayloadAssembler
	Enhancer   schemas.DocumentEnhancer
	Provenance schemas.ProvenanceRecorder
	// Health lists the named sub-agents polled for system status.
	Health []schemas.HealthReporter
}

func (d Dependencies) validate() error {
	if d.Bus == nil || d.KV == nil || d.Memory == nil || d.Registry == nil || d.Errors == nil ||
		d.Improver == nil || d.Reasoner == nil || d.Researcher == nil || d.Assembler == nil ||
		d.Enhancer == nil || d.Provenance == nil {
		return fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return nil
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCachePrefix sets the prefix of cached research sessions.
func WithCachePrefix(prefix string) Option {
	return func(o *Orchestrator) {
		if prefix != "" {
			o.cachePrefix = prefix
		}
	}
}

// WithClock overrides time.Now. Tests only.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator is the top-level sequencer.
type Orchestrator struct {
	deps        Dependencies
	cfg         config.OrchestratorConfig
	logger      *zap.Logger
	cachePrefix string
	now         func() time.Time

	// parallelism bounds the enhancement fan-out; a reduce-parallelism
	// recovery signal drops it to one.
	parallelism atomic.Int32

	sessionsMu sync.Mutex
	sessions   map[string]*ResearchSession

	bgMu     sync.Mutex
	cron     *cron.Cron
	bgCancel context.CancelFunc
	bgDone   chan struct{}

	unsubscribe func()
}

const defaultParallelism = 4

// New creates an orchestrator and registers the research capability handler
// with the agent registry.
func New(deps Dependencies, cfg config.OrchestratorConfig, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with a nil logger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		deps:        deps,
		cfg:         cfg,
		logger:      logger.Named("orchestrator"),
		cachePrefix: "cache_",
		now:         time.Now,
		sessions:    make(map[string]*ResearchSession),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.parallelism.Store(defaultParallelism)

	deps.Registry.RegisterHandler(agent.CapabilityResearch, o.researchTaskHandler)
	o.unsubscribe = deps.Bus.Subscribe(schemas.EventRecoverySignal, o.onRecoverySignal)
	return o, nil
}

// Close stops background cycles and detaches from the bus.
func (o *Orchestrator) Close() {
	o.StopBackgroundProcesses()
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

func (o *Orchestrator) onRecoverySignal(_ context.Context, ev schemas.Event) error {
	p, ok := ev.Payload.(schemas.RecoverySignalPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", ev.Payload, ev.Type)
	}
	if p.Signal == autofix.SignalReduceParallelism {
		o.parallelism.Store(1)
		o.logger.Warn("Enhancement fan-out reduced to sequential execution", zap.String("error_id", p.ErrorID))
	}
	return nil
}

// Parallelism reports the current enhancement fan-out limit.
func (o *Orchestrator) Parallelism() int { return int(o.parallelism.Load()) }

// Health implements schemas.HealthReporter.
func (o *Orchestrator) Health(_ context.Context) schemas.ComponentHealth {
	o.sessionsMu.Lock()
	open := 0
	for _, s := range o.sessions {
		if s.Status == SessionRunning {
			open++
		}
	}
	o.sessionsMu.Unlock()
	return schemas.ComponentHealth{
		Name:    "master_orchestrator",
		Healthy: true,
		Detail:  fmt.Sprintf("background running: %t, %d open research sessions", o.IsRunning(), open),
	}
}
