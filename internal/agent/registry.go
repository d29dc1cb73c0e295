// internal/agent/registry.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/bus"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

// MemoryRecorder is the slice of the memory store the registry writes to.
type MemoryRecorder interface {
	Remember(ctx context.Context, category string, entry schemas.MemoryEntry) (schemas.MemoryEntry, error)
}

// SpawnConfig describes a requested agent.
type SpawnConfig struct {
	Name          string
	Purpose       string
	Capabilities  []string
	AutonomyLevel schemas.AutonomyLevel
	ParentAgent   string
	Memory        map[string]any
}

// TaskSpec describes a task to enqueue for an agent.
type TaskSpec struct {
	Description string
	Capability  string
	Priority    int
	Deadline    *time.Time
}

// ExecutionSummary reports what one ExecuteTasks pass did.
type ExecutionSummary struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// persistedState is the record written under store.KeyAgents.
type persistedState struct {
	Agents []schemas.Agent `json:"agents"`
	Tasks  []schemas.Task  `json:"tasks"`
}

// Registry spawns, tasks and retires agents. All state lives behind mu;
// handlers, persistence and event publication run outside of it.
type Registry struct {
	cfg    config.AgentsConfig
	kv     store.KV
	memory MemoryRecorder
	bus    bus.Bus
	logger *zap.Logger

	mu         sync.Mutex
	agents     map[string]*schemas.Agent
	agentOrder []string
	tasks      map[string]*schemas.Task // open tasks
	queue      []string                 // open task IDs in assignment order
	history    map[string]schemas.Task  // terminal tasks, bounded
	histOrder  []string

	handlerMu    sync.RWMutex
	handlers     map[string]TaskHandler
	handlerOrder []string

	// persistMu serializes snapshot writes so an older snapshot never overwrites a newer one.
	persistMu sync.Mutex

	unsubscribe func()
}

// NewRegistry reloads persisted agents and subscribes to overload signals.
func NewRegistry(ctx context.Context, cfg config.AgentsConfig, kv store.KV, mem MemoryRecorder, eb bus.Bus, logger *zap.Logger) (*Registry, error) {
	if kv == nil || mem == nil || eb == nil {
		return nil, fmt.Errorf("agent registry requires a KV backend, a memory recorder and an event bus")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TaskHistorySize <= 0 {
		cfg.TaskHistorySize = 500
	}

	order, handlers := defaultHandlers()
	r := &Registry{
		cfg:          cfg,
		kv:           kv,
		memory:       mem,
		bus:          eb,
		logger:       logger.Named("agent_registry"),
		agents:       make(map[string]*schemas.Agent),
		tasks:        make(map[string]*schemas.Task),
		history:      make(map[string]schemas.Task),
		handlers:     handlers,
		handlerOrder: order,
	}

	if err := r.reload(ctx); err != nil {
		return nil, err
	}

	r.unsubscribe = eb.Subscribe(schemas.EventSystemOverload, func(ctx context.Context, ev schemas.Event) error {
		if id, ok := r.HandleOverload(ctx); ok {
			r.logger.Warn("Terminated agent after overload signal", zap.String("agent_id", id))
		}
		return nil
	})
	return r, nil
}

func (r *Registry) reload(ctx context.Context) error {
	var state persistedState
	if _, err := store.LoadJSON(ctx, r.kv, store.KeyAgents, &state); err != nil {
		return fmt.Errorf("failed to reload agents: %w", err)
	}

	now := time.Now().UTC()
	for i := range state.Agents {
		a := state.Agents[i]
		r.agents[a.ID] = &a
		r.agentOrder = append(r.agentOrder, a.ID)
	}
	for i := range state.Tasks {
		t := state.Tasks[i]
		if t.Status == schemas.TaskInProgress {
			// The process died mid-task; it can never complete.
			t.Status = schemas.TaskFailed
			t.Result = map[string]any{"error": "interrupted by restart", "error_code": string(ErrCodeInterrupted)}
			t.CompletedAt = &now
			r.archiveLocked(t)
			continue
		}
		if t.Status.Terminal() {
			r.archiveLocked(t)
			continue
		}
		r.tasks[t.ID] = &t
		r.queue = append(r.queue, t.ID)
	}
	if len(state.Agents) > 0 {
		r.logger.Info("Agents reloaded", zap.Int("agents", len(state.Agents)), zap.Int("open_tasks", len(r.queue)))
	}
	return nil
}

// Close detaches the registry from the bus.
func (r *Registry) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// RegisterHandler installs or replaces the handler for a capability.
func (r *Registry) RegisterHandler(capability string, h TaskHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	if _, exists := r.handlers[capability]; !exists {
		r.handlerOrder = append(r.handlerOrder, capability)
	}
	r.handlers[capability] = h
}

// -- Spawning --

// RiskScore computes the spawn risk of cfg against the current agents.
func (r *Registry) RiskScore(cfg SpawnConfig) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	live, active := r.liveLocked()
	return computeRisk(cfg, live, active, r.cfg.MaxAgents, r.cfg.CapacityWarningRatio)
}

// SpawnAgent creates an agent unless the active cap is reached or the risk
// score exceeds the threshold.
func (r *Registry) SpawnAgent(ctx context.Context, cfg SpawnConfig) (*schemas.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.AutonomyLevel == "" {
		cfg.AutonomyLevel = schemas.AutonomySupervised
	}

	r.mu.Lock()
	live, active := r.liveLocked()
	if active >= r.cfg.MaxAgents {
		r.mu.Unlock()
		r.logger.Warn("Spawn refused, agent cap reached", zap.String("name", cfg.Name), zap.Int("active", active))
		return nil, fmt.Errorf("%w (%d/%d)", ErrAgentCapReached, active, r.cfg.MaxAgents)
	}
	risk := computeRisk(cfg, live, active, r.cfg.MaxAgents, r.cfg.CapacityWarningRatio)
	if risk > r.cfg.RiskThreshold {
		r.mu.Unlock()
		r.logger.Warn("Spawn refused, risk too high", zap.String("name", cfg.Name), zap.Float64("risk", risk))
		return nil, fmt.Errorf("%w (%.2f > %.2f)", ErrSpawnRiskTooHigh, risk, r.cfg.RiskThreshold)
	}

	now := time.Now().UTC()
	agent := &schemas.Agent{
		ID:            uuid.NewString(),
		Name:          cfg.Name,
		Purpose:       cfg.Purpose,
		Capabilities:  append([]string(nil), cfg.Capabilities...),
		AutonomyLevel: cfg.AutonomyLevel,
		ParentAgent:   cfg.ParentAgent,
		CreatedAt:     now,
		LastActive:    now,
		Status:        schemas.AgentActive,
		Memory:        cfg.Memory,
	}
	r.agents[agent.ID] = agent
	r.agentOrder = append(r.agentOrder, agent.ID)
	out := *agent
	active++
	r.mu.Unlock()

	if float64(active) >= r.cfg.CapacityWarningRatio*float64(r.cfg.MaxAgents) {
		r.logger.Warn("Agent capacity nearly exhausted", zap.Int("active", active), zap.Int("max", r.cfg.MaxAgents))
	}

	r.persist(ctx)
	r.remember(ctx, memory.CategoryAgents, "spawn agent "+out.Name, map[string]any{
		"agent_id":     out.ID,
		"capabilities": out.Capabilities,
		"autonomy":     string(out.AutonomyLevel),
		"risk":         risk,
	}, map[string]any{"success": true}, 1-risk)
	r.bus.Emit(ctx, schemas.EventAgentSpawned, schemas.AgentSpawnedPayload{Agent: out})

	r.logger.Info("Agent spawned", zap.String("agent_id", out.ID), zap.String("name", out.Name), zap.Float64("risk", risk))
	return &out, nil
}

// liveLocked returns non-terminated agents and the active count.
func (r *Registry) liveLocked() ([]*schemas.Agent, int) {
	live := make([]*schemas.Agent, 0, len(r.agents))
	active := 0
	for _, id := range r.agentOrder {
		a := r.agents[id]
		if a.Status == schemas.AgentTerminated {
			continue
		}
		live = append(live, a)
		if a.Status == schemas.AgentActive {
			active++
		}
	}
	return live, active
}

// -- Tasks --

// AssignTask enqueues a pending task for an active agent.
func (r *Registry) AssignTask(ctx context.Context, agentID string, spec TaskSpec) (*schemas.Task, error) {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if agent.Status != schemas.AgentActive {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrAgentInactive, agentID, agent.Status)
	}

	task := &schemas.Task{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		Description: spec.Description,
		Capability:  spec.Capability,
		Priority:    spec.Priority,
		Deadline:    spec.Deadline,
		Status:      schemas.TaskPending,
		AssignedAt:  time.Now().UTC(),
	}
	r.tasks[task.ID] = task
	r.queue = append(r.queue, task.ID)
	out := *task
	r.mu.Unlock()

	r.persist(ctx)
	r.bus.Emit(ctx, schemas.EventTaskAssigned, schemas.TaskAssignedPayload{Task: out})
	return &out, nil
}

type claimedTask struct {
	task  schemas.Task
	agent schemas.Agent
}

// ExecuteTasks runs every pending task. Claiming a task and marking it
// in-progress happen under one lock, so concurrent callers never execute a
// task twice. One task's failure does not affect the others.
func (r *Registry) ExecuteTasks(ctx context.Context) ExecutionSummary {
	claimed := r.claimPending()
	summary := ExecutionSummary{Processed: len(claimed)}
	if len(claimed) == 0 {
		return summary
	}

	for _, c := range claimed {
		start := time.Now()
		result, err := r.runTask(ctx, c)
		elapsed := time.Since(start)

		finished, applied := r.finishTask(c.task.ID, result, err, elapsed)
		if !applied {
			// Terminated while running; the forced failure stands.
			summary.Failed++
			continue
		}

		outcome := map[string]any{"success": err == nil, "duration_ms": elapsed.Milliseconds()}
		if err != nil {
			summary.Failed++
			outcome["error"] = err.Error()
			r.logger.Warn("Task failed", zap.String("task_id", finished.ID), zap.String("agent_id", finished.AgentID), zap.Error(err))
			r.bus.Emit(ctx, schemas.EventTaskFailed, schemas.TaskFinishedPayload{Task: finished})
		} else {
			summary.Completed++
			r.bus.Emit(ctx, schemas.EventTaskCompleted, schemas.TaskFinishedPayload{Task: finished})
		}
		confidence := 0.2
		if err == nil {
			confidence = 0.9
		}
		r.remember(ctx, memory.CategoryTasks, "execute task "+finished.Description, map[string]any{
			"task_id":  finished.ID,
			"agent_id": finished.AgentID,
		}, outcome, confidence)
	}

	r.persist(ctx)
	r.logger.Debug("Task pass finished",
		zap.Int("processed", summary.Processed),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed))
	return summary
}

func (r *Registry) claimPending() []claimedTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed []claimedTask
	for _, id := range r.queue {
		t := r.tasks[id]
		if t.Status != schemas.TaskPending {
			continue
		}
		agent, ok := r.agents[t.AgentID]
		if !ok {
			continue
		}
		t.Status = schemas.TaskInProgress
		claimed = append(claimed, claimedTask{task: *t, agent: *agent})
	}
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].task.Priority > claimed[j].task.Priority
	})
	return claimed
}

func (r *Registry) runTask(ctx context.Context, c claimedTask) (result map[string]any, err error) {
	r.handlerMu.RLock()
	capability := inferCapability(c.task, r.handlerOrder)
	handler := r.handlers[capability]
	r.handlerMu.RUnlock()

	if capability == "" || !c.agent.HasCapability(capability) {
		return map[string]any{"error_code": string(ErrCodeCapabilityMismatch)},
			fmt.Errorf("%w: agent %s lacks capability %q", ErrCapabilityMismatch, c.agent.Name, capability)
	}
	if handler == nil {
		return map[string]any{"error_code": string(ErrCodeNoHandler)},
			fmt.Errorf("no handler registered for capability %q", capability)
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Task handler panicked",
				zap.String("task_id", c.task.ID),
				zap.Any("panic", p),
				zap.String("stack", string(debug.Stack())))
			result = map[string]any{"error_code": string(ErrCodeHandlerPanic)}
			err = fmt.Errorf("task handler panicked: %v", p)
		}
	}()

	result, err = handler(ctx, c.agent, c.task)
	if err != nil && result == nil {
		result = map[string]any{"error_code": string(ErrCodeExecutionFailure)}
	}
	return result, err
}

// finishTask records the outcome and updates the agent's running averages.
// It reports false if the task was already terminal.
func (r *Registry) finishTask(taskID string, result map[string]any, runErr error, elapsed time.Duration) (schemas.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok || t.Status != schemas.TaskInProgress {
		return schemas.Task{}, false
	}

	now := time.Now().UTC()
	if result == nil {
		result = map[string]any{}
	}
	x := 1.0
	if runErr != nil {
		x = 0.0
		t.Status = schemas.TaskFailed
		result["error"] = runErr.Error()
	} else {
		t.Status = schemas.TaskCompleted
	}
	t.Result = result
	t.CompletedAt = &now

	if agent, ok := r.agents[t.AgentID]; ok {
		updatePerformance(&agent.Performance, x, float64(elapsed.Milliseconds()))
		agent.LastActive = now
	}

	out := *t
	r.archiveLocked(out)
	return out, true
}

// updatePerformance applies the running average
// n = tasksCompleted+1; rate = (rate*(n-1) + x) / n
// to the success rate and to the average response time.
func updatePerformance(p *schemas.AgentPerformance, x, elapsedMs float64) {
	n := float64(p.TasksCompleted + 1)
	p.SuccessRate = (p.SuccessRate*(n-1) + x) / n
	p.AverageResponseTimeMs = (p.AverageResponseTimeMs*(n-1) + elapsedMs) / n
	p.TasksCompleted++
}

// archiveLocked moves a terminal task from the open queue into the bounded history.
func (r *Registry) archiveLocked(t schemas.Task) {
	if _, open := r.tasks[t.ID]; open {
		delete(r.tasks, t.ID)
		for i, id := range r.queue {
			if id == t.ID {
				r.queue = append(r.queue[:i:i], r.queue[i+1:]...)
				break
			}
		}
	}
	if _, seen := r.history[t.ID]; !seen {
		r.histOrder = append(r.histOrder, t.ID)
	}
	r.history[t.ID] = t
	for len(r.histOrder) > r.cfg.TaskHistorySize {
		delete(r.history, r.histOrder[0])
		r.histOrder = r.histOrder[1:]
	}
}

// -- Termination --

// TerminateAgent retires an agent and force-fails its open tasks. It returns
// false for unknown or already terminated agents and changes nothing then.
func (r *Registry) TerminateAgent(ctx context.Context, agentID, reason string) bool {
	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok || agent.Status == schemas.AgentTerminated {
		r.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	agent.Status = schemas.AgentTerminated
	agent.LastActive = now

	var failed []string
	for _, id := range append([]string(nil), r.queue...) {
		t := r.tasks[id]
		if t.AgentID != agentID || t.Status.Terminal() {
			continue
		}
		t.Status = schemas.TaskFailed
		t.Result = map[string]any{
			"error":      "agent terminated: " + reason,
			"reason":     reason,
			"error_code": string(ErrCodeAgentTerminated),
		}
		t.CompletedAt = &now
		failed = append(failed, t.ID)
		r.archiveLocked(*t)
	}
	name := agent.Name
	r.mu.Unlock()

	r.persist(ctx)
	r.remember(ctx, memory.CategoryAgents, "terminate agent "+name, map[string]any{
		"agent_id":     agentID,
		"reason":       reason,
		"failed_tasks": failed,
	}, map[string]any{"success": true}, 1.0)
	r.bus.Emit(ctx, schemas.EventAgentTerminated, schemas.AgentTerminatedPayload{AgentID: agentID, Reason: reason, FailedTasks: failed})

	r.logger.Info("Agent terminated", zap.String("agent_id", agentID), zap.String("reason", reason), zap.Int("failed_tasks", len(failed)))
	return true
}

// HandleOverload terminates the active agent with the lowest success rate.
// Ties go to the oldest agent.
func (r *Registry) HandleOverload(ctx context.Context) (string, bool) {
	r.mu.Lock()
	var victim *schemas.Agent
	for _, id := range r.agentOrder {
		a := r.agents[id]
		if a.Status != schemas.AgentActive {
			continue
		}
		if victim == nil || a.Performance.SuccessRate < victim.Performance.SuccessRate {
			victim = a
		}
	}
	if victim == nil {
		r.mu.Unlock()
		return "", false
	}
	id := victim.ID
	r.mu.Unlock()

	if !r.TerminateAgent(ctx, id, "system overload") {
		return "", false
	}
	return id, true
}

// -- Queries --

// GetAgent returns a copy of the agent.
func (r *Registry) GetAgent(id string) (schemas.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return schemas.Agent{}, false
	}
	return *a, true
}

// ListAgents returns every agent in creation order.
func (r *Registry) ListAgents() []schemas.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schemas.Agent, 0, len(r.agentOrder))
	for _, id := range r.agentOrder {
		out = append(out, *r.agents[id])
	}
	return out
}

// ActiveAgents returns the active agents in creation order.
func (r *Registry) ActiveAgents() []schemas.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.Agent
	for _, id := range r.agentOrder {
		if a := r.agents[id]; a.Status == schemas.AgentActive {
			out = append(out, *a)
		}
	}
	return out
}

// FindActiveByName returns the first active agent with the given name.
func (r *Registry) FindActiveByName(name string) (schemas.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.agentOrder {
		if a := r.agents[id]; a.Status == schemas.AgentActive && a.Name == name {
			return *a, true
		}
	}
	return schemas.Agent{}, false
}

// GetTask looks a task up in the open queue and then in the history.
func (r *Registry) GetTask(id string) (schemas.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		return *t, true
	}
	t, ok := r.history[id]
	return t, ok
}

// PendingTasks returns the open tasks still waiting to be claimed.
func (r *Registry) PendingTasks() []schemas.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.Task
	for _, id := range r.queue {
		if t := r.tasks[id]; t.Status == schemas.TaskPending {
			out = append(out, *t)
		}
	}
	return out
}

// Health implements schemas.HealthReporter.
func (r *Registry) Health(_ context.Context) schemas.ComponentHealth {
	r.mu.Lock()
	_, active := r.liveLocked()
	open := len(r.queue)
	r.mu.Unlock()
	return schemas.ComponentHealth{
		Name:    "agent_registry",
		Healthy: active <= r.cfg.MaxAgents,
		Detail:  fmt.Sprintf("%d/%d active agents, %d open tasks", active, r.cfg.MaxAgents, open),
	}
}

// -- Persistence --

func (r *Registry) persist(ctx context.Context) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	state := persistedState{
		Agents: make([]schemas.Agent, 0, len(r.agentOrder)),
		Tasks:  make([]schemas.Task, 0, len(r.queue)),
	}
	for _, id := range r.agentOrder {
		state.Agents = append(state.Agents, *r.agents[id])
	}
	for _, id := range r.queue {
		state.Tasks = append(state.Tasks, *r.tasks[id])
	}
	r.mu.Unlock()

	if err := store.SaveJSON(ctx, r.kv, store.KeyAgents, state); err != nil {
		r.logger.Error("Failed to persist agents", zap.Error(err))
	}
}

func (r *Registry) remember(ctx context.Context, category, action string, details, outcome map[string]any, confidence float64) {
	_, err := r.memory.Remember(ctx, category, schemas.MemoryEntry{
		Action:     action,
		Context:    details,
		Outcome:    outcome,
		Confidence: confidence,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("Failed to record memory", zap.String("category", category), zap.Error(err))
	}
}
