// internal/autofix/engine.go
package autofix

import (
	"context"
	"errors"
	"fmt"
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

// ErrErrorNotFound is returned for unknown error IDs.
var ErrErrorNotFound = errors.New("error not found")

const (
	defaultCachePrefix = "cache_"
	topPatternLimit    = 10
	recentErrorLimit   = 10
)

// Option configures an Engine.
type Option func(*Engine)

// WithCachePrefix sets the key prefix cleared by cache recovery actions.
func WithCachePrefix(prefix string) Option {
	return func(e *Engine) {
		if prefix != "" {
			e.cachePrefix = prefix
		}
	}
}

// WithClock overrides time.Now. Tests only.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine records errors, tracks their signatures and tries low-risk fixes.
// Its mutex guards only bookkeeping; actions and events run outside it.
type Engine struct {
	cfg         config.AutofixConfig
	cachePrefix string
	kv          store.KV
	memory      MemoryRecorder
	bus         bus.Bus
	interp      *Interpreter
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	errors   map[string]*schemas.SystemError
	order    []string
	patterns map[string]*schemas.ErrorPattern

	persistMu   sync.Mutex
	unsubscribe func()
}

// NewEngine reloads persisted errors and patterns and subscribes to
// degradation events.
func NewEngine(ctx context.Context, cfg config.AutofixConfig, kv store.KV, mem MemoryRecorder, eb bus.Bus, weights WeightResetter, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if kv == nil || mem == nil || eb == nil {
		return nil, fmt.Errorf("autofix engine requires a KV backend, a memory recorder and an event bus")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:         cfg,
		cachePrefix: defaultCachePrefix,
		kv:          kv,
		memory:      mem,
		bus:         eb,
		logger:      logger.Named("autofix"),
		now:         time.Now,
		errors:      make(map[string]*schemas.SystemError),
		patterns:    make(map[string]*schemas.ErrorPattern),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.interp = NewInterpreter(InterpreterDeps{KV: kv, Bus: eb, Memory: mem, Weights: weights}, e.logger)

	var state persistedErrors
	if _, err := store.LoadJSON(ctx, kv, store.KeyErrors, &state); err != nil {
		return nil, fmt.Errorf("failed to reload errors: %w", err)
	}
	for i := range state.Errors {
		se := state.Errors[i]
		e.errors[se.ID] = &se
		e.order = append(e.order, se.ID)
	}
	for k, p := range state.Patterns {
		p := p
		e.patterns[k] = &p
	}

	e.unsubscribe = eb.Subscribe(schemas.EventSystemDegraded, e.onDegraded)
	return e, nil
}

// Interpreter exposes the dispatch table so callers can register extra kinds.
func (e *Engine) Interpreter() *Interpreter { return e.interp }

// Close detaches the engine from the bus.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
}

func (e *Engine) onDegraded(ctx context.Context, ev schemas.Event) error {
	p, ok := ev.Payload.(schemas.SystemDegradedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", ev.Payload, ev.Type)
	}
	severity := p.Severity
	if severity == "" {
		severity = schemas.SeverityMedium
	}
	e.ReportError(ctx, schemas.SystemError{
		Type:     schemas.ErrorPerformance,
		Message:  p.Message,
		Severity: severity,
		Context:  map[string]any{"component": p.Component, "correlation_id": ev.CorrelationID},
	})
	return nil
}

// ReportError stores the error as unresolved, updates its pattern, records
// memory, publishes errorReported and attempts an automatic fix. It never
// fails; bookkeeping problems are logged.
func (e *Engine) ReportError(ctx context.Context, partial schemas.SystemError) (id string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic while reporting error", zap.Any("panic", r), zap.String("error_id", id))
		}
	}()

	se := partial
	if se.ID == "" {
		se.ID = uuid.NewString()
	}
	if se.Timestamp.IsZero() {
		se.Timestamp = e.now().UTC()
	}
	if se.Type == "" {
		se.Type = schemas.ErrorRuntime
	}
	if se.Severity == "" {
		se.Severity = schemas.SeverityMedium
	}
	se.Resolved, se.AutoFixed, se.Resolution = false, false, ""
	id = se.ID

	key := PatternKey(se.Type, se.Message)
	e.mu.Lock()
	if _, exists := e.errors[se.ID]; !exists {
		e.order = append(e.order, se.ID)
	}
	stored := se
	e.errors[se.ID] = &stored
	p, ok := e.patterns[key]
	if !ok {
		p = &schemas.ErrorPattern{Key: key}
		e.patterns[key] = p
	}
	p.Count++
	p.LastSeen = se.Timestamp
	count := p.Count
	e.mu.Unlock()

	e.persist(ctx)

	e.logger.Warn("Error reported",
		zap.String("error_id", se.ID),
		zap.String("type", string(se.Type)),
		zap.String("severity", string(se.Severity)),
		zap.String("pattern", key),
		zap.Int("occurrences", count),
		zap.String("message", se.Message))

	e.remember(ctx, memory.CategoryErrors, schemas.MemoryEntry{
		Action:     fmt.Sprintf("error reported: %s: %s", se.Type, se.Message),
		Context:    map[string]any{"error_id": se.ID, "pattern": key, "severity": string(se.Severity), "details": se.Context},
		Outcome:    map[string]any{"success": false},
		Confidence: 0.5,
	})
	e.bus.Emit(ctx, schemas.EventErrorReported, schemas.ErrorReportedPayload{Error: se})

	if e.cfg.Enabled {
		e.attemptAutoFix(ctx, se.ID)
	}
	return id
}

// attemptAutoFix executes eligible candidates in order and stops at the first
// success. A failing action is recorded and skipped; nothing is rolled back.
func (e *Engine) attemptAutoFix(ctx context.Context, errorID string) ([]RecoveryAction, bool) {
	target, pattern, ok := e.lookup(errorID)
	if !ok {
		return nil, false
	}

	actions := generateActions(target, pattern, e.cfg, e.cachePrefix)
	for i := range actions {
		a := &actions[i]
		if !a.Eligible(e.cfg.MinConfidence) {
			continue
		}
		a.Executed = true
		err := e.interp.Execute(ctx, *a, target)
		success := err == nil
		a.Success = &success
		if err != nil {
			a.Failure = err.Error()
			e.logger.Warn("Recovery action failed",
				zap.String("error_id", errorID),
				zap.String("kind", string(a.Kind)),
				zap.Error(err))
			e.remember(ctx, memory.CategoryErrors, schemas.MemoryEntry{
				Action:     "recovery action failed: " + a.Description,
				Context:    map[string]any{"error_id": errorID, "kind": string(a.Kind)},
				Outcome:    map[string]any{"success": false, "error": err.Error()},
				Confidence: a.Confidence,
			})
			continue
		}

		e.logger.Info("Recovery action succeeded", zap.String("error_id", errorID), zap.String("action", a.Description))
		e.resolve(ctx, errorID, a.Resolution(), true)
		return actions, true
	}
	return actions, false
}

// ResolveError marks an unresolved error resolved. It returns false for
// unknown or already resolved errors.
func (e *Engine) ResolveError(ctx context.Context, errorID, resolution string) bool {
	return e.resolve(ctx, errorID, resolution, false)
}

func (e *Engine) resolve(ctx context.Context, errorID, resolution string, autoFixed bool) bool {
	e.mu.Lock()
	se, ok := e.errors[errorID]
	if !ok || se.Resolved {
		e.mu.Unlock()
		return false
	}
	se.Resolved = true
	se.AutoFixed = autoFixed
	se.Resolution = resolution
	if p, ok := e.patterns[PatternKey(se.Type, se.Message)]; ok {
		p.LastSeen = e.now().UTC()
		if resolution != "" && !contains(p.Fixes, resolution) {
			p.Fixes = append(p.Fixes, resolution)
		}
	}
	e.mu.Unlock()

	e.persist(ctx)
	e.bus.Emit(ctx, schemas.EventErrorResolved, schemas.ErrorResolvedPayload{ErrorID: errorID, Resolution: resolution, AutoFixed: autoFixed})
	return true
}

// AnalyzeError regenerates the candidate actions for a stored error without
// executing them.
func (e *Engine) AnalyzeError(errorID string) ([]RecoveryAction, error) {
	target, pattern, ok := e.lookup(errorID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrErrorNotFound, errorID)
	}
	return generateActions(target, pattern, e.cfg, e.cachePrefix), nil
}

// GetError returns a copy of a stored error.
func (e *Engine) GetError(errorID string) (schemas.SystemError, bool) {
	target, _, ok := e.lookup(errorID)
	return target, ok
}

// Pattern returns a copy of the aggregate for a signature.
func (e *Engine) Pattern(key string) (schemas.ErrorPattern, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.patterns[key]
	if !ok {
		return schemas.ErrorPattern{}, false
	}
	out := *p
	out.Fixes = append([]string(nil), p.Fixes...)
	return out, true
}

func (e *Engine) lookup(errorID string) (schemas.SystemError, *schemas.ErrorPattern, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	se, ok := e.errors[errorID]
	if !ok {
		return schemas.SystemError{}, nil, false
	}
	var pattern *schemas.ErrorPattern
	if p, ok := e.patterns[PatternKey(se.Type, se.Message)]; ok {
		cp := *p
		cp.Fixes = append([]string(nil), p.Fixes...)
		pattern = &cp
	}
	return *se, pattern, true
}

// GetErrorDiagnostics aggregates counts by type and severity, the ten most
// frequent patterns and the ten most recent errors.
func (e *Engine) GetErrorDiagnostics() Diagnostics {
	e.mu.Lock()
	d := Diagnostics{
		ByType:     make(map[schemas.ErrorType]int),
		BySeverity: make(map[schemas.Severity]int),
	}
	for _, id := range e.order {
		se := e.errors[id]
		d.Total++
		d.ByType[se.Type]++
		d.BySeverity[se.Severity]++
		if !se.Resolved {
			d.Unresolved++
		}
		if se.AutoFixed {
			d.AutoFixed++
		}
	}
	for _, p := range e.patterns {
		cp := *p
		cp.Fixes = append([]string(nil), p.Fixes...)
		d.TopPatterns = append(d.TopPatterns, cp)
	}
	for i := len(e.order) - 1; i >= 0 && len(d.Recent) < recentErrorLimit; i-- {
		d.Recent = append(d.Recent, *e.errors[e.order[i]])
	}
	d.Health = e.healthLocked()
	e.mu.Unlock()

	sort.Slice(d.TopPatterns, func(i, j int) bool {
		a, b := d.TopPatterns[i], d.TopPatterns[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.Key < b.Key
	})
	if len(d.TopPatterns) > topPatternLimit {
		d.TopPatterns = d.TopPatterns[:topPatternLimit]
	}
	return d
}

// GetHealthStatus is critical when an unresolved critical error occurred
// within the critical window, warning when more errors than the threshold are
// unresolved, and healthy otherwise.
func (e *Engine) GetHealthStatus() HealthStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthLocked()
}

func (e *Engine) healthLocked() HealthStatus {
	h := HealthStatus{
		Tier:               TierHealthy,
		AutoFixEnabled:     e.cfg.Enabled,
		WarningThreshold:   e.cfg.WarningUnresolvedThreshold,
		CriticalWindowSecs: e.cfg.CriticalWindow.Seconds(),
	}
	cutoff := e.now().Add(-e.cfg.CriticalWindow)
	for _, id := range e.order {
		se := e.errors[id]
		if h.LastError == nil || se.Timestamp.After(*h.LastError) {
			ts := se.Timestamp
			h.LastError = &ts
		}
		if se.Resolved {
			continue
		}
		h.Unresolved++
		if se.Severity == schemas.SeverityCritical && se.Timestamp.After(cutoff) {
			h.RecentCritical++
		}
	}
	switch {
	case h.RecentCritical > 0:
		h.Tier = TierCritical
	case h.Unresolved > e.cfg.WarningUnresolvedThreshold:
		h.Tier = TierWarning
	}
	return h
}

// Health implements schemas.HealthReporter. Only the critical tier is unhealthy.
func (e *Engine) Health(_ context.Context) schemas.ComponentHealth {
	h := e.GetHealthStatus()
	return schemas.ComponentHealth{
		Name:    "self_fixing_engine",
		Healthy: h.Tier != TierCritical,
		Detail:  fmt.Sprintf("%s, %d unresolved", h.Tier, h.Unresolved),
	}
}

func (e *Engine) persist(ctx context.Context) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	state := persistedErrors{
		Errors:   make([]schemas.SystemError, 0, len(e.order)),
		Patterns: make(map[string]schemas.ErrorPattern, len(e.patterns)),
	}
	for _, id := range e.order {
		state.Errors = append(state.Errors, *e.errors[id])
	}
	for k, p := range e.patterns {
		cp := *p
		cp.Fixes = append([]string(nil), p.Fixes...)
		state.Patterns[k] = cp
	}
	e.mu.Unlock()

	if err := store.SaveJSON(ctx, e.kv, store.KeyErrors, state); err != nil {
		e.logger.Error("Failed to persist errors", zap.Error(err))
	}
}

func (e *Engine) remember(ctx context.Context, category string, entry schemas.MemoryEntry) {
	if _, err := e.memory.Remember(ctx, category, entry); err != nil {
		e.logger.Warn("Failed to record memory", zap.String("category", category), zap.Error(err))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var _ ErrorReporter = (*Engine)(nil)
