// internal/autofix/actions.go
package autofix

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
	"github.com/braydenmw/bwmetadata-sub003/internal/store"
)

// ActionKind tags a recovery action. The interpreter maps each kind to its effect.
type ActionKind string

const (
	KindClearCache   ActionKind = "clear_cache"
	KindEmitSignal   ActionKind = "emit_signal"
	KindResetWeights ActionKind = "reset_weights"
	KindLogSecurity  ActionKind = "log_security"
	KindReplayFix    ActionKind = "replay_fix"
)

// Recovery signals published on the bus.
const (
	SignalRuntimeRecovery   = "runtime-recovery"
	SignalRetryWithBackoff  = "retry-with-backoff"
	SignalFallbackData      = "switch-to-fallback-data"
	SignalReduceParallelism = "reduce-parallelism"
	SignalLogicRecovery     = "logic-recovery"
	SignalRestrictAutonomy  = "restrict-autonomous-actions"
	SignalReplayFix         = "replay-fix"
)

// RiskLevel of executing a recovery action.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ActionParams carries the structured arguments of an action. Which fields
// are read depends on the kind.
type ActionParams struct {
	Signal   string `json:"signal,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Category string `json:"category,omitempty"`
	Fix      string `json:"fix,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// RecoveryAction is a serializable candidate remediation for one error.
type RecoveryAction struct {
	ID          string       `json:"id"`
	ErrorID     string       `json:"error_id"`
	Description string       `json:"description"`
	Kind        ActionKind   `json:"kind"`
	Params      ActionParams `json:"params"`
	Risk        RiskLevel    `json:"risk"`
	Confidence  float64      `json:"confidence"`
	Executed    bool         `json:"executed"`
	Success     *bool        `json:"success,omitempty"`
	Failure     string       `json:"failure,omitempty"`
}

// Eligible reports whether the action may run unattended.
func (a RecoveryAction) Eligible(minConfidence float64) bool {
	return a.Risk == RiskLow && a.Confidence > minConfidence
}

// Resolution is the fix description recorded when the action succeeds.
// Replays record the original fix so patterns do not accumulate wrappers.
func (a RecoveryAction) Resolution() string {
	if a.Kind == KindReplayFix && a.Params.Fix != "" {
		return a.Params.Fix
	}
	return a.Description
}

// ActionFunc performs the effect of one action kind.
type ActionFunc func(ctx context.Context, action RecoveryAction, target schemas.SystemError) error

// Interpreter executes recovery actions through a dispatch table.
type Interpreter struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[ActionKind]ActionFunc
}

// InterpreterDeps are the resources the built-in action kinds act upon.
type InterpreterDeps struct {
	KV      store.KV
	Bus     schemas.EventPublisher
	Memory  MemoryRecorder
	Weights WeightResetter
}

var errNoWeights = errors.New("no weight resetter configured")

// NewInterpreter registers the built-in action kinds.
func NewInterpreter(deps InterpreterDeps, logger *zap.Logger) *Interpreter {
	i := &Interpreter{
		logger:   logger.Named("interpreter"),
		handlers: make(map[ActionKind]ActionFunc),
	}

	i.Register(KindClearCache, func(ctx context.Context, a RecoveryAction, _ schemas.SystemError) error {
		if a.Params.Prefix == "" {
			return fmt.Errorf("clear_cache requires a key prefix")
		}
		n, err := deps.KV.DeletePrefix(ctx, a.Params.Prefix)
		if err != nil {
			return err
		}
		i.logger.Info("Cleared cache entries", zap.String("prefix", a.Params.Prefix), zap.Int("count", n))
		return nil
	})

	emit := func(ctx context.Context, a RecoveryAction, target schemas.SystemError) error {
		deps.Bus.Emit(ctx, schemas.EventRecoverySignal, schemas.RecoverySignalPayload{
			ErrorID: target.ID,
			Signal:  a.Params.Signal,
			Detail:  a.Params.Detail,
		})
		return nil
	}
	i.Register(KindEmitSignal, emit)
	i.Register(KindReplayFix, emit)

	i.Register(KindResetWeights, func(ctx context.Context, _ RecoveryAction, _ schemas.SystemError) error {
		if deps.Weights == nil {
			return errNoWeights
		}
		deps.Weights.ResetWeights(ctx)
		return nil
	})

	i.Register(KindLogSecurity, func(ctx context.Context, a RecoveryAction, target schemas.SystemError) error {
		category := a.Params.Category
		if category == "" {
			category = memory.CategorySecurity
		}
		_, err := deps.Memory.Remember(ctx, category, schemas.MemoryEntry{
			Action:  "security incident: " + target.Message,
			Context: map[string]any{"error_id": target.ID, "severity": string(target.Severity), "details": target.Context},
			Outcome: map[string]any{"logged": true},
		})
		return err
	})

	return i
}

// Register installs or replaces the function for a kind.
func (i *Interpreter) Register(kind ActionKind, fn ActionFunc) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[kind] = fn
}

// Execute runs one action. Panics are converted to errors.
func (i *Interpreter) Execute(ctx context.Context, action RecoveryAction, target schemas.SystemError) (err error) {
	i.mu.RLock()
	fn, ok := i.handlers[action.Kind]
	i.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for action kind %q", action.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Recovery action panicked",
				zap.String("kind", string(action.Kind)),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("recovery action %s panicked: %v", action.Kind, r)
		}
	}()
	return fn(ctx, action, target)
}
