// internal/autofix/interfaces.go
package autofix

import (
	"context"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// ErrorReporter is the intake contract of the engine. Collaborators and the
// log watcher depend on it rather than on *Engine.
type ErrorReporter interface {
	// ReportError records the error and attempts an automatic fix. It never fails.
	ReportError(ctx context.Context, partial schemas.SystemError) string
}

// MemoryRecorder is the slice of the memory store used by the engine.
type MemoryRecorder interface {
	Remember(ctx context.Context, category string, entry schemas.MemoryEntry) (schemas.MemoryEntry, error)
}

// WeightResetter restores the tunable weights to their defaults.
type WeightResetter interface {
	ResetWeights(ctx context.Context)
}

// WatcherInterface defines the contract for a component that monitors logs
// and turns failures into error reports.
type WatcherInterface interface {
	// Start begins monitoring in a background goroutine. It returns once the
	// log file is being tailed.
	Start(ctx context.Context) error
}
