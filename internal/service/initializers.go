// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/autofix"
	"github.com/braydenmw/bwmetadata-sub003/internal/collaborators"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
)

// InitializeReasoner selects the deep-thinking collaborator. The Gemini
// provider needs BWCORE_GEMINI_API_KEY; the heuristic one needs nothing.
func InitializeReasoner(ctx context.Context, cfg config.ReasoningConfig, mem collaborators.MemorySearcher, logger *zap.Logger) (schemas.Reasoner, error) {
	switch cfg.Provider {
	case "", config.ProviderHeuristic:
		logger.Debug("Using heuristic reasoner.")
		return collaborators.NewHeuristicReasoner(mem, logger), nil
	case config.ProviderGemini:
		r, err := collaborators.NewGeminiReasoner(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize Gemini reasoner.", zap.Error(err))
			return nil, fmt.Errorf("failed to initialize reasoner: %w", err)
		}
		logger.Info("Using Gemini reasoner.", zap.String("model", cfg.Model))
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported reasoning provider: %s", cfg.Provider)
	}
}

// InitializeWatcher returns a log watcher over the rotating JSON log file,
// or nil when watching is disabled.
func InitializeWatcher(cfg config.AutofixConfig, logCfg config.LoggerConfig, reporter autofix.ErrorReporter, logger *zap.Logger) (*autofix.Watcher, error) {
	if !cfg.WatchLog {
		return nil, nil
	}
	if logCfg.LogFile == "" {
		logger.Warn("Log watching is enabled but no log file is configured; the watcher stays off.")
		return nil, nil
	}
	path, err := homedir.Expand(logCfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to expand log file path: %w", err)
	}
	w, err := autofix.NewWatcher(logger, path, reporter)
	if err != nil {
		return nil, fmt.Errorf("failed to create log watcher: %w", err)
	}
	return w, nil
}
