// internal/autofix/patterns.go
package autofix

import (
	"strings"

	"github.com/google/uuid"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
)

const patternPrefixWords = 3

// PatternKey is the error signature: the type, a colon, and the first three
// whitespace-separated words of the lower-cased message. Messages that differ
// only after the third word share a pattern.
func PatternKey(errType schemas.ErrorType, message string) string {
	words := strings.Fields(strings.ToLower(message))
	if len(words) > patternPrefixWords {
		words = words[:patternPrefixWords]
	}
	return string(errType) + ":" + strings.Join(words, " ")
}

// generateActions builds the ordered candidate list for an error. pattern may be nil.
func generateActions(target schemas.SystemError, pattern *schemas.ErrorPattern, cfg config.AutofixConfig, cachePrefix string) []RecoveryAction {
	var actions []RecoveryAction
	add := func(desc string, kind ActionKind, params ActionParams, risk RiskLevel, confidence float64) {
		actions = append(actions, RecoveryAction{
			ID:          uuid.NewString(),
			ErrorID:     target.ID,
			Description: desc,
			Kind:        kind,
			Params:      params,
			Risk:        risk,
			Confidence:  confidence,
		})
	}

	if pattern != nil && len(pattern.Fixes) > 0 {
		fix := pattern.Fixes[len(pattern.Fixes)-1]
		add("Replay previous fix: "+fix, KindReplayFix, ActionParams{Signal: SignalReplayFix, Fix: fix, Detail: fix}, RiskLow, cfg.ReplayConfidence)
	}

	switch target.Type {
	case schemas.ErrorRuntime:
		add("Clear potentially corrupted cache entries", KindClearCache, ActionParams{Prefix: cachePrefix}, RiskLow, 0.8)
		add("Signal runtime recovery", KindEmitSignal, ActionParams{Signal: SignalRuntimeRecovery}, RiskLow, 0.75)
	case schemas.ErrorNetwork:
		add("Retry with exponential backoff", KindEmitSignal, ActionParams{Signal: SignalRetryWithBackoff}, RiskLow, 0.8)
		if pattern != nil && pattern.Count >= cfg.PatternRepeatThreshold {
			add("Switch to fallback data sources", KindEmitSignal, ActionParams{Signal: SignalFallbackData, Detail: pattern.Key}, RiskLow, 0.75)
		}
	case schemas.ErrorPerformance:
		add("Clear cache to free resources", KindClearCache, ActionParams{Prefix: cachePrefix}, RiskLow, 0.8)
		add("Reduce parallelism", KindEmitSignal, ActionParams{Signal: SignalReduceParallelism}, RiskLow, 0.75)
	case schemas.ErrorLogic:
		add("Reset tunable weights to defaults", KindResetWeights, ActionParams{}, RiskMedium, 0.6)
		add("Signal logic recovery", KindEmitSignal, ActionParams{Signal: SignalLogicRecovery}, RiskLow, 0.72)
	case schemas.ErrorSecurity:
		add("Log security incident", KindLogSecurity, ActionParams{Category: memory.CategorySecurity}, RiskLow, 0.9)
		add("Restrict autonomous actions", KindEmitSignal, ActionParams{Signal: SignalRestrictAutonomy}, RiskHigh, 0.9)
	}
	return actions
}
