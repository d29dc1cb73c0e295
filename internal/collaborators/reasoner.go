// internal/collaborators/reasoner.go
package collaborators

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// MemorySearcher is the slice of the memory store the collaborators read.
type MemorySearcher interface {
	SearchMemory(query, category string) []schemas.MemoryEntry
}

// HeuristicReasoner derives a deep-thinking result from how complete the
// analysis parameters are and from what memory already knows.
//
// Confidence starts at 40 and gains 15 for each of organization, country,
// industry and strategic intent that is populated. Prior analyses of the same
// organization found in memory and keys of the prior context become
// hypotheses but never change the score.
type HeuristicReasoner struct {
	memory MemorySearcher
	logger *zap.Logger
}

// NewHeuristicReasoner returns the default reasoner. mem may be nil.
func NewHeuristicReasoner(mem MemorySearcher, logger *zap.Logger) *HeuristicReasoner {
	return &HeuristicReasoner{memory: mem, logger: logger.Named("reasoner")}
}

const (
	reasoningBase     = 40.0
	reasoningPerField = 15.0
)

// DeepThink implements schemas.Reasoner.
func (r *HeuristicReasoner) DeepThink(ctx context.Context, params schemas.AnalysisParameters, prior map[string]any) (schemas.ReasoningResult, error) {
	if err := ctx.Err(); err != nil {
		return schemas.ReasoningResult{}, err
	}

	confidence := reasoningBase
	var hypotheses []string
	fields := []struct{ name, value string }{
		{"organization", params.Organization},
		{"country", params.Country},
		{"industry", params.Industry},
		{"strategic intent", params.StrategicIntent},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			hypotheses = append(hypotheses, "missing "+f.name+" limits the analysis")
			continue
		}
		confidence += reasoningPerField
	}

	if params.Organization != "" && params.StrategicIntent != "" {
		hypotheses = append(hypotheses, fmt.Sprintf("%s pursues %s", params.Organization, params.StrategicIntent))
	}
	if params.Country != "" && params.Industry != "" {
		hypotheses = append(hypotheses, fmt.Sprintf("%s market conditions in %s drive the outcome", params.Industry, params.Country))
	}

	related := 0
	if r.memory != nil && params.Organization != "" {
		related = len(r.memory.SearchMemory(params.Organization, ""))
		if related > 0 {
			hypotheses = append(hypotheses, fmt.Sprintf("%d prior records mention %s", related, params.Organization))
		}
	}

	result := schemas.ReasoningResult{
		Confidence: math.Min(100, confidence),
		Hypotheses: hypotheses,
		Context: map[string]any{
			"parameters":      params.AsMap(),
			"prior_keys":      len(prior),
			"related_records": related,
		},
	}
	r.logger.Debug("Deep thinking complete", zap.Float64("confidence", result.Confidence), zap.Int("hypotheses", len(hypotheses)))
	return result, nil
}

var _ schemas.Reasoner = (*HeuristicReasoner)(nil)
