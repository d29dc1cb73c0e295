// File: internal/orchestrator/enhancements.go
package orchestrator

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/evolution"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
)

// EnhancementOutcome is the result of an out-of-band enhancement of an
// existing payload. Error is set and Confidence is zero when any branch failed.
type EnhancementOutcome struct {
	ReportID    string                    `json:"report_id"`
	Confidence  float64                   `json:"confidence"`
	Scores      Scores                    `json:"scores"`
	Reasoning   schemas.ReasoningResult   `json:"reasoning"`
	Research    ResearchSession           `json:"research"`
	Enhancement schemas.EnhancementResult `json:"enhancement"`
	Improvement schemas.Improvement       `json:"improvement"`
	Error       string                    `json:"error,omitempty"`
}

// RunEnhancements fans deep thinking, research, document enhancement and a
// self-improvement pass out concurrently over an already assembled payload.
// It never returns an error: failures and panics are logged and yield a zero
// confidence outcome.
func (o *Orchestrator) RunEnhancements(ctx context.Context, params schemas.AnalysisParameters, payload schemas.Payload) EnhancementOutcome {
	out := EnhancementOutcome{ReportID: uuid.NewString()}
	if id, ok := payload["report_id"].(string); ok && id != "" {
		out.ReportID = id
	}
	log := o.logger.With(zap.String("report_id", out.ReportID))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Parallelism())

	branch := func(name string, fn func() error) {
		g.Go(func() error {
			if err := safeCall(fn); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	branch(PhaseDeepThinking, func() error {
		prior := map[string]any{"payload_sections": len(payload)}
		if depth, ok := o.weight(evolution.WeightReasoningDepth); ok {
			prior[evolution.WeightReasoningDepth] = depth
		}
		r, err := o.deps.Reasoner.DeepThink(gctx, params, prior)
		out.Reasoning = r
		out.Scores.DeepThinking = r.Confidence
		return err
	})
	branch(PhaseResearch, func() error {
		s, err := o.runResearch(gctx, researchQuery(params))
		out.Research = s
		out.Scores.Research = s.Completeness
		return err
	})
	branch(PhaseDocumentEnhancement, func() error {
		if payload == nil {
			return fmt.Errorf("no payload to enhance")
		}
		// The other branches read payload; the enhancer gets a copy carrying the detail weight.
		doc := make(schemas.Payload, len(payload)+1)
		maps.Copy(doc, payload)
		if detail, ok := o.weight(evolution.WeightDocumentDetail); ok {
			doc[schemas.PayloadDocumentDetail] = detail
		}
		e, err := o.deps.Enhancer.Enhance(gctx, doc)
		out.Enhancement = e
		out.Scores.DocumentQuality = e.QualityScore
		return err
	})
	branch(PhaseSelfImprovement, func() error {
		out.Improvement = o.deps.Improver.AnalyzeAndImprove(gctx)
		out.Scores.SelfImprovement = out.Improvement.Score
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Enhancement run failed", zap.Error(err))
		o.deps.Improver.RecordPerformance(evolution.Sample{Operation: "enhancements", Success: false})
		return EnhancementOutcome{ReportID: out.ReportID, Error: err.Error()}
	}

	out.Scores.SystemStatus = o.systemStatus(ctx).Score
	out.Confidence = CalculateConfidence(out.Scores)

	if _, err := o.deps.Memory.Remember(ctx, memory.CategoryAnalyses, schemas.MemoryEntry{
		Action:     "enhancement of " + params.Organization,
		Context:    map[string]any{"report_id": out.ReportID, "scores": out.Scores},
		Outcome:    map[string]any{"success": true},
		Confidence: out.Confidence / 100,
	}); err != nil {
		log.Warn("Failed to remember enhancement", zap.Error(err))
	}
	o.deps.Bus.Emit(ctx, schemas.EventOrchestrationComplete, schemas.OrchestrationCompletePayload{
		ReportID:   out.ReportID,
		Confidence: out.Confidence,
		Enhanced:   true,
	})
	o.deps.Improver.RecordPerformance(evolution.Sample{Operation: "enhancements", Success: true})
	log.Info("Enhancement run complete", zap.Float64("confidence", out.Confidence))
	return out
}
