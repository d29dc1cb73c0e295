// File: internal/orchestrator/pipeline.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/agent"
	"github.com/braydenmw/bwmetadata-sub003/internal/evolution"
	"github.com/braydenmw/bwmetadata-sub003/internal/memory"
	"github.com/braydenmw/bwmetadata-sub003/internal/observability"
)

// Pipeline phases, in execution order.
const (
	PhaseInitializeAgents    = "initialize_agents"
	PhaseDeepThinking        = "deep_thinking"
	PhaseResearch            = "autonomous_research"
	PhaseAssemblePayload     = "assemble_payload"
	PhaseDocumentEnhancement = "document_enhancement"
	PhaseSelfImprovement     = "self_improvement"
	PhasePersistMemory       = "persist_memory"
	PhaseSystemStatus        = "system_status"
	PhaseProvenance          = "record_provenance"
)

// Scores are the five sub-scores, each on a 0-100 scale.
type Scores struct {
	DeepThinking    float64 `json:"deep_thinking"`
	Research        float64 `json:"research"`
	DocumentQuality float64 `json:"document_quality"`
	SelfImprovement float64 `json:"self_improvement"`
	SystemStatus    float64 `json:"system_status"`
}

// Confidence weights in percent. They sum to 100.
const (
	weightDeepThinking    = 25
	weightResearch        = 25
	weightDocumentQuality = 25
	weightSelfImprovement = 15
	weightSystemStatus    = 10
)

// CalculateConfidence clamps each sub-score into [0,100], applies the fixed
// weights and clamps the result into [0,100], rounded to two decimals.
func CalculateConfidence(s Scores) float64 {
	sum := weightDeepThinking*clamp100(s.DeepThinking) +
		weightResearch*clamp100(s.Research) +
		weightDocumentQuality*clamp100(s.DocumentQuality) +
		weightSelfImprovement*clamp100(s.SelfImprovement) +
		weightSystemStatus*clamp100(s.SystemStatus)
	return math.Round(clamp100(sum/100)*100) / 100
}

func clamp100(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// SystemStatus is the health poll of every named sub-agent.
type SystemStatus struct {
	Score      float64                   `json:"score"`
	Components []schemas.ComponentHealth `json:"components"`
}

// AnalysisResult is the outcome of a complete analysis.
type AnalysisResult struct {
	ReportID     string                    `json:"report_id"`
	Confidence   float64                   `json:"confidence"`
	Scores       Scores                    `json:"scores"`
	Payload      schemas.Payload           `json:"payload"`
	Reasoning    schemas.ReasoningResult   `json:"reasoning"`
	Research     ResearchSession           `json:"research"`
	Enhancement  schemas.EnhancementResult `json:"enhancement"`
	Improvement  schemas.Improvement       `json:"improvement"`
	SystemStatus SystemStatus              `json:"system_status"`
	AuditTrail   []schemas.AuditTrailItem  `json:"audit_trail"`
	Duration     time.Duration             `json:"duration"`
}

// coreAgents are found or spawned at the start of every analysis.
var coreAgents = []agent.SpawnConfig{
	{Name: "analysis-agent", Purpose: "deep-thinking analysis", Capabilities: []string{agent.CapabilityAnalysis}},
	{Name: "research-agent", Purpose: "autonomous research", Capabilities: []string{agent.CapabilityResearch}},
	{Name: "document-agent", Purpose: "document assembly and enhancement", Capabilities: []string{agent.CapabilityDocument}},
	{Name: "monitoring-agent", Purpose: "system status monitoring", Capabilities: []string{agent.CapabilityMonitoring}},
}

// OrchestrateCompleteAnalysis runs every phase in order. A failing phase is
// reported to the self-fixing engine as a runtime error carrying the audit
// trail, and the original error is returned wrapped. No completion event is
// published for a failed run.
func (o *Orchestrator) OrchestrateCompleteAnalysis(ctx context.Context, params schemas.AnalysisParameters) (*AnalysisResult, error) {
	start := o.now()
	res := &AnalysisResult{ReportID: uuid.NewString()}
	log := o.logger.With(zap.String("report_id", res.ReportID), zap.String("organization", params.Organization))
	log.Info("Starting complete analysis")

	run := func(phase string, fn func() error) error {
		res.AuditTrail = append(res.AuditTrail, schemas.AuditTrailItem{Phase: phase, Timestamp: o.now().UTC()})
		if err := safeCall(fn); err != nil {
			return o.failPipeline(ctx, res, phase, start, err)
		}
		return nil
	}

	var documentAgentID string
	if err := run(PhaseInitializeAgents, func() error {
		ids, err := o.ensureAgents(ctx)
		documentAgentID = ids["document-agent"]
		return err
	}); err != nil {
		return nil, err
	}

	if err := run(PhaseDeepThinking, func() error {
		prior := map[string]any{
			"related_analyses": len(o.deps.Memory.SearchMemory(params.Organization, memory.CategoryAnalyses)),
		}
		if depth, ok := o.weight(evolution.WeightReasoningDepth); ok {
			prior[evolution.WeightReasoningDepth] = depth
		}
		r, err := o.deps.Reasoner.DeepThink(ctx, params, prior)
		res.Reasoning = r
		res.Scores.DeepThinking = r.Confidence
		return err
	}); err != nil {
		return nil, err
	}

	if err := run(PhaseResearch, func() error {
		s, err := o.runResearch(ctx, researchQuery(params))
		res.Research = s
		res.Scores.Research = s.Completeness
		return err
	}); err != nil {
		return nil, err
	}

	if err := run(PhaseAssemblePayload, func() error {
		p, err := o.deps.Assembler.Assemble(ctx, params)
		if err != nil {
			return err
		}
		if p == nil {
			p = schemas.Payload{}
		}
		p["report_id"] = res.ReportID
		p["hypotheses"] = res.Reasoning.Hypotheses
		p["research_findings"] = res.Research.Findings
		if detail, ok := o.weight(evolution.WeightDocumentDetail); ok {
			p[schemas.PayloadDocumentDetail] = detail
		}
		res.Payload = p
		return nil
	}); err != nil {
		return nil, err
	}

	if err := run(PhaseDocumentEnhancement, func() error {
		e, err := o.deps.Enhancer.Enhance(ctx, res.Payload)
		res.Enhancement = e
		res.Scores.DocumentQuality = e.QualityScore
		return err
	}); err != nil {
		return nil, err
	}

	if err := run(PhaseSelfImprovement, func() error {
		o.deps.Improver.RecordAccuracy(evolution.Sample{Operation: PhaseDeepThinking, Accuracy: res.Reasoning.Confidence / 100})
		res.Improvement = o.deps.Improver.AnalyzeAndImprove(ctx)
		res.Scores.SelfImprovement = res.Improvement.Score
		return nil
	}); err != nil {
		return nil, err
	}

	if err := run(PhasePersistMemory, func() error {
		if _, err := o.deps.Memory.Remember(ctx, memory.CategoryAnalyses, schemas.MemoryEntry{
			Action:     "complete analysis of " + params.Organization,
			Context:    map[string]any{"report_id": res.ReportID, "parameters": params.AsMap(), "scores": res.Scores},
			Outcome:    map[string]any{"success": true, "research_session": res.Research.ID},
			Confidence: res.Scores.DeepThinking / 100,
		}); err != nil {
			return err
		}
		if documentAgentID != "" {
			o.archiveReport(ctx, documentAgentID, res.ReportID)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := run(PhaseSystemStatus, func() error {
		res.SystemStatus = o.systemStatus(ctx)
		res.Scores.SystemStatus = res.SystemStatus.Score
		return nil
	}); err != nil {
		return nil, err
	}

	res.Confidence = CalculateConfidence(res.Scores)
	o.deps.Bus.Emit(ctx, schemas.EventOrchestrationComplete, schemas.OrchestrationCompletePayload{
		ReportID:   res.ReportID,
		Confidence: res.Confidence,
		AuditTrail: append([]schemas.AuditTrailItem(nil), res.AuditTrail...),
	})

	if err := run(PhaseProvenance, func() error {
		return o.recordProvenance(ctx, res.ReportID, "complete_analysis", []string{"organization:" + params.Organization})
	}); err != nil {
		return nil, err
	}

	res.Duration = o.now().Sub(start)
	o.deps.Improver.RecordPerformance(evolution.Sample{Operation: "complete_analysis", LatencyMs: float64(res.Duration.Milliseconds()), Success: true})
	log.Info("Complete analysis finished", zap.Float64("confidence", res.Confidence), zap.Duration("duration", res.Duration))
	return res, nil
}

func (o *Orchestrator) failPipeline(ctx context.Context, res *AnalysisResult, phase string, start time.Time, err error) error {
	trail := make([]map[string]any, 0, len(res.AuditTrail))
	for _, item := range res.AuditTrail {
		trail = append(trail, map[string]any{"phase": item.Phase, "timestamp": item.Timestamp})
	}
	o.deps.Errors.ReportError(ctx, schemas.SystemError{
		Type:     schemas.ErrorRuntime,
		Severity: schemas.SeverityHigh,
		Message:  fmt.Sprintf("analysis phase %s failed: %v", phase, err),
		Context: map[string]any{
			"phase":       phase,
			"report_id":   res.ReportID,
			"audit_trail": trail,
		},
	})
	o.deps.Improver.RecordPerformance(evolution.Sample{
		Operation: "complete_analysis",
		LatencyMs: float64(o.now().Sub(start).Milliseconds()),
		Success:   false,
	})
	o.logger.Error("Analysis pipeline failed", zap.String("report_id", res.ReportID), zap.String("phase", phase), zap.Error(err), observability.Reported())
	return fmt.Errorf("analysis phase %s failed: %w", phase, err)
}

// ensureAgents finds or spawns the core agents. Policy refusals are logged
// and skipped; other spawn failures abort the phase.
func (o *Orchestrator) ensureAgents(ctx context.Context) (map[string]string, error) {
	ids := make(map[string]string, len(coreAgents))
	for _, cfg := range coreAgents {
		if a, ok := o.deps.Registry.FindActiveByName(cfg.Name); ok {
			ids[cfg.Name] = a.ID
			continue
		}
		a, err := o.deps.Registry.SpawnAgent(ctx, cfg)
		switch {
		case err == nil:
			ids[cfg.Name] = a.ID
		case errors.Is(err, agent.ErrAgentCapReached), errors.Is(err, agent.ErrSpawnRiskTooHigh):
			o.logger.Warn("Core agent not spawned", zap.String("name", cfg.Name), zap.Error(err))
		default:
			return ids, err
		}
	}
	return ids, nil
}

func (o *Orchestrator) archiveReport(ctx context.Context, agentID, reportID string) {
	if _, err := o.deps.Registry.AssignTask(ctx, agentID, agent.TaskSpec{
		Description: "archive analysis report " + reportID,
		Capability:  agent.CapabilityDocument,
	}); err != nil {
		o.logger.Warn("Failed to assign archive task", zap.String("report_id", reportID), zap.Error(err))
		return
	}
	summary := o.deps.Registry.ExecuteTasks(ctx)
	o.logger.Debug("Agent tasks executed", zap.Int("processed", summary.Processed), zap.Int("failed", summary.Failed))
}

func (o *Orchestrator) systemStatus(ctx context.Context) SystemStatus {
	status := SystemStatus{Score: 100}
	if len(o.deps.Health) == 0 {
		return status
	}
	healthy := 0
	for _, h := range o.deps.Health {
		ch := h.Health(ctx)
		if ch.Healthy {
			healthy++
		}
		status.Components = append(status.Components, ch)
	}
	status.Score = float64(healthy) / float64(len(o.deps.Health)) * 100
	return status
}

func (o *Orchestrator) recordProvenance(ctx context.Context, reportID, action string, tags []string) error {
	actor := o.cfg.Actor
	if actor == "" {
		actor = "orchestrator"
	}
	if err := o.deps.Provenance.Record(ctx, schemas.ProvenanceRecord{
		ReportID: reportID,
		Artifact: "analysis_report",
		Action:   action,
		Actor:    actor,
		Tags:     tags,
		At:       o.now().UTC(),
	}); err != nil {
		return err
	}
	if updater, ok := o.deps.Provenance.(ApprovalUpdater); ok {
		if err := updater.UpdateApproval(ctx, reportID, "pending", ""); err != nil {
			o.logger.Warn("Failed to publish approval state", zap.String("report_id", reportID), zap.Error(err))
		}
	}
	return nil
}

func researchQuery(params schemas.AnalysisParameters) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{params.Organization, params.Country, params.Industry, params.StrategicIntent} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// safeCall converts a panic inside fn into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
