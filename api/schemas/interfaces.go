package schemas

import (
	"context"
	"time"
)

// -- Analysis Schemas --

// AnalysisParameters are the free-form inputs of an analysis request.
type AnalysisParameters struct {
	Organization    string            `json:"organization"`
	Country         string            `json:"country,omitempty"`
	Industry        string            `json:"industry,omitempty"`
	StrategicIntent string            `json:"strategic_intent,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// AsMap flattens the parameters for memory context and prompts.
func (p AnalysisParameters) AsMap() map[string]any {
	m := map[string]any{
		"organization":     p.Organization,
		"country":          p.Country,
		"industry":         p.Industry,
		"strategic_intent": p.StrategicIntent,
	}
	for k, v := range p.Extra {
		m[k] = v
	}
	return m
}

// Payload is the domain report payload produced by the assembler.
type Payload map[string]any

// PayloadDocumentDetail carries the document_detail weight to the enhancer.
const PayloadDocumentDetail = "document_detail"

// AuditTrailItem marks the start of a pipeline phase.
type AuditTrailItem struct {
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// ReasoningResult is returned by the deep-thinking collaborator. Confidence is 0-100.
type ReasoningResult struct {
	Confidence float64        `json:"confidence"`
	Hypotheses []string       `json:"hypotheses,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// ResearchResult is returned by the research collaborator. Completeness is 0-100.
type ResearchResult struct {
	Completeness float64  `json:"completeness"`
	Findings     []string `json:"findings,omitempty"`
}

// EnhancementResult is returned by the document-enhancement collaborator. QualityScore is 0-100.
type EnhancementResult struct {
	QualityScore float64  `json:"quality_score"`
	Notes        []string `json:"notes,omitempty"`
}

// ProvenanceRecord is handed to the governance collaborator.
type ProvenanceRecord struct {
	ReportID string    `json:"report_id"`
	Artifact string    `json:"artifact"`
	Action   string    `json:"action"`
	Actor    string    `json:"actor"`
	Tags     []string  `json:"tags,omitempty"`
	At       time.Time `json:"at"`
}

// -- Collaborator Interfaces --

// Reasoner performs the deep-thinking phase.
type Reasoner interface {
	DeepThink(ctx context.Context, params AnalysisParameters, prior map[string]any) (ReasoningResult, error)
}

// Researcher answers a free-text research query with a completeness estimate.
type Researcher interface {
	Research(ctx context.Context, query string) (ResearchResult, error)
}

// PayloadAssembler builds the base report payload.
type PayloadAssembler interface {
	Assemble(ctx context.Context, params AnalysisParameters) (Payload, error)
}

// DocumentEnhancer scores and enriches an assembled payload.
type DocumentEnhancer interface {
	Enhance(ctx context.Context, payload Payload) (EnhancementResult, error)
}

// ProvenanceRecorder persists governance provenance for a report.
type ProvenanceRecorder interface {
	Record(ctx context.Context, record ProvenanceRecord) error
}

// -- Core Service Interfaces --

// EventPublisher is the publishing half of the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
	Emit(ctx context.Context, eventType EventType, payload any)
}

// HealthReporter is implemented by every named sub-agent polled for system status.
type HealthReporter interface {
	Health(ctx context.Context) ComponentHealth
}
