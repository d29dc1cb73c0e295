package schemas

import (
	"time"
)

// -- Event Schemas --

// EventType identifies the payload carried by an Event.
type EventType string

const (
	EventAgentSpawned          EventType = "agentSpawned"
	EventTaskAssigned          EventType = "taskAssigned"
	EventTaskCompleted         EventType = "taskCompleted"
	EventTaskFailed            EventType = "taskFailed"
	EventAgentTerminated       EventType = "agentTerminated"
	EventErrorReported         EventType = "errorReported"
	EventErrorResolved         EventType = "errorResolved"
	EventMemoryUpdated         EventType = "memoryUpdated"
	EventRecoverySignal        EventType = "recoverySignal"
	EventSystemOverload        EventType = "systemOverload"
	EventSystemDegraded        EventType = "systemDegraded"
	EventWeightsAdjusted       EventType = "weightsAdjusted"
	EventResearchCompleted     EventType = "researchCompleted"
	EventOrchestrationComplete EventType = "orchestrationComplete"
	EventApprovalUpdated       EventType = "approvalUpdated"
	EventProvenanceRecorded    EventType = "provenanceRecorded"
)

// Event is the immutable envelope delivered over the event bus.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	Payload       any       `json:"payload,omitempty"`
}

// EventLogEntry is one row of the bus' rolling diagnostic log.
type EventLogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	CorrelationID string    `json:"correlation_id"`
}

// -- Event Payloads --

type AgentSpawnedPayload struct {
	Agent Agent `json:"agent"`
}

type TaskAssignedPayload struct {
	Task Task `json:"task"`
}

type TaskFinishedPayload struct {
	Task Task `json:"task"`
}

type AgentTerminatedPayload struct {
	AgentID     string   `json:"agent_id"`
	Reason      string   `json:"reason"`
	FailedTasks []string `json:"failed_tasks,omitempty"`
}

type ErrorReportedPayload struct {
	Error SystemError `json:"error"`
}

type ErrorResolvedPayload struct {
	ErrorID    string `json:"error_id"`
	Resolution string `json:"resolution"`
	AutoFixed  bool   `json:"auto_fixed"`
}

type MemoryUpdatedPayload struct {
	Category string `json:"category"`
	Cases    int    `json:"cases"`
}

// RecoverySignalPayload is published by recovery actions so that the
// components owning the affected resource can react.
type RecoverySignalPayload struct {
	ErrorID string `json:"error_id"`
	Signal  string `json:"signal"`
	Detail  string `json:"detail,omitempty"`
}

// SystemOverloadPayload is raised by any component that detects saturation.
type SystemOverloadPayload struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// SystemDegradedPayload describes a degradation observed outside the main
// pipeline. The self-fixing engine turns it into an error report.
type SystemDegradedPayload struct {
	Component string   `json:"component"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

type WeightsAdjustedPayload struct {
	Adjustments []WeightAdjustment `json:"adjustments"`
}

type ResearchCompletedPayload struct {
	SessionID    string  `json:"session_id"`
	Query        string  `json:"query"`
	Completeness float64 `json:"completeness"`
	Iterations   int     `json:"iterations"`
}

type OrchestrationCompletePayload struct {
	ReportID   string           `json:"report_id"`
	Confidence float64          `json:"confidence"`
	AuditTrail []AuditTrailItem `json:"audit_trail,omitempty"`
	Enhanced   bool             `json:"enhanced"`
}

type ApprovalUpdatedPayload struct {
	ReportID string `json:"report_id"`
	Approval string `json:"approval"`
	Mandate  string `json:"mandate,omitempty"`
}

type ProvenanceRecordedPayload struct {
	Record ProvenanceRecord `json:"record"`
}

// -- Health --

// ComponentHealth is the health probe answer of a named sub-agent.
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}
