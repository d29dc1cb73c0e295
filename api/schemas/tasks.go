package schemas

import "time"

// -- Memory --

// MemoryEntry is one append-only record of the long-term memory.
type MemoryEntry struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Category       string         `json:"category"`
	Action         string         `json:"action"`
	Context        map[string]any `json:"context,omitempty"`
	Outcome        map[string]any `json:"outcome,omitempty"`
	LessonsLearned []string       `json:"lessons_learned,omitempty"`
	Confidence     float64        `json:"confidence"`
}

// Succeeded reports the value of outcome["success"] and whether it was set.
func (e MemoryEntry) Succeeded() (success bool, known bool) {
	if e.Outcome == nil {
		return false, false
	}
	v, ok := e.Outcome["success"].(bool)
	return v, ok
}

// LiabilityRisk is a read-only catalog entry matched against proposed actions.
type LiabilityRisk struct {
	ID              string   `json:"id"`
	Description     string   `json:"description"`
	Severity        Severity `json:"severity"`
	Mitigation      string   `json:"mitigation"`
	ProactiveAction string   `json:"proactive_action,omitempty"`
	Keywords        []string `json:"keywords"`
}

// -- Agents --

type AutonomyLevel string

const (
	AutonomySupervised      AutonomyLevel = "supervised"
	AutonomySemiAutonomous  AutonomyLevel = "semi-autonomous"
	AutonomyFullyAutonomous AutonomyLevel = "fully-autonomous"
)

type AgentStatus string

const (
	AgentActive     AgentStatus = "active"
	AgentInactive   AgentStatus = "inactive"
	AgentTerminated AgentStatus = "terminated"
)

// AgentPerformance holds running statistics of an agent.
type AgentPerformance struct {
	TasksCompleted        int     `json:"tasks_completed"`
	SuccessRate           float64 `json:"success_rate"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
}

// Agent is a bounded-lifetime worker record.
type Agent struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Purpose       string           `json:"purpose"`
	Capabilities  []string         `json:"capabilities"`
	AutonomyLevel AutonomyLevel    `json:"autonomy_level"`
	ParentAgent   string           `json:"parent_agent,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	LastActive    time.Time        `json:"last_active"`
	Status        AgentStatus      `json:"status"`
	Memory        map[string]any   `json:"memory,omitempty"`
	Performance   AgentPerformance `json:"performance"`
}

// HasCapability reports whether the agent lists the capability.
func (a Agent) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is a unit of work owned by exactly one agent.
type Task struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	Description string         `json:"description"`
	Capability  string         `json:"capability,omitempty"`
	Priority    int            `json:"priority"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
	Status      TaskStatus     `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	AssignedAt  time.Time      `json:"assigned_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// -- Errors --

type ErrorType string

const (
	ErrorRuntime     ErrorType = "runtime"
	ErrorLogic       ErrorType = "logic"
	ErrorNetwork     ErrorType = "network"
	ErrorSecurity    ErrorType = "security"
	ErrorPerformance ErrorType = "performance"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SystemError is a reported runtime problem tracked by the self-fixing engine.
type SystemError struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       ErrorType      `json:"type"`
	Message    string         `json:"message"`
	Stack      string         `json:"stack,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Severity   Severity       `json:"severity"`
	Resolved   bool           `json:"resolved"`
	Resolution string         `json:"resolution,omitempty"`
	AutoFixed  bool           `json:"auto_fixed"`
}

// ErrorPattern aggregates recurring errors sharing a signature.
type ErrorPattern struct {
	Key      string    `json:"key"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
	Fixes    []string  `json:"fixes,omitempty"`
}

// -- Self-improvement --

// WeightAdjustment records a single tunable-weight change.
type WeightAdjustment struct {
	Name   string  `json:"name"`
	From   float64 `json:"from"`
	To     float64 `json:"to"`
	Reason string  `json:"reason"`
}

// Improvement is the outcome of one self-improvement pass.
type Improvement struct {
	Score       float64            `json:"score"`
	Samples     int                `json:"samples"`
	Adjustments []WeightAdjustment `json:"adjustments,omitempty"`
	Weights     map[string]float64 `json:"weights"`
}
