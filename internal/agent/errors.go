// internal/agent/errors.go
package agent

import "errors"

// Sentinel errors surfaced to operators.
var (
	ErrAgentCapReached    = errors.New("spawn refused: active agent cap reached")
	ErrSpawnRiskTooHigh   = errors.New("spawn refused: risk score exceeds threshold")
	ErrAgentNotFound      = errors.New("task assignment refused: unknown agent")
	ErrAgentInactive      = errors.New("task assignment refused: agent is not active")
	ErrCapabilityMismatch = errors.New("agent cannot execute task")
)

// ErrorCode is a string type used for structured failure reporting in task results.
type ErrorCode string

const (
	ErrCodeExecutionFailure   ErrorCode = "EXECUTION_FAILURE"
	ErrCodeCapabilityMismatch ErrorCode = "CAPABILITY_MISMATCH"
	ErrCodeNoHandler          ErrorCode = "NO_HANDLER"
	ErrCodeHandlerPanic       ErrorCode = "HANDLER_PANIC"
	ErrCodeAgentTerminated    ErrorCode = "AGENT_TERMINATED"
	ErrCodeInterrupted        ErrorCode = "INTERRUPTED"
)
