// internal/agent/handlers.go
package agent

import (
	"context"
	"strings"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// Built-in capabilities.
const (
	CapabilityAnalysis   = "analysis"
	CapabilityResearch   = "research"
	CapabilityDocument   = "document"
	CapabilityMonitoring = "monitoring"
)

// TaskHandler executes one task on behalf of an agent.
type TaskHandler func(ctx context.Context, agent schemas.Agent, task schemas.Task) (map[string]any, error)

// echoHandler returns a handler that acknowledges the task. Collaborator-backed
// handlers replace these at wiring time.
func echoHandler(capability string) TaskHandler {
	return func(_ context.Context, agent schemas.Agent, task schemas.Task) (map[string]any, error) {
		return map[string]any{
			"capability": capability,
			"agent":      agent.Name,
			"summary":    capability + ": " + task.Description,
		}, nil
	}
}

func defaultHandlers() ([]string, map[string]TaskHandler) {
	order := []string{CapabilityAnalysis, CapabilityResearch, CapabilityDocument, CapabilityMonitoring}
	handlers := make(map[string]TaskHandler, len(order))
	for _, c := range order {
		handlers[c] = echoHandler(c)
	}
	return order, handlers
}

// inferCapability returns the explicit capability, or else the first
// registered capability whose name appears case-insensitively in the
// description. The fallback is a keyword heuristic.
func inferCapability(task schemas.Task, registered []string) string {
	if task.Capability != "" {
		return task.Capability
	}
	desc := strings.ToLower(task.Description)
	for _, c := range registered {
		if strings.Contains(desc, strings.ToLower(c)) {
			return c
		}
	}
	return ""
}
