// internal/agent/risk.go
package agent

import (
	"math"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// Risk contributions of the spawn gate.
const (
	riskNearCapacity     = 0.3
	riskSharedCapability = 0.2
	riskFullyAutonomous  = 0.4
)

// computeRisk scores a spawn request against the live (non-terminated)
// agents. The result is capped at 1.0 and rounded to two decimals so that
// sums such as 0.3+0.4 compare exactly against the threshold.
func computeRisk(cfg SpawnConfig, live []*schemas.Agent, active, maxAgents int, capacityRatio float64) float64 {
	score := 0.0
	if float64(active) >= capacityRatio*float64(maxAgents) {
		score += riskNearCapacity
	}
	if sharesCapability(cfg.Capabilities, live) {
		score += riskSharedCapability
	}
	if cfg.AutonomyLevel == schemas.AutonomyFullyAutonomous {
		score += riskFullyAutonomous
	}
	return math.Min(1.0, math.Round(score*100)/100)
}

func sharesCapability(requested []string, live []*schemas.Agent) bool {
	for _, a := range live {
		for _, c := range requested {
			if a.HasCapability(c) {
				return true
			}
		}
	}
	return false
}
