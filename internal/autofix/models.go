// internal/autofix/models.go
package autofix

import (
	"time"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// HealthTier is the overall verdict of the error history.
type HealthTier string

const (
	TierHealthy  HealthTier = "healthy"
	TierWarning  HealthTier = "warning"
	TierCritical HealthTier = "critical"
)

// HealthStatus summarizes unresolved errors.
type HealthStatus struct {
	Tier               HealthTier `json:"tier"`
	Unresolved         int        `json:"unresolved"`
	RecentCritical     int        `json:"recent_critical"`
	LastError          *time.Time `json:"last_error,omitempty"`
	AutoFixEnabled     bool       `json:"auto_fix_enabled"`
	WarningThreshold   int        `json:"warning_threshold"`
	CriticalWindowSecs float64    `json:"critical_window_secs"`
}

// Diagnostics is a read-only aggregate over every recorded error.
type Diagnostics struct {
	Total       int                       `json:"total"`
	Unresolved  int                       `json:"unresolved"`
	AutoFixed   int                       `json:"auto_fixed"`
	ByType      map[schemas.ErrorType]int `json:"by_type"`
	BySeverity  map[schemas.Severity]int  `json:"by_severity"`
	TopPatterns []schemas.ErrorPattern    `json:"top_patterns"`
	Recent      []schemas.SystemError     `json:"recent"`
	Health      HealthStatus              `json:"health"`
}

// persistedErrors is the record written under store.KeyErrors.
type persistedErrors struct {
	Errors   []schemas.SystemError           `json:"errors"`
	Patterns map[string]schemas.ErrorPattern `json:"patterns"`
}
