// File: internal/memory/liability.go
package memory

import (
	"strings"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// LiabilityMatcher decides whether a catalog risk applies to an action.
type LiabilityMatcher interface {
	Matches(risk schemas.LiabilityRisk, action, serializedContext string) bool
}

// KeywordMatcher is the default matcher. A risk applies when any of its
// keywords occurs, case-insensitively, in the action or the serialized
// context. It is a substring heuristic and will both over- and under-match.
type KeywordMatcher struct{}

func (KeywordMatcher) Matches(risk schemas.LiabilityRisk, action, serializedContext string) bool {
	haystack := strings.ToLower(action + " " + serializedContext)
	for _, kw := range risk.Keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// defaultCatalog returns the static liability catalog. Callers get a fresh copy.
func defaultCatalog() []schemas.LiabilityRisk {
	return []schemas.LiabilityRisk{
		{
			ID:              "data-privacy",
			Description:     "Processing of personal data without a lawful basis",
			Severity:        schemas.SeverityHigh,
			Mitigation:      "Anonymize personal data and document the lawful basis before processing.",
			ProactiveAction: "Run a data protection impact assessment.",
			Keywords:        []string{"personal data", "pii", "gdpr", "privacy", "email address", "passport"},
		},
		{
			ID:          "defamation",
			Description: "Unverified negative claims about a named person or organization",
			Severity:    schemas.SeverityHigh,
			Mitigation:  "Attribute every negative claim to a verifiable source.",
			Keywords:    []string{"fraud", "corrupt", "scandal", "allegation", "criminal"},
		},
		{
			ID:              "financial-advice",
			Description:     "Statements that could be read as regulated investment advice",
			Severity:        schemas.SeverityMedium,
			Mitigation:      "Add a not-financial-advice disclaimer and avoid buy/sell language.",
			ProactiveAction: "Route the report through compliance review.",
			Keywords:        []string{"invest", "buy shares", "sell shares", "returns guaranteed", "stock tip"},
		},
		{
			ID:          "discrimination",
			Description: "Recommendations that differentiate on protected characteristics",
			Severity:    schemas.SeverityHigh,
			Mitigation:  "Remove protected characteristics from scoring inputs.",
			Keywords:    []string{"ethnicity", "religion", "gender", "race", "nationality"},
		},
		{
			ID:              "sanctions",
			Description:     "Engagement with sanctioned jurisdictions or export-controlled goods",
			Severity:        schemas.SeverityCritical,
			Mitigation:      "Screen counterparties against current sanctions lists.",
			ProactiveAction: "Block the engagement pending legal sign-off.",
			Keywords:        []string{"sanction", "embargo", "export control", "dual-use"},
		},
		{
			ID:          "intellectual-property",
			Description: "Reuse of third-party proprietary material",
			Severity:    schemas.SeverityMedium,
			Mitigation:  "Cite sources and confirm usage rights.",
			Keywords:    []string{"copyright", "trademark", "patent", "proprietary"},
		},
	}
}
