// internal/collaborators/research.go
package collaborators

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

const (
	researchBase       = 40.0
	researchPerTerm    = 5.0
	researchMaxTerms   = 6
	researchPerAttempt = 15.0
)

// KeywordResearcher is a deterministic stand-in for external data lookups.
// Completeness for a query is 40 plus 5 per distinct term (at most six terms),
// rising by 15 each time the same query is researched again, capped at 100.
type KeywordResearcher struct {
	logger *zap.Logger

	mu       sync.Mutex
	attempts map[string]int
}

func NewKeywordResearcher(logger *zap.Logger) *KeywordResearcher {
	return &KeywordResearcher{logger: logger.Named("researcher"), attempts: make(map[string]int)}
}

// Research implements schemas.Researcher.
func (k *KeywordResearcher) Research(ctx context.Context, query string) (schemas.ResearchResult, error) {
	if err := ctx.Err(); err != nil {
		return schemas.ResearchResult{}, err
	}
	terms := distinctTerms(query)
	if len(terms) == 0 {
		return schemas.ResearchResult{}, fmt.Errorf("research query is empty")
	}

	key := strings.Join(terms, " ")
	k.mu.Lock()
	k.attempts[key]++
	attempt := k.attempts[key]
	k.mu.Unlock()

	n := len(terms)
	if n > researchMaxTerms {
		n = researchMaxTerms
	}
	completeness := math.Min(100, researchBase+researchPerTerm*float64(n)+researchPerAttempt*float64(attempt-1))

	findings := make([]string, 0, len(terms))
	for _, t := range terms {
		findings = append(findings, fmt.Sprintf("source coverage for %q (pass %d)", t, attempt))
	}
	k.logger.Debug("Research pass complete", zap.String("query", key), zap.Int("attempt", attempt), zap.Float64("completeness", completeness))
	return schemas.ResearchResult{Completeness: completeness, Findings: findings}, nil
}

func distinctTerms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		t = strings.Trim(t, ".,;:!?\"'()")
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

var _ schemas.Researcher = (*KeywordResearcher)(nil)
