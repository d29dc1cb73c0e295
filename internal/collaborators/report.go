// internal/collaborators/report.go
package collaborators

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
)

// ErrMissingOrganization is returned when a payload cannot name its subject.
var ErrMissingOrganization = errors.New("analysis parameters require an organization")

// Payload section names, in report order.
const (
	SectionExecutiveSummary   = "executive_summary"
	SectionMarketContext      = "market_context"
	SectionStrategicAlignment = "strategic_alignment"
	SectionRiskAssessment     = "risk_assessment"
	SectionAdditionalContext  = "additional_context"
)

var reportSections = []string{
	SectionExecutiveSummary,
	SectionMarketContext,
	SectionStrategicAlignment,
	SectionRiskAssessment,
	SectionAdditionalContext,
}

// LiabilityAssessor is the slice of the memory store used to flag exposure.
type LiabilityAssessor interface {
	AssessLiability(action string, context map[string]any) []schemas.LiabilityRisk
}

// ReportAssembler builds the base report payload from analysis parameters.
type ReportAssembler struct {
	liability LiabilityAssessor
	logger    *zap.Logger
}

// NewReportAssembler returns an assembler. liability may be nil.
func NewReportAssembler(liability LiabilityAssessor, logger *zap.Logger) *ReportAssembler {
	return &ReportAssembler{liability: liability, logger: logger.Named("assembler")}
}

// Assemble implements schemas.PayloadAssembler. Sections without input are
// present but empty so the enhancer can score them.
func (a *ReportAssembler) Assemble(ctx context.Context, params schemas.AnalysisParameters) (schemas.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Organization) == "" {
		return nil, ErrMissingOrganization
	}

	sections := map[string]string{
		SectionExecutiveSummary: fmt.Sprintf("Strategic analysis of %s.", params.Organization),
	}
	if params.Country != "" || params.Industry != "" {
		sections[SectionMarketContext] = strings.TrimSpace(fmt.Sprintf("%s %s", params.Industry, marketIn(params.Country)))
	}
	if params.StrategicIntent != "" {
		sections[SectionStrategicAlignment] = fmt.Sprintf("%s intends to %s.", params.Organization, params.StrategicIntent)
	}

	var risks []schemas.LiabilityRisk
	if a.liability != nil {
		risks = a.liability.AssessLiability(params.StrategicIntent, params.AsMap())
	}
	if len(risks) > 0 {
		ids := make([]string, 0, len(risks))
		for _, r := range risks {
			ids = append(ids, r.ID)
		}
		sections[SectionRiskAssessment] = "Flagged exposure: " + strings.Join(ids, ", ")
	} else if params.StrategicIntent != "" {
		sections[SectionRiskAssessment] = "No catalogued liability exposure detected."
	}

	if len(params.Extra) > 0 {
		keys := make([]string, 0, len(params.Extra))
		for k := range params.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+params.Extra[k])
		}
		sections[SectionAdditionalContext] = strings.Join(parts, "; ")
	}

	payloadSections := make(map[string]any, len(reportSections))
	for _, name := range reportSections {
		payloadSections[name] = sections[name]
	}
	a.logger.Debug("Payload assembled", zap.String("organization", params.Organization), zap.Int("risks", len(risks)))
	return schemas.Payload{
		"organization": params.Organization,
		"sections":     payloadSections,
		"liabilities":  risks,
	}, nil
}

func marketIn(country string) string {
	if country == "" {
		return "market"
	}
	return "market in " + country
}

// SectionEnhancer scores a payload by the share of populated sections.
type SectionEnhancer struct {
	logger *zap.Logger
}

func NewSectionEnhancer(logger *zap.Logger) *SectionEnhancer {
	return &SectionEnhancer{logger: logger.Named("enhancer")}
}

// Enhance implements schemas.DocumentEnhancer. QualityScore is
// 100 * populated / required over the known sections. A document_detail
// weight below 1 makes the additional context section optional.
func (e *SectionEnhancer) Enhance(ctx context.Context, payload schemas.Payload) (schemas.EnhancementResult, error) {
	if err := ctx.Err(); err != nil {
		return schemas.EnhancementResult{}, err
	}
	sections, ok := payload["sections"].(map[string]any)
	if !ok {
		return schemas.EnhancementResult{}, fmt.Errorf("payload has no sections")
	}
	detail, ok := payload[schemas.PayloadDocumentDetail].(float64)
	concise := ok && detail < 1

	populated, required := 0, 0
	var notes []string
	for _, name := range reportSections {
		if s, _ := sections[name].(string); strings.TrimSpace(s) != "" {
			populated++
			required++
			continue
		}
		if concise && name == SectionAdditionalContext {
			continue
		}
		required++
		notes = append(notes, "section "+name+" is empty")
	}
	score := float64(populated) / float64(required) * 100
	e.logger.Debug("Document enhanced", zap.Float64("quality", score), zap.Bool("concise", concise))
	return schemas.EnhancementResult{QualityScore: score, Notes: notes}, nil
}

var (
	_ schemas.PayloadAssembler = (*ReportAssembler)(nil)
	_ schemas.DocumentEnhancer = (*SectionEnhancer)(nil)
)
