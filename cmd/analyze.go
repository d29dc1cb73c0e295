// File: cmd/analyze.go
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/service"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		params  schemas.AnalysisParameters
		extras  map[string]string
		asJSON  bool
		enhance bool
	)

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a complete analysis for an organization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(params.Organization) == "" {
				return fmt.Errorf("--organization is required")
			}
			params.Extra = extras

			return a.withComponents(cmd.Context(), func(c *service.Components) error {
				res, err := c.Orchestrator.OrchestrateCompleteAnalysis(cmd.Context(), params)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				if enhance {
					outcome := c.Orchestrator.RunEnhancements(cmd.Context(), params, res.Payload)
					if asJSON {
						return writeJSON(out, map[string]any{"analysis": res, "enhancement": outcome})
					}
					defer fmt.Fprintf(out, "Enhancement confidence: %.2f\n", outcome.Confidence)
				}
				if asJSON {
					return writeJSON(out, res)
				}

				fmt.Fprintf(out, "Report:       %s\n", res.ReportID)
				fmt.Fprintf(out, "Organization: %s\n", params.Organization)
				fmt.Fprintf(out, "Confidence:   %.2f\n", res.Confidence)
				fmt.Fprintf(out, "  deep thinking     %6.2f\n", res.Scores.DeepThinking)
				fmt.Fprintf(out, "  research          %6.2f (%d iterations, %s)\n", res.Scores.Research, res.Research.Iterations, res.Research.StopReason)
				fmt.Fprintf(out, "  document quality  %6.2f\n", res.Scores.DocumentQuality)
				fmt.Fprintf(out, "  self improvement  %6.2f\n", res.Scores.SelfImprovement)
				fmt.Fprintf(out, "  system status     %6.2f\n", res.Scores.SystemStatus)
				for _, h := range res.Reasoning.Hypotheses {
					fmt.Fprintf(out, "- %s\n", h)
				}
				for _, n := range res.Enhancement.Notes {
					fmt.Fprintf(out, "! %s\n", n)
				}
				return nil
			})
		},
	}

	analyzeCmd.Flags().StringVarP(&params.Organization, "organization", "o", "", "organization to analyze (required)")
	analyzeCmd.Flags().StringVar(&params.Country, "country", "", "country of operation")
	analyzeCmd.Flags().StringVar(&params.Industry, "industry", "", "industry sector")
	analyzeCmd.Flags().StringVar(&params.StrategicIntent, "intent", "", "strategic intent")
	analyzeCmd.Flags().StringToStringVar(&extras, "extra", nil, "additional key=value context")
	analyzeCmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	analyzeCmd.Flags().BoolVar(&enhance, "enhance", false, "run the concurrent enhancement pass afterwards")
	return analyzeCmd
}
