// File: cmd/health.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/service"
)

func newHealthCmd(a *app) *cobra.Command {
	var asJSON bool

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Show error diagnostics and the health of every component",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withComponents(ctx, func(c *service.Components) error {
				diag := c.Autofix.GetErrorDiagnostics()
				components := []schemas.ComponentHealth{
					c.Bus.Health(ctx),
					c.Memory.Health(ctx),
					c.Registry.Health(ctx),
					c.Autofix.Health(ctx),
					c.Improver.Health(ctx),
					c.Orchestrator.Health(ctx),
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, map[string]any{"diagnostics": diag, "components": components})
				}

				fmt.Fprintf(out, "Health tier: %s\n", diag.Health.Tier)
				fmt.Fprintf(out, "Errors: %d total, %d unresolved, %d auto-fixed\n", diag.Total, diag.Unresolved, diag.AutoFixed)
				for _, p := range diag.TopPatterns {
					fmt.Fprintf(out, "  pattern %-40s x%d\n", p.Key, p.Count)
				}
				for _, h := range components {
					state := "ok"
					if !h.Healthy {
						state = "UNHEALTHY"
					}
					fmt.Fprintf(out, "%-26s %-9s %s\n", h.Name, state, h.Detail)
				}
				return nil
			})
		},
	}

	healthCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return healthCmd
}
