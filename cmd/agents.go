// File: cmd/agents.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/agent"
	"github.com/braydenmw/bwmetadata-sub003/internal/service"
)

func newAgentsCmd(a *app) *cobra.Command {
	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd.Context(), func(c *service.Components) error {
				out := cmd.OutOrStdout()
				agents := c.Registry.ListAgents()
				if len(agents) == 0 {
					fmt.Fprintln(out, "No agents.")
					return nil
				}
				for _, ag := range agents {
					fmt.Fprintf(out, "%s  %-20s %-10s %v  tasks=%d success=%.2f\n",
						ag.ID, ag.Name, ag.Status, ag.Capabilities, ag.Performance.TasksCompleted, ag.Performance.SuccessRate)
				}
				return nil
			})
		},
	}

	var (
		purpose      string
		capabilities []string
		autonomy     string
		parent       string
	)
	spawnCmd := &cobra.Command{
		Use:   "spawn <name>",
		Short: "Spawn an agent, subject to the spawn policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd.Context(), func(c *service.Components) error {
				ag, err := c.Registry.SpawnAgent(cmd.Context(), agent.SpawnConfig{
					Name:          args[0],
					Purpose:       purpose,
					Capabilities:  capabilities,
					AutonomyLevel: schemas.AutonomyLevel(autonomy),
					ParentAgent:   parent,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Spawned %s (%s)\n", ag.Name, ag.ID)
				return nil
			})
		},
	}
	spawnCmd.Flags().StringVar(&purpose, "purpose", "", "what the agent is for")
	spawnCmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capabilities (repeatable)")
	spawnCmd.Flags().StringVar(&autonomy, "autonomy", string(schemas.AutonomySupervised), "supervised, semi-autonomous or fully-autonomous")
	spawnCmd.Flags().StringVar(&parent, "parent", "", "parent agent id")

	var reason string
	terminateCmd := &cobra.Command{
		Use:   "terminate <id>",
		Short: "Terminate an agent and fail its open tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd.Context(), func(c *service.Components) error {
				if !c.Registry.TerminateAgent(cmd.Context(), args[0], reason) {
					return fmt.Errorf("agent %s not found or already terminated", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Terminated %s\n", args[0])
				return nil
			})
		},
	}
	terminateCmd.Flags().StringVar(&reason, "reason", "manual", "termination reason")

	agentsCmd.AddCommand(listCmd, spawnCmd, terminateCmd)
	return agentsCmd
}
