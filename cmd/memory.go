// File: cmd/memory.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/braydenmw/bwmetadata-sub003/api/schemas"
	"github.com/braydenmw/bwmetadata-sub003/internal/service"
)

func newMemoryCmd(a *app) *cobra.Command {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect long-term memory",
	}

	var limit int
	recallCmd := &cobra.Command{
		Use:   "recall <category>",
		Short: "List the newest entries of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd.Context(), func(c *service.Components) error {
				return printEntries(cmd.OutOrStdout(), c.Memory.Recall(args[0], limit))
			})
		},
	}
	recallCmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of entries")

	var category string
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memory entries by substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd.Context(), func(c *service.Components) error {
				return printEntries(cmd.OutOrStdout(), c.Memory.SearchMemory(args[0], category))
			})
		},
	}
	searchCmd.Flags().StringVar(&category, "category", "", "restrict the search to one category")

	memoryCmd.AddCommand(recallCmd, searchCmd)
	return memoryCmd
}

func printEntries(w io.Writer, entries []schemas.MemoryEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No entries.")
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  [%s] %s (confidence %.2f)\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Category, e.Action, e.Confidence)
		for _, l := range e.LessonsLearned {
			fmt.Fprintf(w, "    lesson: %s\n", l)
		}
	}
	return nil
}
