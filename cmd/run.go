// File: cmd/run.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/internal/service"
)

func newRunCmd(a *app) *cobra.Command {
	var watchLog bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the background research, improvement and maintenance cycles until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("watch-log") {
				a.cfg.AutofixCfg.WatchLog = watchLog
			}
			ctx := cmd.Context()

			return a.withComponents(ctx, func(c *service.Components) error {
				if err := c.StartWatcher(ctx); err != nil {
					return err
				}
				c.Orchestrator.StartBackgroundProcesses(ctx)
				a.logger.Info("bwcore is running. Press Ctrl+C to stop.", zap.Bool("watching_log", c.Watcher != nil))

				<-ctx.Done()
				a.logger.Info("Shutdown signal received.")
				c.Orchestrator.StopBackgroundProcesses()
				return nil
			})
		},
	}

	runCmd.Flags().BoolVar(&watchLog, "watch-log", false, "tail the JSON log file and report failures to the self-fixing engine")
	return runCmd
}
