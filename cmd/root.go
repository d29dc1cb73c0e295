// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/braydenmw/bwmetadata-sub003/internal/config"
	"github.com/braydenmw/bwmetadata-sub003/internal/observability"
	"github.com/braydenmw/bwmetadata-sub003/internal/service"
)

const envPrefix = "BWCORE"

// app carries what the root command resolves for its subcommands.
type app struct {
	factory service.ComponentFactory
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

// NewRootCommand builds a fresh command tree backed by the production factory.
func NewRootCommand() *cobra.Command {
	return newRootCommand(service.NewComponentFactory())
}

func newRootCommand(factory service.ComponentFactory) *cobra.Command {
	a := &app{factory: factory}

	rootCmd := &cobra.Command{
		Use:           "bwcore",
		Short:         "bwcore runs the autonomous analysis orchestration core.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, a.cfgFile); err != nil {
				basicLogger, _ := zap.NewDevelopment()
				defer basicLogger.Sync()
				basicLogger.Error("Failed to initialize configuration", zap.Error(err))
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			a.cfg = cfg

			observability.InitializeLogger(cfg.Logger())
			a.logger = observability.GetLogger()
			a.logger.Debug("Starting bwcore", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./bwcore.yaml or ~/.bwcore/bwcore.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newAnalyzeCmd(a),
		newRunCmd(a),
		newHealthCmd(a),
		newMemoryCmd(a),
		newAgentsCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig reads the config file, if any, and binds BWCORE_* env vars.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bwcore"))
		}
		v.SetConfigName("bwcore")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// withComponents builds the core, runs fn and closes everything afterwards.
func (a *app) withComponents(ctx context.Context, fn func(c *service.Components) error) error {
	c, err := a.factory.Create(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
