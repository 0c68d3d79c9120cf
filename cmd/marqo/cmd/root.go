// Package cmd provides the CLI commands for the marqo admin tool.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eltociear/marqo/internal/config"
	"github.com/eltociear/marqo/internal/logging"
	"github.com/eltociear/marqo/internal/vespa"
	"github.com/eltociear/marqo/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()

	cfg *config.Config
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marqo",
		Short: "Admin tool for the Marqo index-and-query core",
		Long: `marqo manages the backend application package: bootstrap and
upgrade, index schema add and remove, and settings inspection.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}

			logCfg := logging.DefaultConfig()
			logCfg.Level = cfg.Logging.Level
			logCfg.FilePath = cfg.Logging.FilePath
			if debugMode {
				logCfg.Level = "debug"
			}
			cleanup, err := logging.SetupDefault(logCfg)
			if err != nil {
				return err
			}
			loggingCleanup = cleanup
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if loggingCleanup != nil {
				loggingCleanup()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "marqo.yaml", "path to the configuration file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	cmd.AddCommand(newBootstrapCmd())
	cmd.AddCommand(newIndexCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func newVespaClient() *vespa.Client {
	return vespa.NewClient(
		cfg.Vespa.ConfigURL, cfg.Vespa.DocumentURL, cfg.Vespa.QueryURL, cfg.Vespa.PoolSize)
}
