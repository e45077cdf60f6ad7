package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"go.goms.io/aio/lifecycle/pkg/config"
	"go.goms.io/aio/lifecycle/pkg/logger"
)

var (
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "aio-lifecycle",
		Short:         "Azure IoT Operations lifecycle manager",
		Long:          "Clone, upgrade and configure secret sync for Azure IoT Operations instances on Arc-connected clusters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add global flags for configuration
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration JSON file (required)")

	// Add commands
	rootCmd.AddCommand(NewCloneCommand())
	rootCmd.AddCommand(NewUpgradeCommand())
	rootCmd.AddCommand(NewSecretSyncCommand())
	rootCmd.AddCommand(NewTargetsCommand())
	rootCmd.AddCommand(NewVersionCommand())

	// Set up context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Set up persistent pre-run to initialize config and logger
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version and targets work offline
		if cmd.Name() == "version" || cmd.Name() == "targets" {
			cmd.SetContext(logger.SetupLogger(cmd.Context(), "info", ""))
			return nil
		}

		if configPath == "" {
			return fmt.Errorf("config path is required for %s command", cmd.Name())
		}

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}

		// Setup logger and update context
		ctx := logger.SetupLogger(cmd.Context(), cfg.Agent.LogLevel, cfg.Agent.LogDir)
		cmd.SetContext(ctx)
		return nil
	}

	// Execute command with context
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		os.Exit(exitCode(err))
	}
}
