package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/skyquery/internal/config"
	"github.com/yairfalse/skyquery/internal/telemetry"
)

var (
	version = "0.1.0"

	cfgPath     string
	flagProfile string
	flagRegion  string
	flagModel   string
	flagDebug   bool

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "skyquery",
		Short: "Natural language questions over your AWS inventory",
		Long: `Skyquery - Natural language questions over your AWS inventory

Skyquery collects resource metadata from your AWS account, answers common
questions (security groups, VPC layout, cost tiers, compliance, unused
resources) deterministically, and sends everything else to a language
model with the collected inventory as context.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Skyquery {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgPath, "config", "c", config.DefaultPath(), "Config file path")
	flags.StringVarP(&flagProfile, "profile", "p", "", "AWS credential profile (overrides config)")
	flags.StringVarP(&flagRegion, "region", "r", "", "AWS region (overrides config)")
	flags.StringVarP(&flagModel, "model", "m", "", "Model identifier (overrides config)")
	flags.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}

// loadConfig reads the config file, applies flag overrides and installs the
// global logger.
func loadConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return err
	}
	if flagProfile != "" {
		loaded.AWS.Profile = flagProfile
	}
	if flagRegion != "" {
		loaded.AWS.Region = flagRegion
	}
	if flagModel != "" {
		loaded.Model.ID = flagModel
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	telemetry.SetupLogging(loaded.OTEL.ServiceName, loaded.Log.Level, flagDebug)
	cfg = loaded
	return nil
}
