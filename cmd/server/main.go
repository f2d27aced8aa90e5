// Package main is the entry point for the chart export service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/onyxcharts/export-service/internal/config"
	"github.com/onyxcharts/export-service/internal/lifecycle"
	"github.com/onyxcharts/export-service/internal/obslog"
	"github.com/onyxcharts/export-service/internal/telemetry"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "export-service",
	Short:   "Headless chart rasterization service",
	Version: fmt.Sprintf("%s (commit: %s)", version, gitCommit),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a config file (yaml/json/toml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(printConfigCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the export gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger := obslog.New(cfg.Logging)
		slog.SetDefault(logger)

		ctx := context.Background()
		app, err := lifecycle.Boot(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("boot: %w", err)
		}

		app.EnableTelemetry(telemetry.Config{})
		app.Serve()

		return app.WaitForSignal()
	},
}

// printConfigCmd is a debug subcommand: load config and print the
// sanitized struct as YAML.
var printConfigCmd = &cobra.Command{
	Use:   "print-config",
	Short: "Load configuration and print it as YAML, with secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		redacted := *cfg
		if redacted.Server.AdminToken != "" {
			redacted.Server.AdminToken = "***"
		}

		out, err := yaml.Marshal(redacted)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}

		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}
