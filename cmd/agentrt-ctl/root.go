package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/conductor/agentrt/internal/app"
	"github.com/conductor/agentrt/internal/config"
	"github.com/conductor/agentrt/internal/execution/echo"
	"github.com/conductor/agentrt/pkg/log"
)

// Build information (set from main.go)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Global flags
var (
	outputFormat string
	noColor      bool
	verbose      bool
	configFile   string
	databaseURL  string

	cliConfig = &Config{}
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "agentrt-ctl",
	Short: "Admin tool for the agentrt session runtime",
	Long: `agentrt-ctl administers an agentrt installation directly against its
database and state store.

It provides commands for managing:
  - Schema: apply and roll back PostgreSQL migrations
  - Presets and workspaces: apply from YAML, list, inspect, delete
  - Conversations and sessions: browse history and stored state
  - Runs: execute a turn end to end with the echo runtime

The database and state store are configured with the same AGENTRT_*
environment variables as the daemon.

Environment variables:
  AGENTRT_OUTPUT        Output format: table, json, yaml (default: table)
  AGENTRT_CTL_CONFIG    Config file path (default: ~/.agentrt/config.yaml)
  AGENTRT_DATABASE_URL  Database URL (overrides database_url in the config file)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		InitColor(!noColor)

		if configFile == "" {
			configFile = os.Getenv("AGENTRT_CTL_CONFIG")
		}
		cfg, err := LoadConfig(configFile)
		if err != nil {
			// Config file not found is OK, we'll use defaults/flags
			cfg = &Config{}
		}
		cliConfig = cfg

		// Resolve output format (flag > env > config > default)
		outputFormat = resolveConfigValue(cfg.OutputFormat, outputFormat, os.Getenv("AGENTRT_OUTPUT"), formatTable)
		if !validFormat(outputFormat) {
			return fmt.Errorf("invalid output format: %s (must be table, json or yaml)", outputFormat)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version, commit hash, and build time of agentrt-ctl.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
			"go_version": runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		}
		if outputFormat != formatTable {
			return printStructured(info)
		}

		fmt.Printf("%s\n", Bold("agentrt-ctl"))
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Commit:     %s\n", Commit)
		fmt.Printf("  Built:      %s\n", BuildTime)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: table, json, yaml (default: table)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log runtime activity to stderr")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ~/.agentrt/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Database URL (default: $AGENTRT_DATABASE_URL, then the config file)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(presetCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(conversationCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)
}

// loadRuntimeConfig reads the AGENTRT_* configuration shared with the daemon.
func loadRuntimeConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if url := resolveConfigValue(cliConfig.DatabaseURL, databaseURL, os.Getenv("AGENTRT_DATABASE_URL"), ""); url != "" {
		cfg.Database.URL = url
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := log.New(log.Config{Level: level, Format: "console"}).With("service", "agentrt-ctl")
	return cfg, logger, nil
}

// openApp wires the runtime with the echo agent.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, logger, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger, nil, echo.New(echo.Options{}, logger))
}
