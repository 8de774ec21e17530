package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration
type Config struct {
	OutputFormat string `yaml:"output_format"`
	DatabaseURL  string `yaml:"database_url,omitempty"`
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentrt", "config.yaml")
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	return &cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// configCmd is the parent command for config operations
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Commands for viewing and managing agentrt-ctl settings.

Runtime settings (database, state store, data root) come from the AGENTRT_*
environment variables; "config show" prints the effective values.`,
}

// configShowCmd shows the current configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = DefaultConfigPath()
		}
		cliCfg, err := LoadConfig(path)
		if err != nil {
			cliCfg = &Config{}
		}

		rt, _, err := loadRuntimeConfig()
		if err != nil {
			return err
		}

		settings := map[string]interface{}{
			"file":             path,
			"output_format":    outputFormat,
			"database_driver":  rt.DatabaseDriver(),
			"state_store":      rt.Storage.Backend,
			"state_store_path": rt.Storage.Path,
			"compression":      rt.Storage.Compression,
			"data_root":        rt.Execution.DataRoot,
			"transport":        rt.Execution.DefaultTransport,
		}
		if outputFormat != formatTable {
			return printStructured(settings)
		}

		fmt.Printf("%s\n", Bold("CLI"))
		fmt.Printf("  Config file:   %s\n", path)
		source := resolveSource(cliCfg.OutputFormat, "", os.Getenv("AGENTRT_OUTPUT"))
		if cmd.Flags().Changed("output") {
			source = "flag"
		}
		fmt.Printf("  Output format: %s %s\n", outputFormat, Dim("("+source+")"))
		fmt.Println()

		fmt.Printf("%s\n", Bold("Runtime"))
		dbSource := resolveSource(cliCfg.DatabaseURL, databaseURL, os.Getenv("AGENTRT_DATABASE_URL"))
		fmt.Printf("  Database:      %s %s\n", rt.DatabaseDriver(), Dim("("+dbSource+")"))
		fmt.Printf("  State store:   %s (%s)\n", rt.Storage.Backend, rt.Storage.Compression)
		if rt.Storage.Backend == "s3" {
			fmt.Printf("  Bucket:        %s\n", rt.Storage.Bucket)
		} else {
			fmt.Printf("  Store path:    %s\n", rt.Storage.Path)
		}
		fmt.Printf("  Data root:     %s\n", rt.Execution.DataRoot)
		fmt.Printf("  Transport:     %s\n", rt.Execution.DefaultTransport)
		return nil
	},
}

// configSetCmd sets a configuration value
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Available keys:
  output_format - Default output format (table, json, yaml)
  database_url  - Database used when AGENTRT_DATABASE_URL is unset`,
	Example: `  agentrt-ctl config set output_format json
  agentrt-ctl config set database_url postgres://agentrt@localhost/agentrt`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		path := configFile
		if path == "" {
			path = DefaultConfigPath()
		}
		cfg, err := LoadConfig(path)
		if err != nil {
			cfg = &Config{}
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := SaveConfig(cfg, path); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		Success(fmt.Sprintf("Set %s = %s", Bold(key), value))
		return nil
	},
}

// configPathCmd shows the config file path
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = DefaultConfigPath()
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

func setConfigValue(cfg *Config, key, value string) error {
	switch strings.ToLower(key) {
	case "output_format", "output":
		if !validFormat(value) {
			return fmt.Errorf("invalid output format: %s (must be table, json or yaml)", value)
		}
		cfg.OutputFormat = value
		return nil
	case "database_url", "database":
		if value != "" && !strings.HasPrefix(value, "postgres") && !strings.HasPrefix(value, "sqlite://") && !strings.HasPrefix(value, "file:") {
			return fmt.Errorf("invalid database url: %s", value)
		}
		cfg.DatabaseURL = value
		return nil
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
}

// resolveConfigValue returns the first non-empty value from the given options
func resolveConfigValue(configValue, flagValue, envValue, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue != "" {
		return envValue
	}
	if configValue != "" {
		return configValue
	}
	return defaultValue
}

// resolveSource returns the source of the configuration value
func resolveSource(configValue, flagValue, envValue string) string {
	if flagValue != "" {
		return "flag"
	}
	if envValue != "" {
		return "env"
	}
	if configValue != "" {
		return "config"
	}
	return "default"
}
