package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conductor/agentrt/internal/config"
	"github.com/conductor/agentrt/internal/database"
)

// migrateCmd is the parent command for schema migrations
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Apply, roll back and inspect the embedded PostgreSQL migrations.

SQLite databases create their schema when opened and need no migrations.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		return withMigrator(ctx, func(m *database.Migrator) error {
			n, err := m.Up(ctx)
			if err != nil {
				return err
			}
			Success(fmt.Sprintf("Applied %d migration(s)", n))
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back applied migrations",
	Example: `  # Roll back the latest migration
  agentrt-ctl migrate down

  # Roll back the latest three
  agentrt-ctl migrate down --steps 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		steps, _ := cmd.Flags().GetInt("steps")
		if steps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}

		return withMigrator(ctx, func(m *database.Migrator) error {
			n, err := m.Down(ctx, steps)
			if err != nil {
				return err
			}
			Success(fmt.Sprintf("Rolled back %d migration(s)", n))
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		return withMigrator(ctx, func(m *database.Migrator) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return err
			}

			if outputFormat != formatTable {
				out := make([]map[string]interface{}, len(statuses))
				for i, s := range statuses {
					out[i] = map[string]interface{}{
						"version":    s.Version,
						"name":       s.Name,
						"applied":    s.Applied,
						"applied_at": s.AppliedAt,
					}
				}
				return printStructured(out)
			}

			rows := make([][]string, len(statuses))
			for i, s := range statuses {
				applied := Yellow("pending")
				at := "-"
				if s.Applied {
					applied = Green("applied")
					at = formatTime(*s.AppliedAt)
				}
				rows[i] = []string{s.Version, s.Name, applied, at}
			}
			printTable([]string{"VERSION", "NAME", "STATUS", "APPLIED"}, rows)
			return nil
		})
	},
}

func init() {
	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

// withMigrator connects to PostgreSQL and runs fn with a Migrator.
func withMigrator(ctx context.Context, fn func(m *database.Migrator) error) error {
	cfg, _, err := loadRuntimeConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseDriver() != config.DriverPostgres {
		Warning("SQLite schemas are created automatically; nothing to migrate")
		return nil
	}

	db, err := database.New(ctx, database.Config{
		URL:             cfg.Database.URL,
		MaxConns:        2,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	m, err := database.NewMigrator(db)
	if err != nil {
		return err
	}
	return fn(m)
}
