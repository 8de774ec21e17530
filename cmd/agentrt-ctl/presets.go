package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conductor/agentrt/internal/database"
)

// presetCmd is the parent command for preset operations
var presetCmd = &cobra.Command{
	Use:     "preset",
	Aliases: []string{"presets"},
	Short:   "Manage presets",
	Long:    `Commands for creating, viewing and deleting execution presets.`,
}

var presetApplyCmd = &cobra.Command{
	Use:   "apply -f <file>",
	Short: "Create or replace presets from YAML",
	Long: `Create or replace presets from a YAML file.

A file may hold several documents, each one preset or a list of presets.
Existing presets with the same preset_id are replaced.`,
	Example: `  agentrt-ctl preset apply -f presets.yaml
  cat preset.yaml | agentrt-ctl preset apply -f -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		file, _ := cmd.Flags().GetString("file")
		presets, err := readManifests[database.Preset](file)
		if err != nil {
			return fmt.Errorf("failed to read presets: %w", err)
		}
		if len(presets) == 0 {
			return errors.New("no presets found in input")
		}
		for i := range presets {
			if err := normalizePreset(&presets[i]); err != nil {
				return err
			}
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		repo := a.DB.Repos.Presets
		for i := range presets {
			p := &presets[i]
			verb := "updated"
			_, err := repo.Get(ctx, p.ID)
			switch {
			case database.IsNotFound(err):
				verb = "created"
				err = repo.Create(ctx, p)
			case err == nil:
				err = repo.Update(ctx, p)
			}
			if err != nil {
				return fmt.Errorf("failed to apply preset %s: %w", p.ID, err)
			}
			Success(fmt.Sprintf("preset %s %s", Bold(p.ID), verb))
		}
		return nil
	},
}

var presetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		limit, _ := cmd.Flags().GetInt("limit")
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		presets, err := a.DB.Repos.Presets.List(ctx, database.Pagination{Limit: limit})
		if err != nil {
			return fmt.Errorf("failed to list presets: %w", err)
		}

		if outputFormat != formatTable {
			return printStructured(presets)
		}
		if len(presets) == 0 {
			fmt.Println(Dim("No presets found."))
			return nil
		}

		rows := make([][]string, len(presets))
		for i, p := range presets {
			def := ""
			if p.IsDefault {
				def = Green("*")
			}
			rows[i] = []string{p.ID, p.Name, p.Model.Name, string(p.Environment.ShellMode), def, formatTime(p.UpdatedAt)}
		}
		printTable([]string{"ID", "NAME", "MODEL", "SHELL", "DEFAULT", "UPDATED"}, rows)
		return nil
	},
}

var presetGetCmd = &cobra.Command{
	Use:   "get <preset-id>",
	Short: "Show a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.DB.Repos.Presets.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get preset: %w", err)
		}

		if outputFormat != formatTable {
			return printStructured(p)
		}

		fmt.Printf("%s\n", Bold("Preset"))
		fmt.Printf("  ID:          %s\n", p.ID)
		fmt.Printf("  Name:        %s\n", p.Name)
		fmt.Printf("  Description: %s\n", orDash(p.Description))
		fmt.Printf("  Default:     %t\n", p.IsDefault)
		fmt.Printf("  Model:       %s\n", p.Model.Name)
		fmt.Printf("  Shell:       %s\n", p.Environment.ShellMode)
		if p.Environment.ContainerID != nil {
			fmt.Printf("  Container:   %s\n", *p.Environment.ContainerID)
		}
		if p.Environment.WorkspaceID != nil {
			fmt.Printf("  Workspace:   %s\n", *p.Environment.WorkspaceID)
		}
		if p.Environment.ProjectIDs != nil {
			fmt.Printf("  Projects:    %s\n", strings.Join(p.Environment.ProjectIDs, ", "))
		}
		toolsets := make([]string, 0, len(p.Toolsets))
		for _, t := range p.Toolsets {
			if t.Enabled {
				toolsets = append(toolsets, t.Name)
			}
		}
		fmt.Printf("  Toolsets:    %s\n", strings.Join(toolsets, ", "))
		fmt.Printf("  Updated:     %s\n", formatTime(p.UpdatedAt))
		fmt.Printf("\n%s\n%s\n", Bold("System prompt"), p.SystemPrompt)
		return nil
	},
}

var presetDeleteCmd = &cobra.Command{
	Use:   "delete <preset-id>",
	Short: "Delete a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DB.Repos.Presets.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete preset: %w", err)
		}
		Success(fmt.Sprintf("preset %s deleted", Bold(args[0])))
		return nil
	},
}

func init() {
	presetApplyCmd.Flags().StringP("file", "f", "", "YAML file with presets, - for stdin")
	_ = presetApplyCmd.MarkFlagRequired("file")
	presetListCmd.Flags().Int("limit", 50, "Maximum number of presets to list")

	presetCmd.AddCommand(presetApplyCmd)
	presetCmd.AddCommand(presetListCmd)
	presetCmd.AddCommand(presetGetCmd)
	presetCmd.AddCommand(presetDeleteCmd)
}

// normalizePreset fills defaults and rejects presets that can never resolve.
func normalizePreset(p *database.Preset) error {
	if p.ID == "" {
		return errors.New("preset_id is required")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Environment.ShellMode == "" {
		p.Environment.ShellMode = database.ShellModeLocal
	}
	if !p.Environment.ShellMode.Valid() {
		return fmt.Errorf("preset %s: invalid shell_mode %q", p.ID, p.Environment.ShellMode)
	}
	if p.Environment.ShellMode == database.ShellModeDocker && p.Environment.ContainerID == nil {
		return fmt.Errorf("preset %s: docker shell_mode requires container_id", p.ID)
	}
	if p.Environment.WorkspaceID != nil && p.Environment.ProjectIDs != nil {
		return fmt.Errorf("preset %s: workspace_id and project_ids are mutually exclusive", p.ID)
	}
	return nil
}
