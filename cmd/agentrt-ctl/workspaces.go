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

// workspaceCmd is the parent command for workspace operations
var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"workspaces", "ws"},
	Short:   "Manage workspaces",
	Long:    `Commands for creating, viewing and deleting named project lists.`,
}

var workspaceApplyCmd = &cobra.Command{
	Use:   "apply -f <file>",
	Short: "Create or replace workspaces from YAML",
	Example: `  agentrt-ctl workspace apply -f workspaces.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		file, _ := cmd.Flags().GetString("file")
		workspaces, err := readManifests[database.Workspace](file)
		if err != nil {
			return fmt.Errorf("failed to read workspaces: %w", err)
		}
		if len(workspaces) == 0 {
			return errors.New("no workspaces found in input")
		}
		for _, w := range workspaces {
			if w.ID == "" {
				return errors.New("workspace_id is required")
			}
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		repo := a.DB.Repos.Workspaces
		for i := range workspaces {
			w := &workspaces[i]
			verb := "updated"
			_, err := repo.Get(ctx, w.ID)
			switch {
			case database.IsNotFound(err):
				verb = "created"
				err = repo.Create(ctx, w)
			case err == nil:
				err = repo.Update(ctx, w)
			}
			if err != nil {
				return fmt.Errorf("failed to apply workspace %s: %w", w.ID, err)
			}
			Success(fmt.Sprintf("workspace %s %s", Bold(w.ID), verb))
		}
		return nil
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		limit, _ := cmd.Flags().GetInt("limit")
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		workspaces, err := a.DB.Repos.Workspaces.List(ctx, database.Pagination{Limit: limit})
		if err != nil {
			return fmt.Errorf("failed to list workspaces: %w", err)
		}

		if outputFormat != formatTable {
			return printStructured(workspaces)
		}
		if len(workspaces) == 0 {
			fmt.Println(Dim("No workspaces found."))
			return nil
		}

		rows := make([][]string, len(workspaces))
		for i, w := range workspaces {
			rows[i] = []string{w.ID, orDash(w.Name), truncate(strings.Join(w.ProjectIDs, ","), 48), formatTime(w.UpdatedAt)}
		}
		printTable([]string{"ID", "NAME", "PROJECTS", "UPDATED"}, rows)
		return nil
	},
}

var workspaceGetCmd = &cobra.Command{
	Use:   "get <workspace-id>",
	Short: "Show a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := a.DB.Repos.Workspaces.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get workspace: %w", err)
		}

		if outputFormat != formatTable {
			return printStructured(w)
		}

		fmt.Printf("%s\n", Bold("Workspace"))
		fmt.Printf("  ID:       %s\n", w.ID)
		fmt.Printf("  Name:     %s\n", orDash(w.Name))
		fmt.Printf("  Updated:  %s\n", formatTime(w.UpdatedAt))
		fmt.Printf("  Projects:\n")
		for i, p := range w.ProjectIDs {
			marker := ""
			if i == 0 {
				marker = Dim(" (default)")
			}
			fmt.Printf("    - %s%s\n", p, marker)
		}
		return nil
	},
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete <workspace-id>",
	Short: "Delete a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DB.Repos.Workspaces.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete workspace: %w", err)
		}
		Success(fmt.Sprintf("workspace %s deleted", Bold(args[0])))
		return nil
	},
}

func init() {
	workspaceApplyCmd.Flags().StringP("file", "f", "", "YAML file with workspaces, - for stdin")
	_ = workspaceApplyCmd.MarkFlagRequired("file")
	workspaceListCmd.Flags().Int("limit", 50, "Maximum number of workspaces to list")

	workspaceCmd.AddCommand(workspaceApplyCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceGetCmd)
	workspaceCmd.AddCommand(workspaceDeleteCmd)
}
