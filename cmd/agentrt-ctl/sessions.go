package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conductor/agentrt/internal/database"
)

// sessionCmd is the parent command for session operations
var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions"},
	Short:   "Browse sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list --conversation <id>",
	Short: "List the sessions of a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		conversationID, _ := cmd.Flags().GetString("conversation")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.Sessions.ListSessions(ctx, conversationID, database.Pagination{Limit: limit, Offset: offset})
		if err != nil {
			return err
		}

		if outputFormat != formatTable {
			return printStructured(sessions)
		}
		printSessions(sessions)
		return nil
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show a session",
	Example: `  # Show the index row
  agentrt-ctl session get 0b6d...

  # Include the stored conversation state
  agentrt-ctl session get 0b6d... --state -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		includeState, _ := cmd.Flags().GetBool("state")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		detail, err := a.Sessions.GetSession(ctx, args[0], includeState)
		if err != nil {
			return err
		}

		if outputFormat != formatTable {
			out := map[string]interface{}{"session": detail.Session}
			if includeState {
				out["state"] = detail.State
			}
			return printStructured(out)
		}

		s := detail.Session
		fmt.Printf("%s\n", Bold("Session"))
		fmt.Printf("  ID:           %s\n", s.ID)
		fmt.Printf("  Conversation: %s\n", s.ConversationID)
		fmt.Printf("  Parent:       %s\n", orDash(s.ParentSessionID))
		fmt.Printf("  Status:       %s\n", colorStatus(string(s.Status)))
		fmt.Printf("  Type:         %s\n", s.SessionType)
		fmt.Printf("  Transport:    %s\n", s.Transport)
		fmt.Printf("  Preset:       %s\n", orDash(s.PresetID))
		fmt.Printf("  Projects:     %s\n", strings.Join(s.ProjectIDs, ", "))
		fmt.Printf("  Created:      %s\n", formatTime(s.CreatedAt))
		fmt.Printf("  Updated:      %s\n", formatTime(s.UpdatedAt))
		if s.RunSummary != nil {
			u := s.RunSummary.Usage
			fmt.Printf("  Duration:     %s\n", (time.Duration(s.RunSummary.DurationMS) * time.Millisecond).String())
			fmt.Printf("  Tokens:       %d (prompt %d, completion %d, %d request(s))\n",
				u.TotalTokens, u.PromptTokens, u.CompletionTokens, u.ModelRequests)
		}
		fmt.Printf("  Input:        %s\n", inputSummary(s.Input))
		fmt.Printf("  Final:        %s\n", orDash(s.FinalMessage))

		if includeState {
			fmt.Println()
			if detail.State == nil {
				fmt.Println(Dim("No stored state."))
				return nil
			}
			fmt.Printf("%s\n", Bold("State"))
			fmt.Printf("  Messages:       %d\n", len(detail.State.Messages))
			fmt.Printf("  Deferred tools: %d\n", len(detail.State.Context.DeferredTools))
			for id, meta := range detail.State.Context.DeferredTools {
				fmt.Printf("    - %s %s (%s)\n", id, meta.ToolName, meta.Kind)
			}
		}
		return nil
	},
}

func init() {
	sessionListCmd.Flags().String("conversation", "", "Conversation id")
	_ = sessionListCmd.MarkFlagRequired("conversation")
	sessionListCmd.Flags().Int("limit", 50, "Maximum number of sessions to list")
	sessionListCmd.Flags().Int("offset", 0, "Number of sessions to skip")
	sessionGetCmd.Flags().Bool("state", false, "Include the stored state")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionGetCmd)
}

func printSessions(sessions []database.Session) {
	if len(sessions) == 0 {
		fmt.Println(Dim("No sessions found."))
		return
	}

	rows := make([][]string, len(sessions))
	for i, s := range sessions {
		parent := "-"
		if s.ParentSessionID != nil {
			parent = truncate(*s.ParentSessionID, 12)
		}
		duration := "-"
		if s.RunSummary != nil {
			duration = (time.Duration(s.RunSummary.DurationMS) * time.Millisecond).String()
		}
		rows[i] = []string{
			s.ID,
			parent,
			colorStatus(string(s.Status)),
			string(s.SessionType),
			duration,
			formatTime(s.CreatedAt),
		}
	}
	printTable([]string{"ID", "PARENT", "STATUS", "TYPE", "DURATION", "CREATED"}, rows)
}
