package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conductor/agentrt/internal/database"
)

// conversationCmd is the parent command for conversation operations
var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conversations", "conv"},
	Short:   "Browse conversations",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		convs, err := a.Sessions.ListConversations(ctx, database.Pagination{Limit: limit, Offset: offset})
		if err != nil {
			return err
		}

		if outputFormat != formatTable {
			return printStructured(convs)
		}
		if len(convs) == 0 {
			fmt.Println(Dim("No conversations found."))
			return nil
		}

		rows := make([][]string, len(convs))
		for i, c := range convs {
			rows[i] = []string{c.ID, truncate(orDash(c.Title), 40), orDash(c.DefaultPresetID), string(c.Status), formatTime(c.UpdatedAt)}
		}
		printTable([]string{"ID", "TITLE", "PRESET", "STATUS", "UPDATED"}, rows)
		return nil
	},
}

var conversationGetCmd = &cobra.Command{
	Use:   "get <conversation-id>",
	Short: "Show a conversation and its sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var (
			conv     *database.Conversation
			sessions []database.Session
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			conv, err = a.Sessions.GetConversation(gctx, args[0])
			return err
		})
		g.Go(func() error {
			var err error
			sessions, err = a.Sessions.ListSessions(gctx, args[0], database.Pagination{Limit: 500})
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}

		if outputFormat != formatTable {
			return printStructured(map[string]interface{}{
				"conversation": conv,
				"sessions":     sessions,
			})
		}

		fmt.Printf("%s\n", Bold("Conversation"))
		fmt.Printf("  ID:       %s\n", conv.ID)
		fmt.Printf("  Title:    %s\n", orDash(conv.Title))
		fmt.Printf("  Preset:   %s\n", orDash(conv.DefaultPresetID))
		fmt.Printf("  Status:   %s\n", conv.Status)
		fmt.Printf("  Created:  %s\n", formatTime(conv.CreatedAt))
		fmt.Printf("  Updated:  %s\n", formatTime(conv.UpdatedAt))
		fmt.Println()
		printSessions(sessions)
		return nil
	},
}

var conversationTurnsCmd = &cobra.Command{
	Use:   "turns <conversation-id>",
	Short: "Show the committed turns of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		turns, err := a.Sessions.GetConversationTurns(ctx, args[0])
		if err != nil {
			return err
		}

		if outputFormat != formatTable {
			return printStructured(turns)
		}
		if len(turns) == 0 {
			fmt.Println(Dim("No turns yet."))
			return nil
		}

		for _, t := range turns {
			fmt.Printf("%s %s %s\n", Bold(t.SessionID), colorStatus(string(t.Status)), Dim(formatTime(t.CreatedAt)))
			fmt.Printf("  %s %s\n", Cyan("user:"), inputSummary(t.Input))
			fmt.Printf("  %s %s\n\n", Cyan("agent:"), orDash(t.FinalMessage))
		}
		return nil
	},
}

func init() {
	conversationListCmd.Flags().Int("limit", 50, "Maximum number of conversations to list")
	conversationListCmd.Flags().Int("offset", 0, "Number of conversations to skip")

	conversationCmd.AddCommand(conversationListCmd)
	conversationCmd.AddCommand(conversationGetCmd)
	conversationCmd.AddCommand(conversationTurnsCmd)
}

// inputSummary renders input parts on one line.
func inputSummary(parts []database.InputPart) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case database.InputPartText:
			out = append(out, p.Text)
		case database.InputPartURL:
			out = append(out, "[url "+p.URL+"]")
		case database.InputPartFile:
			out = append(out, "[file "+p.Path+"]")
		case database.InputPartBinary:
			out = append(out, "[binary "+p.MIME+"]")
		}
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, " ")
}
