package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conductor/agentrt/internal/app"
	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/execution"
	"github.com/conductor/agentrt/internal/execution/echo"
)

// runCmd executes one turn end to end
var runCmd = &cobra.Command{
	Use:   "run [flags] <text...>",
	Short: "Run a session with the echo runtime",
	Long: `Create a session and execute it through the full pipeline: config
resolution, session index, project directories, input mapping, the live
registry and commit. The echo runtime replies with the prompt.

A prompt line "!approve <tool>" or "!call <tool>" makes the run stop on a
deferred tool call; answer it in a continuation with --approve, --deny or
--result.`,
	Example: `  # Start a conversation
  agentrt-ctl run --preset default "hello there"

  # Continue it
  agentrt-ctl run --parent <session-id> "and again"

  # Fork it into a new conversation
  agentrt-ctl run --parent <session-id> --fork "what if"

  # Answer a deferred approval
  agentrt-ctl run --parent <session-id> --approve <call-id>=looks-good "go on"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRunRequest(cmd, args)
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		// Events are delivered asynchronously; completed closes once the
		// last one has been printed.
		var (
			mu        sync.Mutex
			streamed  bool
			completed = make(chan struct{})
		)
		if outputFormat == formatTable {
			req.Sink = execution.EventSinkFunc(func(_ context.Context, ev execution.Event) error {
				mu.Lock()
				defer mu.Unlock()
				switch ev.Type {
				case echo.EventTextDelta:
					var delta struct {
						Text string `json:"text"`
					}
					if err := json.Unmarshal(ev.Data, &delta); err == nil {
						if streamed {
							fmt.Print(" ")
						}
						fmt.Print(delta.Text)
						streamed = true
					}
				case echo.EventRunCompleted:
					close(completed)
				}
				return nil
			})
		}

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		type runResult struct {
			res *execution.Result
			err error
		}
		done := make(chan runResult, 1)
		go func() {
			res, err := a.Run(ctx, req)
			done <- runResult{res, err}
		}()

		var out runResult
		select {
		case out = <-done:
		case <-sigCh:
			Warning("shutting down: waiting for the turn to finish, press Ctrl-C again to interrupt it")
			drainCtx, cancel := context.WithCancel(ctx)
			go func() {
				select {
				case <-sigCh:
					cancel()
				case <-drainCtx.Done():
				}
			}()
			a.Drain(drainCtx)
			cancel()

			select {
			case out = <-done:
			case <-time.After(a.Config.Server.ForceInterruptWait):
				return errors.New("session did not stop after interrupt")
			}
		}
		res, err := out.res, out.err
		if err != nil {
			return err
		}
		switch res.Outcome.(type) {
		case *execution.Completed, *execution.AwaitingToolResults:
			if req.Sink != nil {
				select {
				case <-completed:
				case <-time.After(2 * time.Second):
				}
			}
		}

		mu.Lock()
		if streamed {
			fmt.Println()
		}
		mu.Unlock()
		return printRunResult(res)
	},
}

func init() {
	runCmd.Flags().String("preset", "", "Preset id (default: the parent's preset, then the default preset)")
	runCmd.Flags().String("workspace", "", "Workspace id supplying the project list")
	runCmd.Flags().StringSlice("project", nil, "Project id, repeatable; the first is the default project")
	runCmd.Flags().String("parent", "", "Parent session id to continue from")
	runCmd.Flags().Bool("fork", false, "Start a new conversation from the parent")
	runCmd.Flags().String("fork-conversation", "", "Conversation id for the fork (default: generated)")
	runCmd.Flags().String("session-id", "", "Session id (default: generated)")
	runCmd.Flags().String("transport", "", "Event transport: sse or stream")
	runCmd.Flags().StringArray("approve", nil, "Approve a deferred call: <call-id>[=message]")
	runCmd.Flags().StringArray("deny", nil, "Deny a deferred call: <call-id>[=message]")
	runCmd.Flags().StringArray("result", nil, "Tool result for a deferred call: <call-id>=<output>")
	runCmd.Flags().StringArray("url", nil, "Attach a URL, downloaded into the default project")
	runCmd.Flags().StringArray("file", nil, "Reference a file in the default project")
	runCmd.Flags().Bool("inline", false, "Pass --url and --file content to the model instead of the project")
}

func buildRunRequest(cmd *cobra.Command, args []string) (app.RunRequest, error) {
	flags := cmd.Flags()
	preset, _ := flags.GetString("preset")
	workspace, _ := flags.GetString("workspace")
	parent, _ := flags.GetString("parent")
	fork, _ := flags.GetBool("fork")
	forkConv, _ := flags.GetString("fork-conversation")
	sessionID, _ := flags.GetString("session-id")
	transport, _ := flags.GetString("transport")
	approvals, _ := flags.GetStringArray("approve")
	denials, _ := flags.GetStringArray("deny")
	results, _ := flags.GetStringArray("result")
	urls, _ := flags.GetStringArray("url")
	files, _ := flags.GetStringArray("file")
	inline, _ := flags.GetBool("inline")

	req := app.RunRequest{
		SessionID:          sessionID,
		ParentSessionID:    parent,
		Fork:               fork,
		ForkConversationID: forkConv,
		PresetID:           preset,
		WorkspaceID:        workspace,
		Transport:          database.Transport(transport),
	}
	if fork && parent == "" {
		return req, errors.New("--fork requires --parent")
	}
	if flags.Changed("project") {
		req.ProjectIDs, _ = flags.GetStringSlice("project")
	}

	mode := database.ContentModeFile
	if inline {
		mode = database.ContentModeInline
	}
	if text := strings.Join(args, " "); text != "" {
		req.Input = append(req.Input, database.InputPart{Type: database.InputPartText, Text: text})
	}
	for _, u := range urls {
		req.Input = append(req.Input, database.InputPart{Type: database.InputPartURL, URL: u, Mode: mode})
	}
	for _, f := range files {
		req.Input = append(req.Input, database.InputPart{Type: database.InputPartFile, Path: f, Mode: mode})
	}
	if len(req.Input) == 0 {
		return req, errors.New("no input: pass text arguments, --url or --file")
	}

	for _, v := range approvals {
		id, msg, _ := strings.Cut(v, "=")
		req.Interactions = append(req.Interactions, execution.UserInteraction{ToolCallID: id, Approved: true, Message: msg})
	}
	for _, v := range denials {
		id, msg, _ := strings.Cut(v, "=")
		req.Interactions = append(req.Interactions, execution.UserInteraction{ToolCallID: id, Approved: false, Message: msg})
	}
	for _, v := range results {
		id, out, ok := strings.Cut(v, "=")
		if !ok {
			return req, fmt.Errorf("invalid --result %q: want <call-id>=<output>", v)
		}
		req.ToolResults = append(req.ToolResults, execution.ToolResult{ToolCallID: id, Output: out})
	}
	return req, nil
}

func printRunResult(res *execution.Result) error {
	outcome := execution.OutcomeName(res.Outcome)

	if outputFormat != formatTable {
		out := map[string]interface{}{
			"session_id":      res.SessionID,
			"conversation_id": res.ConversationID,
			"outcome":         outcome,
			"status":          res.Outcome.Status(),
			"run_summary":     res.Summary,
		}
		switch o := res.Outcome.(type) {
		case *execution.Completed:
			out["final_message"] = o.FinalMessage
		case *execution.AwaitingToolResults:
			out["deferred"] = o.Requests
		case *execution.Interrupted:
			out["committed"] = o.Committed
		case *execution.Failed:
			out["error"] = o.Err.Error()
		}
		return printStructured(out)
	}

	fmt.Println()
	fmt.Printf("  Session:      %s\n", res.SessionID)
	fmt.Printf("  Conversation: %s\n", res.ConversationID)
	fmt.Printf("  Outcome:      %s\n", colorStatus(string(res.Outcome.Status())))
	fmt.Printf("  Tokens:       %d\n", res.Summary.Usage.TotalTokens)

	switch o := res.Outcome.(type) {
	case *execution.AwaitingToolResults:
		fmt.Printf("\n%s\n", Bold("Waiting on"))
		for _, c := range o.Requests.Approvals {
			fmt.Printf("  approve  %s  %s\n", c.ToolCallID, c.ToolName)
		}
		for _, c := range o.Requests.Calls {
			fmt.Printf("  result   %s  %s\n", c.ToolCallID, c.ToolName)
		}
	case *execution.Interrupted:
		Warning(fmt.Sprintf("interrupted (state saved: %t)", o.Committed))
	case *execution.Failed:
		return fmt.Errorf("session %s failed: %w", res.SessionID, o.Err)
	}
	return nil
}
