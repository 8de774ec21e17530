// Package echo is an agent runtime that answers every prompt by repeating
// it. It drives the full execution pipeline without a model, for the admin
// CLI and tests.
//
// A prompt line of the form "!approve <tool>" or "!call <tool>" makes the
// run stop on a deferred tool call of that kind.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/execution"
	"github.com/conductor/agentrt/internal/statestore"
	"github.com/conductor/agentrt/pkg/log"
)

// Event types emitted by an echo run.
const (
	EventRunStarted   = "run_started"
	EventTextDelta    = "text_delta"
	EventToolDeferred = "tool_deferred"
	EventRunCompleted = "run_completed"
)

// Options tunes an echo Runtime.
type Options struct {
	// Delay is slept before each text delta.
	Delay time.Duration
}

// Runtime implements execution.Runtime.
type Runtime struct {
	opts   Options
	logger log.Logger
}

// New creates an echo Runtime.
func New(opts Options, logger log.Logger) *Runtime {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Runtime{opts: opts, logger: logger.With("component", "echo_runtime")}
}

type contextData struct {
	Turns int `json:"turns"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Start begins an echo run.
func (r *Runtime) Start(ctx context.Context, req execution.RunRequest) (execution.Run, error) {
	if req.Prompt == nil {
		return nil, fmt.Errorf("echo runtime requires a prompt")
	}

	turns := 0
	if req.Parent != nil && len(req.Parent.Context.Data) > 0 {
		var data contextData
		if err := json.Unmarshal(req.Parent.Context.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to restore context: %w", err)
		}
		turns = data.Turns
	}

	text, deferred := compose(req)
	run := &run{
		req:       req,
		turns:     turns + 1,
		text:      text,
		deferred:  deferred,
		events:    make(chan execution.Event),
		interrupt: make(chan struct{}),
		delay:     r.opts.Delay,
	}
	go run.produce(ctx)
	r.logger.Debug().Str("session_id", req.SessionID).Int("turn", run.turns).Msg("echo run started")
	return run, nil
}

// compose builds the reply text and any deferred requests from the prompt
// and the answers to the parent's deferred tools.
func compose(req execution.RunRequest) (string, *execution.DeferredToolRequests) {
	var lines []string
	var deferred execution.DeferredToolRequests

	if d := req.Deferred; d != nil {
		ids := make([]string, 0, len(d.Metadata))
		for id := range d.Metadata {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if a, ok := d.Approvals[id]; ok {
				verdict := "denied"
				if a.Approved {
					verdict = "approved"
				}
				line := fmt.Sprintf("%s %s", d.Metadata[id].ToolName, verdict)
				if a.Message != "" {
					line += ": " + a.Message
				}
				lines = append(lines, line)
			}
			if v, ok := d.Calls[id]; ok {
				lines = append(lines, fmt.Sprintf("%s returned: %s", d.Metadata[id].ToolName, v))
			}
		}
	}

	for _, line := range strings.Split(req.Prompt.String(), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && (fields[0] == "!approve" || fields[0] == "!call") {
			call := execution.DeferredCall{
				ToolCallID: fmt.Sprintf("%s-%d", req.SessionID, len(deferred.Approvals)+len(deferred.Calls)+1),
				ToolName:   fields[1],
			}
			if fields[0] == "!approve" {
				deferred.Approvals = append(deferred.Approvals, call)
			} else {
				deferred.Calls = append(deferred.Calls, call)
			}
			continue
		}
		lines = append(lines, line)
	}

	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if len(deferred.Approvals) == 0 && len(deferred.Calls) == 0 {
		return text, nil
	}
	return text, &deferred
}

type run struct {
	req      execution.RunRequest
	turns    int
	text     string
	deferred *execution.DeferredToolRequests
	delay    time.Duration

	events        chan execution.Event
	interrupt     chan struct{}
	interruptOnce sync.Once

	mu          sync.Mutex
	emitted     []string
	interrupted bool
	closed      bool
}

func (r *run) Events() <-chan execution.Event {
	return r.events
}

func (r *run) Interrupt() {
	r.interruptOnce.Do(func() { close(r.interrupt) })
}

func (r *run) produce(ctx context.Context) {
	defer close(r.events)

	if !r.emit(ctx, EventRunStarted, map[string]any{"turn": r.turns}) {
		return
	}

	for _, word := range strings.Fields(r.text) {
		if r.delay > 0 {
			timer := time.NewTimer(r.delay)
			select {
			case <-timer.C:
			case <-r.interrupt:
				timer.Stop()
				r.markInterrupted()
				return
			case <-ctx.Done():
				timer.Stop()
				r.markInterrupted()
				return
			}
		}
		if !r.emit(ctx, EventTextDelta, map[string]string{"text": word}) {
			return
		}
		r.mu.Lock()
		r.emitted = append(r.emitted, word)
		r.mu.Unlock()
	}

	if r.deferred != nil {
		if !r.emit(ctx, EventToolDeferred, r.deferred) {
			return
		}
	}
	r.emit(ctx, EventRunCompleted, map[string]int{"turn": r.turns})
}

// emit delivers one event unless the run is interrupted first.
func (r *run) emit(ctx context.Context, typ string, payload any) bool {
	data, _ := json.Marshal(payload)
	ev := execution.Event{
		Type:      typ,
		SessionID: r.req.SessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	select {
	case <-r.interrupt:
		r.markInterrupted()
		return false
	case <-ctx.Done():
		r.markInterrupted()
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.interrupt:
		r.markInterrupted()
		return false
	case <-ctx.Done():
		r.markInterrupted()
		return false
	}
}

func (r *run) markInterrupted() {
	r.mu.Lock()
	r.interrupted = true
	r.mu.Unlock()
}

func (r *run) Result() (*execution.Output, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interrupted {
		return &execution.Output{Text: strings.Join(r.emitted, " ")}, execution.ErrInterrupted
	}
	return &execution.Output{Text: strings.Join(r.emitted, " "), Deferred: r.deferred}, nil
}

func (r *run) Usage() (database.Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prompt := int64(len(strings.Fields(r.req.SystemPrompt)) + len(strings.Fields(r.req.Prompt.String())))
	completion := int64(len(r.emitted))
	return database.Usage{
		TotalTokens:      prompt + completion,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		ModelRequests:    1,
	}, nil
}

func (r *run) ExportState(context.Context) (*statestore.SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("echo run is closed")
	}

	data, err := json.Marshal(contextData{Turns: r.turns})
	if err != nil {
		return nil, err
	}
	state := &statestore.SessionState{Context: statestore.ContextState{Data: data}}

	if r.req.Parent != nil {
		state.Messages = append(state.Messages, r.req.Parent.Messages...)
		state.Environment = r.req.Parent.Environment
	}
	for _, m := range []message{
		{Role: "user", Content: r.req.Prompt.String()},
		{Role: "assistant", Content: strings.Join(r.emitted, " ")},
	} {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		state.Messages = append(state.Messages, raw)
	}

	if state.Environment == nil && r.req.Paths != nil {
		env, err := json.Marshal(map[string]any{"projects": r.req.Paths.Mapping()})
		if err != nil {
			return nil, err
		}
		state.Environment = env
	}

	if r.deferred != nil && !r.interrupted {
		state.Context.DeferredTools = r.deferred.Pending()
	}
	return state, nil
}

func (r *run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
