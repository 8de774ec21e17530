// Package execution runs one session end to end: it prepares the prompt and
// restored state, hands the run to an agent Runtime, forwards its events and
// finalizes the session through the session manager.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/environment"
	"github.com/conductor/agentrt/internal/resolver"
	"github.com/conductor/agentrt/internal/statestore"
)

var (
	// ErrInterrupted is reported by a Run that stopped because it was
	// interrupted.
	ErrInterrupted = errors.New("run interrupted")

	// ErrRuntimeFailure wraps any other error surfacing from a Run.
	ErrRuntimeFailure = errors.New("agent runtime failure")
)

// Event is one progress event emitted by a running agent.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RunRequest is everything a Runtime needs to start an execution.
type RunRequest struct {
	SessionID      string
	ConversationID string
	Config         *resolver.ResolvedConfig
	// SystemPrompt is Config.SystemPrompt rendered for this execution.
	SystemPrompt string
	Prompt       *Prompt
	Paths        *environment.ProjectPaths
	// Parent is the restored state of the parent session, nil for a root
	// session.
	Parent *statestore.SessionState
	// Deferred answers the parent's pending deferred tools.
	Deferred *DeferredToolResults
}

// Runtime starts agent executions.
type Runtime interface {
	Start(ctx context.Context, req RunRequest) (Run, error)
}

// Run is a live execution. Events is closed when the run stops. Result,
// Usage and ExportState are only valid after Events is closed and before
// Close.
type Run interface {
	Events() <-chan Event
	// Interrupt asks the run to stop. It does not block.
	Interrupt()
	// Result returns the final output, or ErrInterrupted.
	Result() (*Output, error)
	Usage() (database.Usage, error)
	ExportState(ctx context.Context) (*statestore.SessionState, error)
	// Close releases the run. It may report ErrInterrupted when the
	// interrupt landed after the last event.
	Close() error
}

// Output is the final output of a run. Deferred is set when the run stopped
// to wait for tool approvals or external tool results.
type Output struct {
	Text     string
	Deferred *DeferredToolRequests
}

// DeferredCall is one tool call the agent could not complete on its own.
type DeferredCall struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// DeferredToolRequests lists the tool calls a run is waiting on.
type DeferredToolRequests struct {
	Approvals []DeferredCall `json:"approvals,omitempty"`
	Calls     []DeferredCall `json:"calls,omitempty"`
}

// Pending returns the deferred tool metadata persisted with the session
// state so a continuation can answer the requests.
func (r *DeferredToolRequests) Pending() map[string]statestore.DeferredToolMeta {
	pending := make(map[string]statestore.DeferredToolMeta, len(r.Approvals)+len(r.Calls))
	for _, c := range r.Approvals {
		pending[c.ToolCallID] = statestore.DeferredToolMeta{ToolName: c.ToolName, Kind: statestore.DeferredToolApproval}
	}
	for _, c := range r.Calls {
		pending[c.ToolCallID] = statestore.DeferredToolMeta{ToolName: c.ToolName, Kind: statestore.DeferredToolCall}
	}
	return pending
}
