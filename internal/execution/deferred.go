package execution

import (
	"github.com/conductor/agentrt/internal/statestore"
)

const (
	autoDeniedMessage = "Auto-denied: no response provided"
	autoFailedMessage = "Auto-failed: no result provided"
)

// UserInteraction is a caller's decision on a tool call awaiting approval.
type UserInteraction struct {
	ToolCallID string `json:"tool_call_id"`
	Approved   bool   `json:"approved"`
	Message    string `json:"message,omitempty"`
}

// ToolResult is the outcome of a tool call executed by the caller.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ToolApproval answers one approval request.
type ToolApproval struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

// DeferredToolResults answers every pending deferred tool of a parent
// session.
type DeferredToolResults struct {
	Approvals map[string]ToolApproval                `json:"approvals"`
	Calls     map[string]string                      `json:"calls"`
	Metadata  map[string]statestore.DeferredToolMeta `json:"metadata"`
}

// BuildDeferredResults answers the pending tools of a parent session. Explicit
// interactions and results are applied as given; every pending tool they do
// not cover is denied or failed so the runtime is never left waiting. It
// returns nil when nothing is pending.
func BuildDeferredResults(
	pending map[string]statestore.DeferredToolMeta,
	interactions []UserInteraction,
	results []ToolResult,
) *DeferredToolResults {
	if len(pending) == 0 {
		return nil
	}

	out := &DeferredToolResults{
		Approvals: make(map[string]ToolApproval, len(interactions)),
		Calls:     make(map[string]string, len(results)),
		Metadata:  make(map[string]statestore.DeferredToolMeta, len(pending)),
	}
	for _, i := range interactions {
		out.Approvals[i.ToolCallID] = ToolApproval{Approved: i.Approved, Message: i.Message}
	}
	for _, r := range results {
		out.Calls[r.ToolCallID] = toolReturnValue(r)
	}

	for id, meta := range pending {
		out.Metadata[id] = meta
		switch meta.Kind {
		case statestore.DeferredToolCall:
			if _, ok := out.Calls[id]; !ok {
				out.Calls[id] = autoFailedMessage
			}
		default:
			if _, ok := out.Approvals[id]; !ok {
				out.Approvals[id] = ToolApproval{Approved: false, Message: autoDeniedMessage}
			}
		}
	}
	return out
}

func toolReturnValue(r ToolResult) string {
	if r.Error != "" {
		return r.Error
	}
	return r.Output
}
