package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor/agentrt/internal/statestore"
)

func TestBuildDeferredResults_NothingPending(t *testing.T) {
	assert.Nil(t, BuildDeferredResults(nil, []UserInteraction{{ToolCallID: "x", Approved: true}}, nil))
}

func TestBuildDeferredResults(t *testing.T) {
	pending := map[string]statestore.DeferredToolMeta{
		"approve-given":  {ToolName: "shell", Kind: statestore.DeferredToolApproval},
		"approve-missed": {ToolName: "edit", Kind: statestore.DeferredToolApproval},
		"legacy":         {ToolName: "view"},
		"call-output":    {ToolName: "search", Kind: statestore.DeferredToolCall},
		"call-error":     {ToolName: "fetch", Kind: statestore.DeferredToolCall},
		"call-empty":     {ToolName: "noop", Kind: statestore.DeferredToolCall},
		"call-missed":    {ToolName: "browser", Kind: statestore.DeferredToolCall},
	}
	interactions := []UserInteraction{
		{ToolCallID: "approve-given", Approved: false, Message: "not today"},
	}
	results := []ToolResult{
		{ToolCallID: "call-output", Output: "3 hits"},
		{ToolCallID: "call-error", Output: "ignored", Error: "timeout"},
		{ToolCallID: "call-empty"},
	}

	got := BuildDeferredResults(pending, interactions, results)
	require.NotNil(t, got)

	assert.Equal(t, map[string]ToolApproval{
		"approve-given":  {Approved: false, Message: "not today"},
		"approve-missed": {Approved: false, Message: "Auto-denied: no response provided"},
		"legacy":         {Approved: false, Message: "Auto-denied: no response provided"},
	}, got.Approvals)
	assert.Equal(t, map[string]string{
		"call-output": "3 hits",
		"call-error":  "timeout",
		"call-empty":  "",
		"call-missed": "Auto-failed: no result provided",
	}, got.Calls)
	assert.Equal(t, pending, got.Metadata)
}

func TestDeferredToolRequests_Pending(t *testing.T) {
	r := &DeferredToolRequests{
		Approvals: []DeferredCall{{ToolCallID: "a", ToolName: "shell"}},
		Calls:     []DeferredCall{{ToolCallID: "c", ToolName: "search"}},
	}
	assert.Equal(t, map[string]statestore.DeferredToolMeta{
		"a": {ToolName: "shell", Kind: statestore.DeferredToolApproval},
		"c": {ToolName: "search", Kind: statestore.DeferredToolCall},
	}, r.Pending())
}
