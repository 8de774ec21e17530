package echo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/conductor/agentrt/internal/execution"
	"github.com/conductor/agentrt/internal/statestore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func drain(run execution.Run) []execution.Event {
	var events []execution.Event
	for ev := range run.Events() {
		events = append(events, ev)
	}
	return events
}

func TestEcho_Completes(t *testing.T) {
	rt := New(Options{}, nil)
	run, err := rt.Start(context.Background(), execution.RunRequest{
		SessionID:    "s1",
		SystemPrompt: "be brief",
		Prompt:       &execution.Prompt{Text: "hello there"},
	})
	require.NoError(t, err)

	events := drain(run)
	require.Len(t, events, 4)
	assert.Equal(t, EventRunStarted, events[0].Type)
	assert.Equal(t, EventTextDelta, events[1].Type)
	assert.JSONEq(t, `{"text":"hello"}`, string(events[1].Data))
	assert.Equal(t, EventRunCompleted, events[3].Type)

	out, err := run.Result()
	require.NoError(t, err)
	assert.Equal(t, "hello there", out.Text)
	assert.Nil(t, out.Deferred)

	usage, err := run.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(4), usage.PromptTokens)
	assert.Equal(t, int64(2), usage.CompletionTokens)

	state, err := run.ExportState(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"turns":1}`, string(state.Context.Data))
	require.Len(t, state.Messages, 2)
	assert.JSONEq(t, `{"role":"assistant","content":"hello there"}`, string(state.Messages[1]))

	require.NoError(t, run.Close())
	_, err = run.ExportState(context.Background())
	assert.Error(t, err)
}

func TestEcho_DeferredTools(t *testing.T) {
	rt := New(Options{}, nil)
	run, err := rt.Start(context.Background(), execution.RunRequest{
		SessionID: "s1",
		Prompt:    &execution.Prompt{Text: "deploy it\n!approve shell\n!call search"},
	})
	require.NoError(t, err)

	events := drain(run)
	assert.Equal(t, EventToolDeferred, events[len(events)-2].Type)

	out, err := run.Result()
	require.NoError(t, err)
	require.NotNil(t, out.Deferred)
	assert.Equal(t, []execution.DeferredCall{{ToolCallID: "s1-1", ToolName: "shell"}}, out.Deferred.Approvals)
	assert.Equal(t, []execution.DeferredCall{{ToolCallID: "s1-2", ToolName: "search"}}, out.Deferred.Calls)

	state, err := run.ExportState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, statestore.DeferredToolCall, state.Context.DeferredTools["s1-2"].Kind)
	require.NoError(t, run.Close())
}

func TestEcho_ContinuesFromParent(t *testing.T) {
	parent := &statestore.SessionState{
		Context: statestore.ContextState{
			Data: json.RawMessage(`{"turns":3}`),
		},
		Messages:    []json.RawMessage{json.RawMessage(`{"role":"user","content":"earlier"}`)},
		Environment: json.RawMessage(`{"projects":{}}`),
	}
	deferred := execution.BuildDeferredResults(map[string]statestore.DeferredToolMeta{
		"t1": {ToolName: "shell", Kind: statestore.DeferredToolApproval},
	}, nil, nil)

	rt := New(Options{}, nil)
	run, err := rt.Start(context.Background(), execution.RunRequest{
		SessionID: "s2",
		Prompt:    &execution.Prompt{},
		Parent:    parent,
		Deferred:  deferred,
	})
	require.NoError(t, err)
	drain(run)

	out, err := run.Result()
	require.NoError(t, err)
	assert.Equal(t, "shell denied: Auto-denied: no response provided", out.Text)

	state, err := run.ExportState(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"turns":4}`, string(state.Context.Data))
	assert.Len(t, state.Messages, 3)
	assert.JSONEq(t, `{"projects":{}}`, string(state.Environment))
	require.NoError(t, run.Close())
}

func TestEcho_Interrupt(t *testing.T) {
	rt := New(Options{Delay: 50 * time.Millisecond}, nil)
	run, err := rt.Start(context.Background(), execution.RunRequest{
		SessionID: "s1",
		Prompt:    &execution.Prompt{Text: "one two three four five six seven eight"},
	})
	require.NoError(t, err)

	first := <-run.Events()
	assert.Equal(t, EventRunStarted, first.Type)
	run.Interrupt()
	run.Interrupt()
	drain(run)

	out, err := run.Result()
	assert.ErrorIs(t, err, execution.ErrInterrupted)
	assert.Less(t, len(out.Text), len("one two three four five six seven eight"))

	state, err := run.ExportState(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, state)
	require.NoError(t, run.Close())
}

func TestEcho_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rt := New(Options{Delay: 50 * time.Millisecond}, nil)
	run, err := rt.Start(ctx, execution.RunRequest{
		SessionID: "s1",
		Prompt:    &execution.Prompt{Text: "a b c d e f"},
	})
	require.NoError(t, err)

	<-run.Events()
	cancel()
	drain(run)

	_, err = run.Result()
	assert.ErrorIs(t, err, execution.ErrInterrupted)
	require.NoError(t, run.Close())
}

func TestEcho_RequiresPrompt(t *testing.T) {
	_, err := New(Options{}, nil).Start(context.Background(), execution.RunRequest{SessionID: "s1"})
	assert.Error(t, err)
}
