package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/registry"
	"github.com/conductor/agentrt/internal/statestore"
)

type fixture struct {
	manager  *Manager
	repo     *memRepo
	store    *failingStore
	registry *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local, err := statestore.NewLocalStore(statestore.LocalConfig{Root: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	repo := newMemRepo()
	store := &failingStore{Store: local}
	reg := registry.New(nil, nil)
	return &fixture{
		manager:  NewManager(repo.repositories(), store, reg, nil, nil),
		repo:     repo,
		store:    store,
		registry: reg,
	}
}

func (f *fixture) createAndRegister(t *testing.T, p CreateParams) *database.Session {
	t.Helper()
	s, err := f.manager.CreateSession(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, f.registry.Register(registry.RuntimeSession{SessionID: s.ID, ConversationID: s.ConversationID}))
	return s
}

func testState() *statestore.SessionState {
	return &statestore.SessionState{
		Context:  statestore.ContextState{Data: json.RawMessage(`{"k":"v"}`)},
		Messages: []json.RawMessage{json.RawMessage(`{"role":"user"}`)},
	}
}

func TestCreateSession_Lineage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root, err := f.manager.CreateSession(ctx, CreateParams{})
	require.NoError(t, err)
	assert.Equal(t, root.ID, root.ConversationID)
	assert.Equal(t, database.SessionStatusCreated, root.Status)
	assert.Equal(t, database.SessionTypeAgent, root.SessionType)
	assert.Equal(t, database.TransportSSE, root.Transport)
	assert.NotNil(t, root.ProjectIDs)

	child, err := f.manager.CreateSession(ctx, CreateParams{ParentSessionID: &root.ID})
	require.NoError(t, err)
	assert.Equal(t, root.ConversationID, child.ConversationID)
	assert.NotEqual(t, root.ID, child.ID)

	fork, err := f.manager.CreateSession(ctx, CreateParams{ParentSessionID: &child.ID, Fork: true, ForkConversationID: "forked"})
	require.NoError(t, err)
	assert.Equal(t, "forked", fork.ConversationID)
	assert.Equal(t, child.ID, *fork.ParentSessionID)

	anon, err := f.manager.CreateSession(ctx, CreateParams{ParentSessionID: &root.ID, Fork: true})
	require.NoError(t, err)
	assert.NotEqual(t, root.ConversationID, anon.ConversationID)
	assert.NotEqual(t, anon.ID, anon.ConversationID)

	spawned, err := f.manager.CreateSession(ctx, CreateParams{SpawnedBy: &child.ID, SessionType: database.SessionTypeAsyncSubagent})
	require.NoError(t, err)
	assert.Equal(t, root.ConversationID, spawned.ConversationID)
	assert.Nil(t, spawned.ParentSessionID)

	conv, err := f.manager.GetConversation(ctx, root.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, database.ConversationStatusActive, conv.Status)
}

func TestCreateSession_ParentNotFound(t *testing.T) {
	f := newFixture(t)
	missing := "missing"

	_, err := f.manager.CreateSession(context.Background(), CreateParams{ParentSessionID: &missing})
	assert.ErrorIs(t, err, ErrParentNotFound)
	assert.Empty(t, f.repo.sessions, "no partial writes")
	assert.Empty(t, f.repo.conversations)
}

func TestCreateSession_Conflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.CreateSession(ctx, CreateParams{SessionID: "fixed"})
	require.NoError(t, err)
	_, err = f.manager.CreateSession(ctx, CreateParams{SessionID: "fixed"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateSession_InvalidSessionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{".", "..", "x/../y", "../../outside", `a\b`} {
		_, err := f.manager.CreateSession(ctx, CreateParams{SessionID: id})
		assert.ErrorIs(t, err, ErrInvalidSessionID, id)
	}
	assert.Empty(t, f.repo.sessions)
}

func TestCommitSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createAndRegister(t, CreateParams{})

	msg := "answer"
	require.NoError(t, f.manager.CommitSession(ctx, s.ID, CommitParams{
		State:        testState(),
		Status:       database.SessionStatusCommitted,
		Summary:      &database.RunSummary{DurationMS: 5},
		FinalMessage: &msg,
	}))

	state, err := f.store.Read(ctx, s.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(state.Context.Data))

	_, ok := f.registry.Get(s.ID)
	assert.False(t, ok)

	row := f.repo.session(s.ID)
	assert.Equal(t, database.SessionStatusCommitted, row.Status)
	assert.Equal(t, "answer", *row.FinalMessage)
}

func TestCommitSession_InvalidStatus(t *testing.T) {
	f := newFixture(t)
	s := f.createAndRegister(t, CreateParams{})

	for _, status := range []database.SessionStatus{database.SessionStatusFailed, database.SessionStatusCreated, database.SessionStatusArchived} {
		err := f.manager.CommitSession(context.Background(), s.ID, CommitParams{State: testState(), Status: status})
		assert.ErrorIs(t, err, ErrInvalidStatus, string(status))
	}
	assert.Zero(t, f.store.writes)

	_, ok := f.registry.Get(s.ID)
	assert.True(t, ok)
}

func TestCommitSession_StoreFailureKeepsSessionLive(t *testing.T) {
	f := newFixture(t)
	s := f.createAndRegister(t, CreateParams{})
	f.store.writeErr = errors.New("disk full")

	err := f.manager.CommitSession(context.Background(), s.ID, CommitParams{State: testState(), Status: database.SessionStatusCommitted})
	require.Error(t, err)

	assert.Equal(t, database.SessionStatusCreated, f.repo.session(s.ID).Status)
	assert.Empty(t, f.repo.finalized)
	_, ok := f.registry.Get(s.ID)
	assert.True(t, ok)
}

func TestCommitSession_IndexFailureKeepsSessionLive(t *testing.T) {
	f := newFixture(t)
	s := f.createAndRegister(t, CreateParams{})
	f.repo.finalizeErr = errors.New("connection reset")

	err := f.manager.CommitSession(context.Background(), s.ID, CommitParams{State: testState(), Status: database.SessionStatusAwaitingToolResults})
	require.Error(t, err)

	_, ok := f.registry.Get(s.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, f.store.writes, "blob written before the index update")
}

func TestCommitSession_AlreadyFinalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createAndRegister(t, CreateParams{})

	require.NoError(t, f.manager.FailSession(ctx, s.ID, nil))
	err := f.manager.CommitSession(ctx, s.ID, CommitParams{State: testState(), Status: database.SessionStatusCommitted})
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, database.SessionStatusFailed, f.repo.session(s.ID).Status)
}

func TestFailSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.createAndRegister(t, CreateParams{})

	require.NoError(t, f.manager.FailSession(ctx, s.ID, &database.RunSummary{DurationMS: 99}))

	row := f.repo.session(s.ID)
	assert.Equal(t, database.SessionStatusFailed, row.Status)
	assert.Equal(t, int64(99), row.RunSummary.DurationMS)
	_, ok := f.registry.Get(s.ID)
	assert.False(t, ok)

	exists, err := f.store.Exists(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, f.manager.FailSession(ctx, "missing", nil), ErrSessionNotFound)
}

func TestFailSession_IndexErrorKeepsSessionLive(t *testing.T) {
	f := newFixture(t)
	s := f.createAndRegister(t, CreateParams{})
	f.repo.finalizeErr = errors.New("connection reset")

	require.Error(t, f.manager.FailSession(context.Background(), s.ID, nil))
	_, ok := f.registry.Get(s.ID)
	assert.True(t, ok)
}

func TestGetSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	committed := f.createAndRegister(t, CreateParams{})
	require.NoError(t, f.manager.CommitSession(ctx, committed.ID, CommitParams{State: testState(), Status: database.SessionStatusCommitted}))
	created := f.createAndRegister(t, CreateParams{})

	detail, err := f.manager.GetSession(ctx, committed.ID, true)
	require.NoError(t, err)
	require.NotNil(t, detail.State)
	assert.Len(t, detail.State.Messages, 1)

	detail, err = f.manager.GetSession(ctx, committed.ID, false)
	require.NoError(t, err)
	assert.Nil(t, detail.State)

	detail, err = f.manager.GetSession(ctx, created.ID, true)
	require.NoError(t, err)
	assert.Nil(t, detail.State, "missing blob is not an error")

	_, err = f.manager.GetSession(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConversationTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.createAndRegister(t, CreateParams{Input: []database.InputPart{{Type: database.InputPartText, Text: "q1"}}})
	a1 := "a1"
	require.NoError(t, f.manager.CommitSession(ctx, root.ID, CommitParams{State: testState(), Status: database.SessionStatusCommitted, FinalMessage: &a1}))

	failed := f.createAndRegister(t, CreateParams{ParentSessionID: &root.ID, Input: []database.InputPart{{Type: database.InputPartText, Text: "lost"}}})
	require.NoError(t, f.manager.FailSession(ctx, failed.ID, nil))

	empty := f.createAndRegister(t, CreateParams{ParentSessionID: &root.ID})
	require.NoError(t, f.manager.CommitSession(ctx, empty.ID, CommitParams{State: testState(), Status: database.SessionStatusAwaitingToolResults}))

	second := f.createAndRegister(t, CreateParams{ParentSessionID: &empty.ID, Input: []database.InputPart{{Type: database.InputPartText, Text: "q2"}}})
	require.NoError(t, f.manager.CommitSession(ctx, second.ID, CommitParams{State: testState(), Status: database.SessionStatusCommitted}))

	turns, err := f.manager.GetConversationTurns(ctx, root.ConversationID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, root.ID, turns[0].SessionID)
	assert.Equal(t, "a1", *turns[0].FinalMessage)
	assert.Equal(t, second.ID, turns[1].SessionID)
	assert.Nil(t, turns[1].FinalMessage)

	_, err = f.manager.GetConversationTurns(ctx, "missing")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.createAndRegister(t, CreateParams{})
	f.createAndRegister(t, CreateParams{ParentSessionID: &root.ID})

	sessions, err := f.manager.ListSessions(ctx, root.ConversationID, database.DefaultPagination())
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	_, err = f.manager.ListSessions(ctx, "missing", database.DefaultPagination())
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestUpdateConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.createAndRegister(t, CreateParams{})

	title := "Refactor"
	archived := database.ConversationStatusArchived
	c, err := f.manager.UpdateConversation(ctx, root.ConversationID, ConversationUpdate{Title: &title, Status: &archived})
	require.NoError(t, err)
	assert.Equal(t, "Refactor", *c.Title)
	assert.Equal(t, archived, c.Status)

	bad := database.ConversationStatus("deleted")
	_, err = f.manager.UpdateConversation(ctx, root.ConversationID, ConversationUpdate{Status: &bad})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.manager.UpdateConversation(ctx, "missing", ConversationUpdate{Title: &title})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestRecoverOrphanedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	committed := f.createAndRegister(t, CreateParams{})
	require.NoError(t, f.manager.CommitSession(ctx, committed.ID, CommitParams{State: testState(), Status: database.SessionStatusCommitted}))
	failed := f.createAndRegister(t, CreateParams{})
	require.NoError(t, f.manager.FailSession(ctx, failed.ID, nil))
	orphan, err := f.manager.CreateSession(ctx, CreateParams{})
	require.NoError(t, err)

	n, err := f.manager.RecoverOrphanedSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, database.SessionStatusFailed, f.repo.session(orphan.ID).Status)
	assert.Equal(t, database.SessionStatusCommitted, f.repo.session(committed.ID).Status)
	assert.Equal(t, database.SessionStatusFailed, f.repo.session(failed.ID).Status)
}
