//go:build integration

package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor/agentrt/pkg/testutil"
)

// testDB holds the shared database container for tests.
var testDB struct {
	container *testutil.PostgresContainer
	db        *DB
	repos     *Repositories
}

func newDBFromContainer(ctx context.Context, pg *testutil.PostgresContainer) (*DB, error) {
	cfg := DefaultConfig(pg.ConnStr)
	cfg.MaxConns = 5
	cfg.MinConns = 1
	return New(ctx, cfg)
}

func TestMain(m *testing.M) {
	if !testutil.IsDockerAvailable() {
		os.Exit(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
	if err != nil {
		panic("failed to start postgres container: " + err.Error())
	}
	testDB.container = pg

	db, err := newDBFromContainer(ctx, pg)
	if err != nil {
		_ = pg.Terminate(ctx)
		panic("failed to create database connection: " + err.Error())
	}
	testDB.db = db

	migrator, err := NewMigrator(db)
	if err == nil {
		_, err = migrator.Up(ctx)
	}
	if err != nil {
		_ = db.Close()
		_ = pg.Terminate(ctx)
		panic("failed to run migrations: " + err.Error())
	}
	testDB.repos = NewRepositories(db)

	code := m.Run()

	_ = db.Close()
	_ = pg.Terminate(context.Background())
	os.Exit(code)
}

func TestMigrations(t *testing.T) {
	ctx := context.Background()

	migrator, err := NewMigrator(testDB.db)
	require.NoError(t, err)

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %s should be applied", s.Version)
		assert.NotNil(t, s.AppliedAt)
	}

	applied, err := migrator.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied, "second Up should be a no-op")
}

func newPreset(id string, isDefault bool) *Preset {
	return &Preset{
		ID:           id,
		Name:         "preset " + id,
		Model:        ModelSettings{Name: "test-model"},
		SystemPrompt: "be helpful",
		Toolsets:     []ToolsetSpec{{Name: "core", Enabled: true}},
		Environment:  EnvironmentSpec{ShellMode: ShellModeLocal, ProjectIDs: []string{"p1"}},
		IsDefault:    isDefault,
	}
}

func TestPresetRepo(t *testing.T) {
	ctx := context.Background()
	repo := testDB.repos.Presets

	t.Run("CreateAndGet", func(t *testing.T) {
		p := newPreset("preset-"+uuid.NewString()[:8], false)
		require.NoError(t, repo.Create(ctx, p))

		got, err := repo.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Name, got.Name)
		assert.Equal(t, "test-model", got.Model.Name)
		assert.Equal(t, []string{"p1"}, got.Environment.ProjectIDs)
		assert.Len(t, got.Toolsets, 1)
	})

	t.Run("DefaultIsExclusive", func(t *testing.T) {
		first := newPreset("default-a-"+uuid.NewString()[:8], true)
		second := newPreset("default-b-"+uuid.NewString()[:8], true)
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.Create(ctx, second))

		def, err := repo.GetDefault(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, def.ID)

		got, err := repo.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.False(t, got.IsDefault)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		p := newPreset("dup-"+uuid.NewString()[:8], false)
		require.NoError(t, repo.Create(ctx, p))
		err := repo.Create(ctx, newPreset(p.ID, false))
		assert.True(t, IsDuplicate(err))
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		err := repo.Delete(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSessionRepo(t *testing.T) {
	ctx := context.Background()
	repo := testDB.repos.Sessions

	newSession := func(convID string, parent *string) *Session {
		return &Session{
			ID:              uuid.NewString(),
			ConversationID:  convID,
			ParentSessionID: parent,
			ProjectIDs:      []string{"p1"},
			Status:          SessionStatusCreated,
			SessionType:     SessionTypeAgent,
			Transport:       TransportSSE,
			Input:           []InputPart{{Type: InputPartText, Text: "hello"}},
		}
	}

	t.Run("CreateWithConversation", func(t *testing.T) {
		root := newSession("", nil)
		root.ConversationID = root.ID
		require.NoError(t, repo.CreateWithConversation(ctx, &Conversation{ID: root.ID}, root))

		child := newSession(root.ID, &root.ID)
		require.NoError(t, repo.CreateWithConversation(ctx, &Conversation{ID: root.ID}, child))

		conv, err := testDB.repos.Conversations.Get(ctx, root.ID)
		require.NoError(t, err)
		assert.Equal(t, ConversationStatusActive, conv.Status)

		sessions, err := repo.ListByConversation(ctx, root.ID, DefaultPagination())
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, root.ID, sessions[0].ID)
		assert.Equal(t, child.ID, sessions[1].ID)
		assert.Equal(t, "hello", sessions[1].Input[0].Text)
	})

	t.Run("CreateIsAtomic", func(t *testing.T) {
		s := newSession("", nil)
		s.ConversationID = s.ID
		missing := "missing-parent"
		s.ParentSessionID = &missing

		err := repo.CreateWithConversation(ctx, &Conversation{ID: s.ID}, s)
		require.Error(t, err)

		_, err = testDB.repos.Conversations.Get(ctx, s.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Finalize", func(t *testing.T) {
		s := newSession("", nil)
		s.ConversationID = s.ID
		require.NoError(t, repo.CreateWithConversation(ctx, &Conversation{ID: s.ID}, s))

		msg := "done"
		err := repo.Finalize(ctx, s.ID, SessionFinalize{
			Status:       SessionStatusCommitted,
			FinalMessage: &msg,
			RunSummary:   &RunSummary{DurationMS: 120, Usage: Usage{TotalTokens: 42}},
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, SessionStatusCommitted, got.Status)
		assert.Equal(t, "done", *got.FinalMessage)
		require.NotNil(t, got.RunSummary)
		assert.Equal(t, int64(42), got.RunSummary.Usage.TotalTokens)

		withState, err := repo.ListWithStateByConversation(ctx, s.ID)
		require.NoError(t, err)
		assert.Len(t, withState, 1)

		err = repo.Finalize(ctx, s.ID, SessionFinalize{Status: SessionStatusFailed})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		err = repo.Finalize(ctx, uuid.NewString(), SessionFinalize{Status: SessionStatusFailed})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("FailCreated", func(t *testing.T) {
		s := newSession("", nil)
		s.ConversationID = s.ID
		require.NoError(t, repo.CreateWithConversation(ctx, &Conversation{ID: s.ID}, s))

		n, err := repo.FailCreated(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		got, err := repo.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, SessionStatusFailed, got.Status)

		n, err = repo.FailCreated(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
