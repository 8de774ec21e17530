// Package session owns the durable lifecycle of sessions: the relational
// index row, the state blob and the hand-off with the live registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/registry"
	"github.com/conductor/agentrt/internal/statestore"
	"github.com/conductor/agentrt/pkg/log"
	"github.com/conductor/agentrt/pkg/metrics"
	"github.com/conductor/agentrt/pkg/tracing"
)

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrParentNotFound is returned when a parent or spawning session does
	// not exist.
	ErrParentNotFound = errors.New("parent session not found")

	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConflict is returned when a session id is already taken.
	ErrConflict = errors.New("session already exists")

	// ErrInvalidStatus is returned when a status is not valid for the
	// requested lifecycle step.
	ErrInvalidStatus = errors.New("invalid session status")

	// ErrInvalidSessionID is returned for caller-supplied ids that cannot
	// name a single state blob.
	ErrInvalidSessionID = statestore.ErrInvalidSessionID
)

// Unregisterer removes finished sessions from the live registry.
type Unregisterer interface {
	Unregister(sessionID string) (*registry.RuntimeSession, bool)
}

// Manager creates, commits and fails sessions.
type Manager struct {
	conversations database.ConversationRepository
	sessions      database.SessionRepository
	store         statestore.Store
	registry      Unregisterer
	metrics       *metrics.SessionMetrics
	logger        log.Logger
}

// NewManager creates a Manager. m may be nil.
func NewManager(
	repos *database.Repositories,
	store statestore.Store,
	reg Unregisterer,
	m *metrics.SessionMetrics,
	logger log.Logger,
) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		conversations: repos.Conversations,
		sessions:      repos.Sessions,
		store:         store,
		registry:      reg,
		metrics:       m,
		logger:        logger.With("component", "session_manager"),
	}
}

// CreateParams describes a new session.
type CreateParams struct {
	// SessionID is generated when empty.
	SessionID       string
	ParentSessionID *string
	// Fork starts a new conversation from the parent. ForkConversationID
	// names it; a fresh id is used when empty.
	Fork               bool
	ForkConversationID string
	ProjectIDs         []string
	SessionType        database.SessionType
	Transport          database.Transport
	// SpawnedBy is the session that started an async subagent. Spawned
	// sessions join the spawner's conversation.
	SpawnedBy *string
	PresetID  *string
	Input     []database.InputPart
}

// CreateSession writes the index row of a new session in status created,
// creating its conversation when needed.
//
// A root session's conversation id is its own id, a continuation inherits
// the parent's and a fork gets its own.
func (m *Manager) CreateSession(ctx context.Context, p CreateParams) (*database.Session, error) {
	ctx, span := tracing.StartSpan(ctx, "session.create")
	defer span.End()

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if err := statestore.ValidateSessionID(sessionID); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	conversationID, err := m.conversationFor(ctx, sessionID, p)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	projectIDs := p.ProjectIDs
	if projectIDs == nil {
		projectIDs = []string{}
	}
	sessionType := p.SessionType
	if sessionType == "" {
		sessionType = database.SessionTypeAgent
	}
	transport := p.Transport
	if transport == "" {
		transport = database.TransportSSE
	}

	s := &database.Session{
		ID:              sessionID,
		ConversationID:  conversationID,
		ParentSessionID: p.ParentSessionID,
		ProjectIDs:      projectIDs,
		Status:          database.SessionStatusCreated,
		SessionType:     sessionType,
		Transport:       transport,
		SpawnedBy:       p.SpawnedBy,
		PresetID:        p.PresetID,
		Input:           p.Input,
	}
	conv := &database.Conversation{
		ID:              conversationID,
		DefaultPresetID: p.PresetID,
		Status:          database.ConversationStatusActive,
	}

	if err := m.sessions.CreateWithConversation(ctx, conv, s); err != nil {
		tracing.RecordError(ctx, err)
		if database.IsDuplicate(err) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, sessionID)
		}
		if errors.Is(err, database.ErrForeignKey) {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, derefOr(p.ParentSessionID, ""))
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	span.SetAttributes(tracing.AttrSessionID.String(sessionID), tracing.AttrConversationID.String(conversationID))
	m.metrics.RecordCreated(string(sessionType))
	m.logger.Info().
		Str("session_id", sessionID).
		Str("conversation_id", conversationID).
		Str("parent_session_id", derefOr(p.ParentSessionID, "")).
		Msg("session created")
	return s, nil
}

func (m *Manager) conversationFor(ctx context.Context, sessionID string, p CreateParams) (string, error) {
	if p.Fork {
		if p.ForkConversationID != "" {
			return p.ForkConversationID, nil
		}
		return uuid.NewString(), nil
	}

	lineage := p.ParentSessionID
	if lineage == nil {
		lineage = p.SpawnedBy
	}
	if lineage == nil {
		return sessionID, nil
	}

	parent, err := m.sessions.Get(ctx, *lineage)
	if err != nil {
		if database.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrParentNotFound, *lineage)
		}
		return "", fmt.Errorf("failed to load parent session: %w", err)
	}
	return parent.ConversationID, nil
}

// CommitParams is the outcome of a finished execution.
type CommitParams struct {
	State        *statestore.SessionState
	Status       database.SessionStatus
	Summary      *database.RunSummary
	FinalMessage *string
}

// CommitSession writes the state blob, moves the index row out of created
// and only then unregisters the live session. On any error the session is
// left registered.
func (m *Manager) CommitSession(ctx context.Context, sessionID string, p CommitParams) error {
	ctx, span := tracing.StartSpan(ctx, "session.commit",
		tracing.AttrSessionID.String(sessionID),
		tracing.AttrStatus.String(string(p.Status)),
	)
	defer span.End()

	if !p.Status.HasState() {
		return fmt.Errorf("%w: cannot commit with status %q, fail the session instead", ErrInvalidStatus, p.Status)
	}
	if p.State == nil {
		return fmt.Errorf("%w: commit requires session state", ErrInvalidStatus)
	}

	if err := m.store.Write(ctx, sessionID, p.State); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to write session state: %w", err)
	}

	if err := m.finalize(ctx, sessionID, database.SessionFinalize{
		Status:       p.Status,
		FinalMessage: p.FinalMessage,
		RunSummary:   p.Summary,
	}); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	m.registry.Unregister(sessionID)
	m.metrics.RecordFinalized(string(p.Status))
	m.logger.Info().
		Str("session_id", sessionID).
		Str("status", string(p.Status)).
		Msg("session committed")
	return nil
}

// FailSession marks a session failed and unregisters it. No state is
// written.
func (m *Manager) FailSession(ctx context.Context, sessionID string, summary *database.RunSummary) error {
	ctx, span := tracing.StartSpan(ctx, "session.fail", tracing.AttrSessionID.String(sessionID))
	defer span.End()

	err := m.finalize(ctx, sessionID, database.SessionFinalize{
		Status:     database.SessionStatusFailed,
		RunSummary: summary,
	})
	// A row that already left created is terminal, so the live entry goes
	// either way.
	if err != nil && !errors.Is(err, ErrInvalidStatus) {
		tracing.RecordError(ctx, err)
		return err
	}

	m.registry.Unregister(sessionID)
	if err != nil {
		m.logger.Warn().Str("session_id", sessionID).Err(err).Msg("session was already finalized")
		return err
	}

	m.metrics.RecordFinalized(string(database.SessionStatusFailed))
	m.logger.Info().Str("session_id", sessionID).Msg("session failed")
	return nil
}

func (m *Manager) finalize(ctx context.Context, sessionID string, u database.SessionFinalize) error {
	err := m.sessions.Finalize(ctx, sessionID, u)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	case errors.Is(err, database.ErrInvalidTransition):
		return fmt.Errorf("%w: session %s is no longer created", ErrInvalidStatus, sessionID)
	default:
		return fmt.Errorf("failed to update session status: %w", err)
	}
}

// Detail is a session index row, optionally hydrated with its state.
type Detail struct {
	Session *database.Session
	// State is nil unless requested and present in the store.
	State *statestore.SessionState
}

// GetSession loads a session. A missing state blob yields a nil State.
func (m *Manager) GetSession(ctx context.Context, sessionID string, includeState bool) (*Detail, error) {
	s, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	detail := &Detail{Session: s}
	if !includeState {
		return detail, nil
	}

	state, err := m.store.Read(ctx, sessionID)
	switch {
	case err == nil:
		detail.State = state
	case errors.Is(err, statestore.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	return detail, nil
}

// ListSessions returns a conversation's sessions in creation order.
func (m *Manager) ListSessions(ctx context.Context, conversationID string, page database.Pagination) ([]database.Session, error) {
	if _, err := m.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	sessions, err := m.sessions.ListByConversation(ctx, conversationID, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// GetConversation loads a conversation.
func (m *Manager) GetConversation(ctx context.Context, conversationID string) (*database.Conversation, error) {
	c, err := m.conversations.Get(ctx, conversationID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns conversations, most recently active first.
func (m *Manager) ListConversations(ctx context.Context, page database.Pagination) ([]database.Conversation, error) {
	convs, err := m.conversations.List(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// ConversationUpdate holds the mutable conversation fields. Nil fields are
// left unchanged.
type ConversationUpdate struct {
	Title           *string
	DefaultPresetID *string
	Metadata        map[string]any
	Status          *database.ConversationStatus
}

// UpdateConversation applies u to a conversation.
func (m *Manager) UpdateConversation(ctx context.Context, conversationID string, u ConversationUpdate) (*database.Conversation, error) {
	c, err := m.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if u.Title != nil {
		c.Title = u.Title
	}
	if u.DefaultPresetID != nil {
		c.DefaultPresetID = u.DefaultPresetID
	}
	if u.Metadata != nil {
		c.Metadata = u.Metadata
	}
	if u.Status != nil {
		if *u.Status != database.ConversationStatusActive && *u.Status != database.ConversationStatusArchived {
			return nil, fmt.Errorf("%w: unknown conversation status %q", ErrInvalidStatus, *u.Status)
		}
		c.Status = *u.Status
	}

	if err := m.conversations.Update(ctx, c); err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return c, nil
}

// Turn is one request/response exchange of a conversation.
type Turn struct {
	SessionID    string                 `json:"session_id"`
	Status       database.SessionStatus `json:"status"`
	Input        []database.InputPart   `json:"input,omitempty"`
	FinalMessage *string                `json:"final_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// GetConversationTurns returns the turns of the committed and
// awaiting_tool_results sessions of a conversation in creation order.
// Sessions with neither input nor a final message are skipped.
func (m *Manager) GetConversationTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	if _, err := m.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	sessions, err := m.sessions.ListWithStateByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	turns := make([]Turn, 0, len(sessions))
	for _, s := range sessions {
		if len(s.Input) == 0 && s.FinalMessage == nil {
			continue
		}
		turns = append(turns, Turn{
			SessionID:    s.ID,
			Status:       s.Status,
			Input:        s.Input,
			FinalMessage: s.FinalMessage,
			CreatedAt:    s.CreatedAt,
		})
	}
	return turns, nil
}

// RecoverOrphanedSessions fails every session left in created by a previous
// process and returns how many were recovered.
func (m *Manager) RecoverOrphanedSessions(ctx context.Context) (int64, error) {
	n, err := m.sessions.FailCreated(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphaned sessions: %w", err)
	}
	if n > 0 {
		m.metrics.AddOrphansRecovered(n)
		m.logger.Warn().Int64("count", n).Msg("marked orphaned sessions as failed")
	}
	return n, nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
