package database

import (
	"context"
)

// PresetRepository defines preset persistence.
type PresetRepository interface {
	// Create inserts a preset. When p.IsDefault is set, the default flag is
	// cleared on every other preset in the same transaction.
	Create(ctx context.Context, p *Preset) error

	// Get retrieves a preset by id.
	Get(ctx context.Context, id string) (*Preset, error)

	// GetDefault retrieves the preset flagged as default.
	GetDefault(ctx context.Context) (*Preset, error)

	// List returns presets ordered by name.
	List(ctx context.Context, page Pagination) ([]Preset, error)

	// Update replaces a preset, keeping default exclusivity like Create.
	Update(ctx context.Context, p *Preset) error

	// Delete removes a preset.
	Delete(ctx context.Context, id string) error
}

// WorkspaceRepository defines workspace persistence.
type WorkspaceRepository interface {
	Create(ctx context.Context, w *Workspace) error
	Get(ctx context.Context, id string) (*Workspace, error)
	List(ctx context.Context, page Pagination) ([]Workspace, error)
	// Update replaces the name, project list and metadata of a workspace.
	Update(ctx context.Context, w *Workspace) error
	Delete(ctx context.Context, id string) error
}

// ConversationRepository defines conversation persistence. Conversations are
// created together with their first session, see
// SessionRepository.CreateWithConversation.
type ConversationRepository interface {
	Get(ctx context.Context, id string) (*Conversation, error)
	// List returns conversations, most recently updated first.
	List(ctx context.Context, page Pagination) ([]Conversation, error)
	// Update replaces title, default preset, metadata and status.
	Update(ctx context.Context, c *Conversation) error
}

// SessionRepository defines session index persistence.
type SessionRepository interface {
	// CreateWithConversation inserts conv if no conversation with its id
	// exists, then inserts s, atomically.
	CreateWithConversation(ctx context.Context, conv *Conversation, s *Session) error

	// Get retrieves a session by id.
	Get(ctx context.Context, id string) (*Session, error)

	// ListByConversation returns a conversation's sessions in creation order.
	ListByConversation(ctx context.Context, conversationID string, page Pagination) ([]Session, error)

	// ListWithStateByConversation returns the committed and
	// awaiting_tool_results sessions of a conversation in creation order.
	ListWithStateByConversation(ctx context.Context, conversationID string) ([]Session, error)

	// Finalize moves a created session to a terminal status. It returns
	// ErrNotFound for an unknown id and ErrInvalidTransition when the row
	// is no longer in created.
	Finalize(ctx context.Context, id string, update SessionFinalize) error

	// FailCreated marks every created session failed and returns how many
	// rows changed.
	FailCreated(ctx context.Context) (int64, error)
}

// Repositories aggregates all repository interfaces.
type Repositories struct {
	Presets       PresetRepository
	Workspaces    WorkspaceRepository
	Conversations ConversationRepository
	Sessions      SessionRepository
}

// NewRepositories creates the PostgreSQL repository implementations.
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Presets:       NewPresetRepo(db),
		Workspaces:    NewWorkspaceRepo(db),
		Conversations: NewConversationRepo(db),
		Sessions:      NewSessionRepo(db),
	}
}
