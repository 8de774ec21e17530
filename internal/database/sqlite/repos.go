package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conductor/agentrt/internal/database"
)

type presetRepo struct {
	db *sql.DB
}

func (r *presetRepo) Create(ctx context.Context, p *database.Preset) error {
	now := database.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	args, err := database.PresetArgs(p)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx, presetClearDefault, p.ID); err != nil {
				return fmt.Errorf("failed to clear default preset: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, presetInsert, args...); err != nil {
			return fmt.Errorf("failed to create preset: %w", wrapError(err))
		}
		return nil
	})
}

func (r *presetRepo) Get(ctx context.Context, id string) (*database.Preset, error) {
	p, err := database.ScanPreset(r.db.QueryRowContext(ctx, presetGetByID, id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preset: %w", err)
	}
	return p, nil
}

func (r *presetRepo) GetDefault(ctx context.Context) (*database.Preset, error) {
	p, err := database.ScanPreset(r.db.QueryRowContext(ctx, presetGetDefault))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get default preset: %w", err)
	}
	return p, nil
}

func (r *presetRepo) List(ctx context.Context, page database.Pagination) ([]database.Preset, error) {
	page = page.Normalize()
	rows, err := r.db.QueryContext(ctx, presetList, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	defer rows.Close()

	return database.CollectRows(rows.Next, func() (*database.Preset, error) { return database.ScanPreset(rows) }, rows.Err)
}

func (r *presetRepo) Update(ctx context.Context, p *database.Preset) error {
	p.UpdatedAt = database.Now()

	args, err := database.PresetArgs(p)
	if err != nil {
		return err
	}
	update := append(append([]any{}, args[1:9]...), p.UpdatedAt, p.ID)

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx, presetClearDefault, p.ID); err != nil {
				return fmt.Errorf("failed to clear default preset: %w", err)
			}
		}
		result, err := tx.ExecContext(ctx, presetUpdate, update...)
		if err != nil {
			return fmt.Errorf("failed to update preset: %w", wrapError(err))
		}
		if err := requireRow(result); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, presetCreatedAt, p.ID).Scan(&p.CreatedAt)
	})
}

func (r *presetRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, presetDelete, id)
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	return requireRow(result)
}

type workspaceRepo struct {
	db *sql.DB
}

func (r *workspaceRepo) Create(ctx context.Context, w *database.Workspace) error {
	now := database.Now()
	w.CreatedAt, w.UpdatedAt = now, now

	args, err := database.WorkspaceArgs(w)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, workspaceInsert, args...); err != nil {
		return fmt.Errorf("failed to create workspace: %w", wrapError(err))
	}
	return nil
}

func (r *workspaceRepo) Get(ctx context.Context, id string) (*database.Workspace, error) {
	w, err := database.ScanWorkspace(r.db.QueryRowContext(ctx, workspaceGetByID, id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return w, nil
}

func (r *workspaceRepo) List(ctx context.Context, page database.Pagination) ([]database.Workspace, error) {
	page = page.Normalize()
	rows, err := r.db.QueryContext(ctx, workspaceList, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	return database.CollectRows(rows.Next, func() (*database.Workspace, error) { return database.ScanWorkspace(rows) }, rows.Err)
}

func (r *workspaceRepo) Update(ctx context.Context, w *database.Workspace) error {
	w.UpdatedAt = database.Now()

	args, err := database.WorkspaceArgs(w)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, workspaceUpdate, args[1], args[2], args[3], w.UpdatedAt, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", wrapError(err))
	}
	if err := requireRow(result); err != nil {
		return err
	}
	return r.db.QueryRowContext(ctx, workspaceCreatedAt, w.ID).Scan(&w.CreatedAt)
}

func (r *workspaceRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, workspaceDelete, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return requireRow(result)
}

type conversationRepo struct {
	db *sql.DB
}

func (r *conversationRepo) Get(ctx context.Context, id string) (*database.Conversation, error) {
	c, err := database.ScanConversation(r.db.QueryRowContext(ctx, conversationGetByID, id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

func (r *conversationRepo) List(ctx context.Context, page database.Pagination) ([]database.Conversation, error) {
	page = page.Normalize()
	rows, err := r.db.QueryContext(ctx, conversationList, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	return database.CollectRows(rows.Next, func() (*database.Conversation, error) { return database.ScanConversation(rows) }, rows.Err)
}

func (r *conversationRepo) Update(ctx context.Context, c *database.Conversation) error {
	c.UpdatedAt = database.Now()

	args, err := database.ConversationArgs(c)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, conversationUpdate, args[1], args[2], args[3], args[4], c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", wrapError(err))
	}
	if err := requireRow(result); err != nil {
		return err
	}
	return r.db.QueryRowContext(ctx, conversationCreatedAt, c.ID).Scan(&c.CreatedAt)
}

type sessionRepo struct {
	db *sql.DB
}

func (r *sessionRepo) CreateWithConversation(ctx context.Context, conv *database.Conversation, s *database.Session) error {
	now := database.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	conv.CreatedAt, conv.UpdatedAt = now, now

	convArgs, err := database.ConversationArgs(conv)
	if err != nil {
		return err
	}
	sessionArgs, err := database.SessionArgs(s)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, conversationInsertIfAbsent, convArgs...); err != nil {
			return fmt.Errorf("failed to upsert conversation: %w", wrapError(err))
		}
		if _, err := tx.ExecContext(ctx, conversationTouch, now, conv.ID); err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sessionInsert, sessionArgs...); err != nil {
			return fmt.Errorf("failed to create session: %w", wrapError(err))
		}
		return nil
	})
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*database.Session, error) {
	s, err := database.ScanSession(r.db.QueryRowContext(ctx, sessionGetByID, id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) ListByConversation(ctx context.Context, conversationID string, page database.Pagination) ([]database.Session, error) {
	page = page.Normalize()
	rows, err := r.db.QueryContext(ctx, sessionListByConversation, conversationID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	return database.CollectRows(rows.Next, func() (*database.Session, error) { return database.ScanSession(rows) }, rows.Err)
}

func (r *sessionRepo) ListWithStateByConversation(ctx context.Context, conversationID string) ([]database.Session, error) {
	rows, err := r.db.QueryContext(ctx, sessionListWithStateByConversation, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions with state: %w", err)
	}
	defer rows.Close()

	return database.CollectRows(rows.Next, func() (*database.Session, error) { return database.ScanSession(rows) }, rows.Err)
}

func (r *sessionRepo) Finalize(ctx context.Context, id string, update database.SessionFinalize) error {
	args, err := database.FinalizeArgs(update, database.Now())
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, sessionFinalize, append(args, id)...)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", wrapError(err))
	}
	if n, err := result.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	var count int
	if err := r.db.QueryRowContext(ctx, sessionExists, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if count == 0 {
		return database.ErrNotFound
	}
	return database.ErrInvalidTransition
}

func (r *sessionRepo) FailCreated(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, sessionFailCreated, database.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to fail created sessions: %w", err)
	}
	return result.RowsAffected()
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}
