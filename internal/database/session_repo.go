package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// sessionRepo implements SessionRepository.
type sessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func NewSessionRepo(db *DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) CreateWithConversation(ctx context.Context, conv *Conversation, s *Session) error {
	now := Now()
	s.CreatedAt, s.UpdatedAt = now, now
	conv.CreatedAt, conv.UpdatedAt = now, now

	convArgs, err := ConversationArgs(conv)
	if err != nil {
		return err
	}
	sessionArgs, err := SessionArgs(s)
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ConversationInsertIfAbsent, convArgs...); err != nil {
			return fmt.Errorf("failed to upsert conversation: %w", WrapDBError(err))
		}
		if _, err := tx.Exec(ctx, ConversationTouch, conv.ID, now); err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		if _, err := tx.Exec(ctx, SessionInsert, sessionArgs...); err != nil {
			return fmt.Errorf("failed to create session: %w", WrapDBError(err))
		}
		return nil
	})
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	s, err := ScanSession(r.db.pool.QueryRow(ctx, SessionGetByID, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) ListByConversation(ctx context.Context, conversationID string, page Pagination) ([]Session, error) {
	page = page.Normalize()
	rows, err := r.db.pool.Query(ctx, SessionListByConversation, conversationID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	return CollectRows(rows.Next, func() (*Session, error) { return ScanSession(rows) }, rows.Err)
}

func (r *sessionRepo) ListWithStateByConversation(ctx context.Context, conversationID string) ([]Session, error) {
	rows, err := r.db.pool.Query(ctx, SessionListWithStateByConversation, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions with state: %w", err)
	}
	defer rows.Close()

	return CollectRows(rows.Next, func() (*Session, error) { return ScanSession(rows) }, rows.Err)
}

func (r *sessionRepo) Finalize(ctx context.Context, id string, update SessionFinalize) error {
	args, err := FinalizeArgs(update, Now())
	if err != nil {
		return err
	}

	result, err := r.db.pool.Exec(ctx, SessionFinalizeQuery, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", WrapDBError(err))
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.pool.QueryRow(ctx, SessionExists, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (r *sessionRepo) FailCreated(ctx context.Context) (int64, error) {
	result, err := r.db.pool.Exec(ctx, SessionFailCreated, Now())
	if err != nil {
		return 0, fmt.Errorf("failed to fail created sessions: %w", err)
	}
	return result.RowsAffected(), nil
}
