package database

import (
	"context"
	"errors"
	"fmt"
)

// conversationRepo implements ConversationRepository.
type conversationRepo struct {
	db *DB
}

// NewConversationRepo creates a new conversation repository.
func NewConversationRepo(db *DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Get(ctx context.Context, id string) (*Conversation, error) {
	c, err := ScanConversation(r.db.pool.QueryRow(ctx, ConversationGetByID, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

func (r *conversationRepo) List(ctx context.Context, page Pagination) ([]Conversation, error) {
	page = page.Normalize()
	rows, err := r.db.pool.Query(ctx, ConversationList, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	return CollectRows(rows.Next, func() (*Conversation, error) { return ScanConversation(rows) }, rows.Err)
}

func (r *conversationRepo) Update(ctx context.Context, c *Conversation) error {
	c.UpdatedAt = Now()
	args, err := ConversationArgs(c)
	if err != nil {
		return err
	}
	err = r.db.pool.QueryRow(ctx, ConversationUpdate, args[0], args[1], args[2], args[3], args[4], c.UpdatedAt).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", WrapDBError(err))
	}
	return nil
}
