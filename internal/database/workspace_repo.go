package database

import (
	"context"
	"errors"
	"fmt"
)

// workspaceRepo implements WorkspaceRepository.
type workspaceRepo struct {
	db *DB
}

// NewWorkspaceRepo creates a new workspace repository.
func NewWorkspaceRepo(db *DB) WorkspaceRepository {
	return &workspaceRepo{db: db}
}

func (r *workspaceRepo) Create(ctx context.Context, w *Workspace) error {
	now := Now()
	w.CreatedAt, w.UpdatedAt = now, now

	args, err := WorkspaceArgs(w)
	if err != nil {
		return err
	}
	if _, err := r.db.pool.Exec(ctx, WorkspaceInsert, args...); err != nil {
		return fmt.Errorf("failed to create workspace: %w", WrapDBError(err))
	}
	return nil
}

func (r *workspaceRepo) Get(ctx context.Context, id string) (*Workspace, error) {
	w, err := ScanWorkspace(r.db.pool.QueryRow(ctx, WorkspaceGetByID, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return w, nil
}

func (r *workspaceRepo) List(ctx context.Context, page Pagination) ([]Workspace, error) {
	page = page.Normalize()
	rows, err := r.db.pool.Query(ctx, WorkspaceList, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	return CollectRows(rows.Next, func() (*Workspace, error) { return ScanWorkspace(rows) }, rows.Err)
}

func (r *workspaceRepo) Update(ctx context.Context, w *Workspace) error {
	w.UpdatedAt = Now()
	args, err := WorkspaceArgs(w)
	if err != nil {
		return err
	}
	err = r.db.pool.QueryRow(ctx, WorkspaceUpdate, args[0], args[1], args[2], args[3], w.UpdatedAt).Scan(&w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", WrapDBError(err))
	}
	return nil
}

func (r *workspaceRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, WorkspaceDelete, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
