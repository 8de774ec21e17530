package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// presetRepo implements PresetRepository.
type presetRepo struct {
	db *DB
}

// NewPresetRepo creates a new preset repository.
func NewPresetRepo(db *DB) PresetRepository {
	return &presetRepo{db: db}
}

func (r *presetRepo) Create(ctx context.Context, p *Preset) error {
	now := Now()
	p.CreatedAt, p.UpdatedAt = now, now

	args, err := PresetArgs(p)
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if p.IsDefault {
			if _, err := tx.Exec(ctx, PresetClearDefault, p.ID); err != nil {
				return fmt.Errorf("failed to clear default preset: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, PresetInsert, args...); err != nil {
			return fmt.Errorf("failed to create preset: %w", WrapDBError(err))
		}
		return nil
	})
}

func (r *presetRepo) Get(ctx context.Context, id string) (*Preset, error) {
	p, err := ScanPreset(r.db.pool.QueryRow(ctx, PresetGetByID, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preset: %w", err)
	}
	return p, nil
}

func (r *presetRepo) GetDefault(ctx context.Context) (*Preset, error) {
	p, err := ScanPreset(r.db.pool.QueryRow(ctx, PresetGetDefault))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get default preset: %w", err)
	}
	return p, nil
}

func (r *presetRepo) List(ctx context.Context, page Pagination) ([]Preset, error) {
	page = page.Normalize()
	rows, err := r.db.pool.Query(ctx, PresetList, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	defer rows.Close()

	return CollectRows(rows.Next, func() (*Preset, error) { return ScanPreset(rows) }, rows.Err)
}

func (r *presetRepo) Update(ctx context.Context, p *Preset) error {
	p.UpdatedAt = Now()
	args, err := PresetArgs(p)
	if err != nil {
		return err
	}
	// PresetUpdate takes every column but created_at/updated_at, then updated_at.
	updateArgs := append(append([]any{}, args[:9]...), p.UpdatedAt)

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if p.IsDefault {
			if _, err := tx.Exec(ctx, PresetClearDefault, p.ID); err != nil {
				return fmt.Errorf("failed to clear default preset: %w", err)
			}
		}
		if err := tx.QueryRow(ctx, PresetUpdate, updateArgs...).Scan(&p.CreatedAt); err != nil {
			return fmt.Errorf("failed to update preset: %w", WrapDBError(err))
		}
		return nil
	})
}

func (r *presetRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, PresetDelete, id)
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
