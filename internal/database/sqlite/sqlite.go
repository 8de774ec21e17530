// Package sqlite implements the session index repositories on an embedded
// SQLite database for single-node deployments and the admin CLI.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/conductor/agentrt/internal/database"
)

// DB is an open SQLite session index.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database file at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Health pings the database.
func (d *DB) Health(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Repositories returns the repository set backed by d.
func (d *DB) Repositories() *database.Repositories {
	return &database.Repositories{
		Presets:       &presetRepo{db: d.db},
		Workspaces:    &workspaceRepo{db: d.db},
		Conversations: &conversationRepo{db: d.db},
		Sessions:      &sessionRepo{db: d.db},
	}
}

func createTables(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS presets (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			description   TEXT,
			model         TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			toolsets      TEXT NOT NULL DEFAULT '[]',
			environment   TEXT NOT NULL DEFAULT '{}',
			subagents     TEXT NOT NULL DEFAULT '{}',
			is_default    BOOLEAN NOT NULL DEFAULT 0,
			created_at    TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_presets_single_default ON presets(is_default) WHERE is_default;

		CREATE TABLE IF NOT EXISTS workspaces (
			id          TEXT PRIMARY KEY,
			name        TEXT,
			project_ids TEXT NOT NULL DEFAULT '[]',
			metadata    TEXT NOT NULL DEFAULT '{}',
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			title             TEXT,
			default_preset_id TEXT,
			metadata          TEXT NOT NULL DEFAULT '{}',
			status            TEXT NOT NULL DEFAULT 'active'
			                  CHECK (status IN ('active', 'archived')),
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS sessions (
			id                TEXT PRIMARY KEY,
			conversation_id   TEXT NOT NULL REFERENCES conversations(id),
			parent_session_id TEXT REFERENCES sessions(id),
			project_ids       TEXT NOT NULL DEFAULT '[]',
			status            TEXT NOT NULL
			                  CHECK (status IN ('created', 'committed', 'awaiting_tool_results', 'failed', 'archived')),
			session_type      TEXT NOT NULL DEFAULT 'agent',
			transport         TEXT NOT NULL DEFAULT 'sse',
			spawned_by        TEXT,
			preset_id         TEXT,
			input             TEXT,
			final_message     TEXT,
			run_summary       TEXT,
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_conversation ON sessions(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_session_id);
	`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// withTx runs fn in a transaction, committing on success.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// wrapError maps SQLite constraint errors onto the database sentinels.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", database.ErrDuplicate, sqliteErr.Error())
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %s", database.ErrForeignKey, sqliteErr.Error())
		}
	}
	return database.WrapDBError(err)
}
