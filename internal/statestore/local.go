package statestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/conductor/agentrt/pkg/log"
)

const backendLocal = "local"

// rename publishes a staged blob; tests replace it to fail the last step.
var rename = os.Rename

// LocalStore keeps state blobs on the local filesystem.
type LocalStore struct {
	root        string
	namespace   string
	compression Compression
	observer    Observer
	logger      log.Logger
}

// LocalConfig configures a LocalStore.
type LocalConfig struct {
	Root        string
	Namespace   string
	Compression Compression
}

// NewLocalStore creates a LocalStore rooted at cfg.Root.
func NewLocalStore(cfg LocalConfig, observer Observer, logger log.Logger) (*LocalStore, error) {
	if cfg.Root == "" {
		return nil, errors.New("local state store root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state store root: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &LocalStore{
		root:        cfg.Root,
		namespace:   cfg.Namespace,
		compression: cfg.Compression,
		observer:    observer,
		logger:      logger.With("component", "state_store").With("backend", backendLocal),
	}, nil
}

func (s *LocalStore) path(sessionID string) (string, error) {
	key, err := Key(s.namespace, sessionID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Write stages the blob in a temp file next to its destination and renames
// it into place.
func (s *LocalStore) Write(ctx context.Context, sessionID string, state *SessionState) (err error) {
	start := time.Now()
	defer func() { s.observe("write", err, start) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.path(sessionID)
	if err != nil {
		return err
	}
	data, err := Encode(state, s.compression)
	if err != nil {
		return err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}
	cleanup = false

	if s.observer != nil {
		s.observer.AddBytes(backendLocal, "write", len(data))
	}
	s.logger.Debug().Str("session_id", sessionID).Int("bytes", len(data)).Msg("wrote session state")
	return nil
}

// Read loads a session's state.
func (s *LocalStore) Read(ctx context.Context, sessionID string) (state *SessionState, err error) {
	start := time.Now()
	defer func() { s.observe("read", err, start) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	if s.observer != nil {
		s.observer.AddBytes(backendLocal, "read", len(data))
	}
	return Decode(data)
}

// Exists reports whether a session has stored state.
func (s *LocalStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target, err := s.path(sessionID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat state: %w", err)
}

// Delete removes a session's state and its now empty directory.
func (s *LocalStore) Delete(ctx context.Context, sessionID string) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", err, start) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	// Only succeeds when empty; leftover temp files keep the directory.
	_ = os.Remove(filepath.Dir(target))
	return nil
}

func (s *LocalStore) observe(op string, err error, start time.Time) {
	if s.observer != nil {
		s.observer.ObserveOperation(backendLocal, op, err, time.Since(start))
	}
}

// HealthCheck verifies the store root is a reachable directory.
func (s *LocalStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("state store root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("state store root %s is not a directory", s.root)
	}
	return nil
}
