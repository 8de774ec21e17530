// Package statestore persists the opaque execution state of committed
// sessions as blobs keyed by session id.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no state exists for a session.
	ErrNotFound = errors.New("session state not found")

	// ErrInvalidSessionID is returned for ids that cannot name exactly one
	// blob: empty, "." or "..", or containing a path separator.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// DeferredToolKind distinguishes tool calls awaiting approval from calls
// awaiting an externally produced result.
type DeferredToolKind string

const (
	DeferredToolApproval DeferredToolKind = "approval"
	DeferredToolCall     DeferredToolKind = "call"
)

// DeferredToolMeta describes one pending deferred tool call.
type DeferredToolMeta struct {
	ToolName string           `json:"tool_name"`
	Kind     DeferredToolKind `json:"kind"`
}

// ContextState is the agent context part of a session state.
type ContextState struct {
	Data json.RawMessage `json:"data,omitempty"`
	// DeferredTools maps tool call ids to the calls left pending when the
	// session committed as awaiting_tool_results.
	DeferredTools map[string]DeferredToolMeta `json:"deferred_tools,omitempty"`
}

// SessionState is the resumable state of one committed session. Messages
// and Environment are owned by the agent runtime and stored as-is.
type SessionState struct {
	Context     ContextState      `json:"context"`
	Messages    []json.RawMessage `json:"messages"`
	Environment json.RawMessage   `json:"environment,omitempty"`
}

// Store persists session state blobs. Implementations must make a Write
// visible atomically: a concurrent Read sees either the previous blob or
// the complete new one.
type Store interface {
	Write(ctx context.Context, sessionID string, state *SessionState) error
	// Read returns ErrNotFound when no state exists for sessionID.
	Read(ctx context.Context, sessionID string) (*SessionState, error)
	Exists(ctx context.Context, sessionID string) (bool, error)
	// Delete removes the state; deleting a missing state is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// ValidateSessionID reports whether sessionID is usable as a single key
// segment.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" || sessionID == "." || sessionID == ".." || strings.ContainsAny(sessionID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return nil
}

// Key returns the storage key of a session's state blob.
func Key(namespace, sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	if namespace == "" {
		return path.Join("sessions", sessionID, "state"), nil
	}
	return path.Join(namespace, "sessions", sessionID, "state"), nil
}

// Observer receives per-operation measurements from a store.
// *metrics.StoreMetrics satisfies it.
type Observer interface {
	ObserveOperation(backend, op string, err error, d time.Duration)
	AddBytes(backend, direction string, n int)
}
