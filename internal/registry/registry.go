// Package registry tracks the sessions currently executing in this process.
// It is the control surface for interrupts and the drain signal used during
// graceful shutdown.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/pkg/log"
	"github.com/conductor/agentrt/pkg/metrics"
)

var (
	// ErrShuttingDown is returned by Register once BeginShutdown was called.
	ErrShuttingDown = errors.New("registry is shutting down")

	// ErrAlreadyRegistered is returned when a live session reuses an id.
	ErrAlreadyRegistered = errors.New("session already registered")

	// ErrNotRegistered is returned for operations on unknown sessions.
	ErrNotRegistered = errors.New("session not registered")
)

// Interrupter is the control handle of a running execution.
type Interrupter interface {
	Interrupt()
}

// RuntimeSession describes one in-flight execution.
type RuntimeSession struct {
	SessionID       string
	ConversationID  string
	ParentSessionID *string
	PresetID        *string
	ProjectIDs      []string
	SessionType     database.SessionType
	Transport       database.Transport
	SpawnedBy       *string
	StartedAt       time.Time
}

type entry struct {
	session RuntimeSession
	handle  Interrupter
	// pending is set when an interrupt arrives before the handle; Attach
	// delivers it.
	pending bool
}

// Registry is a concurrency-safe table of running sessions.
type Registry struct {
	mu           sync.Mutex
	sessions     map[string]*entry
	drained      chan struct{}
	shuttingDown bool

	metrics *metrics.SessionMetrics
	logger  log.Logger
}

// New creates an empty Registry. m may be nil.
func New(m *metrics.SessionMetrics, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	drained := make(chan struct{})
	close(drained)
	return &Registry{
		sessions: make(map[string]*entry),
		drained:  drained,
		metrics:  m,
		logger:   logger.With("component", "registry"),
	}
}

// Register adds a session. It fails with ErrShuttingDown after
// BeginShutdown and with ErrAlreadyRegistered for a duplicate live id.
func (r *Registry) Register(s RuntimeSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shuttingDown {
		return ErrShuttingDown
	}
	if _, ok := r.sessions[s.SessionID]; ok {
		return ErrAlreadyRegistered
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}
	if len(r.sessions) == 0 {
		r.drained = make(chan struct{})
	}
	r.sessions[s.SessionID] = &entry{session: s}
	r.metrics.SetActive(len(r.sessions))

	r.logger.Debug().
		Str("session_id", s.SessionID).
		Str("conversation_id", s.ConversationID).
		Int("active", len(r.sessions)).
		Msg("session registered")
	return nil
}

// Unregister removes a session and returns it. Removing the last session
// releases every drain waiter.
func (r *Registry) Unregister(sessionID string) (*RuntimeSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, sessionID)
	if len(r.sessions) == 0 {
		close(r.drained)
	}
	r.metrics.SetActive(len(r.sessions))

	r.logger.Debug().
		Str("session_id", sessionID).
		Int("active", len(r.sessions)).
		Msg("session unregistered")

	s := e.session
	return &s, true
}

// Attach sets the control handle of a registered session. An interrupt
// requested before the handle existed is delivered immediately.
func (r *Registry) Attach(sessionID string, h Interrupter) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	e.handle = h
	pending := e.pending
	e.pending = false
	r.mu.Unlock()

	if pending {
		r.logger.Debug().Str("session_id", sessionID).Msg("delivering pending interrupt")
		h.Interrupt()
	}
	return nil
}

// Get returns a registered session.
func (r *Registry) Get(sessionID string) (*RuntimeSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	s := e.session
	return &s, true
}

// GetByConversation returns the registered sessions of a conversation,
// oldest first.
func (r *Registry) GetByConversation(conversationID string) []RuntimeSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []RuntimeSession
	for _, e := range r.sessions {
		if e.session.ConversationID == conversationID {
			out = append(out, e.session)
		}
	}
	sortByStart(out)
	return out
}

// ActiveAgentSession returns the registered agent-type session of a
// conversation, if any. When several exist the most recently started wins.
func (r *Registry) ActiveAgentSession(conversationID string) (*RuntimeSession, bool) {
	sessions := r.GetByConversation(conversationID)
	for i := len(sessions) - 1; i >= 0; i-- {
		if sessions[i].SessionType == database.SessionTypeAgent {
			s := sessions[i]
			return &s, true
		}
	}
	return nil, false
}

// Interrupt signals one session. A session whose runtime has not started
// yet is marked and signalled on Attach. It returns ErrNotRegistered for
// unknown sessions.
func (r *Registry) Interrupt(sessionID string) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	h := e.handle
	if h == nil {
		e.pending = true
	}
	r.mu.Unlock()

	if h != nil {
		h.Interrupt()
	}
	r.metrics.AddInterrupts(1)
	return nil
}

// InterruptAll signals every registered session and returns how many were
// signalled. Sessions without a handle yet are signalled on Attach.
// Sessions stay registered until their executions finalize.
func (r *Registry) InterruptAll() int {
	r.mu.Lock()
	handles := make([]Interrupter, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.handle != nil {
			handles = append(handles, e.handle)
		} else {
			e.pending = true
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, h := range handles {
		h.Interrupt()
	}
	r.metrics.AddInterrupts(n)
	r.logger.Info().Int("count", n).Int("pending", n-len(handles)).Msg("interrupted running sessions")
	return n
}

// BeginShutdown stops accepting new sessions.
func (r *Registry) BeginShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shuttingDown = true
}

// IsShuttingDown reports whether BeginShutdown was called.
func (r *Registry) IsShuttingDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shuttingDown
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// WaitUntilDrained blocks until the registry is empty, timeout elapses or
// ctx is done, and reports whether it drained. A non-positive timeout waits
// on ctx alone.
func (r *Registry) WaitUntilDrained(ctx context.Context, timeout time.Duration) bool {
	r.mu.Lock()
	drained := r.drained
	r.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-drained:
		return true
	case <-expired:
	case <-ctx.Done():
	}

	// The registry may have drained while the timer fired.
	return r.Len() == 0
}

func sortByStart(sessions []RuntimeSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
}
