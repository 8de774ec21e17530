package session

import (
	"context"
	"sort"
	"sync"

	"github.com/conductor/agentrt/internal/database"
	"github.com/conductor/agentrt/internal/statestore"
)

// memRepo is an in-memory conversation and session repository.
type memRepo struct {
	mu            sync.Mutex
	conversations map[string]*database.Conversation
	sessions      map[string]*database.Session
	order         []string

	finalizeErr error
	finalized   []string
}

func newMemRepo() *memRepo {
	return &memRepo{
		conversations: map[string]*database.Conversation{},
		sessions:      map[string]*database.Session{},
	}
}

func (r *memRepo) repositories() *database.Repositories {
	return &database.Repositories{Conversations: r, Sessions: sessionView{r}}
}

func (r *memRepo) Get(_ context.Context, id string) (*database.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) List(_ context.Context, _ database.Pagination) ([]database.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]database.Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) Update(_ context.Context, c *database.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[c.ID]; !ok {
		return database.ErrNotFound
	}
	cp := *c
	r.conversations[c.ID] = &cp
	return nil
}

func (r *memRepo) CreateWithConversation(_ context.Context, conv *database.Conversation, s *database.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return database.ErrDuplicate
	}
	if s.ParentSessionID != nil {
		if _, ok := r.sessions[*s.ParentSessionID]; !ok {
			return database.ErrForeignKey
		}
	}
	if _, ok := r.conversations[conv.ID]; !ok {
		cp := *conv
		r.conversations[conv.ID] = &cp
	}
	cp := *s
	r.sessions[s.ID] = &cp
	r.order = append(r.order, s.ID)
	return nil
}

func (r *memRepo) session(id string) *database.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (r *memRepo) getSession(id string) (*database.Session, error) {
	if s := r.session(id); s != nil {
		return s, nil
	}
	return nil, database.ErrNotFound
}

func (r *memRepo) ListByConversation(_ context.Context, conversationID string, _ database.Pagination) ([]database.Session, error) {
	return r.filter(conversationID, func(*database.Session) bool { return true }), nil
}

func (r *memRepo) ListWithStateByConversation(_ context.Context, conversationID string) ([]database.Session, error) {
	return r.filter(conversationID, func(s *database.Session) bool { return s.Status.HasState() }), nil
}

func (r *memRepo) filter(conversationID string, keep func(*database.Session) bool) []database.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []database.Session
	for _, id := range r.order {
		s := r.sessions[id]
		if s.ConversationID == conversationID && keep(s) {
			out = append(out, *s)
		}
	}
	return out
}

func (r *memRepo) Finalize(_ context.Context, id string, u database.SessionFinalize) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalizeErr != nil {
		return r.finalizeErr
	}
	s, ok := r.sessions[id]
	if !ok {
		return database.ErrNotFound
	}
	if s.Status != database.SessionStatusCreated {
		return database.ErrInvalidTransition
	}
	s.Status = u.Status
	s.FinalMessage = u.FinalMessage
	s.RunSummary = u.RunSummary
	r.finalized = append(r.finalized, id)
	return nil
}

func (r *memRepo) FailCreated(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.Status == database.SessionStatusCreated {
			s.Status = database.SessionStatusFailed
			n++
		}
	}
	return n, nil
}

// sessionView adapts memRepo's session Get, which clashes with the
// conversation Get above.
type sessionView struct{ *memRepo }

func (v sessionView) Get(_ context.Context, id string) (*database.Session, error) {
	return v.getSession(id)
}

// failingStore wraps a Store and fails writes on demand.
type failingStore struct {
	statestore.Store
	writeErr error
	writes   int
}

func (f *failingStore) Write(ctx context.Context, id string, s *statestore.SessionState) error {
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.Store.Write(ctx, id, s)
}
