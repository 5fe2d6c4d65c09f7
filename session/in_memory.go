package session

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/sessionmesh/core"
)

// InMemoryStore is a volatile SessionStore implementation storing session
// documents in a process local map. It is safe for concurrent access and best
// suited for tests or ephemeral demo servers. Documents are cloned on the way
// in and out to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	opts     Options
	sessions map[string]*core.State
	closed   bool
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	return &InMemoryStore{opts: applyOptions(optFns), sessions: make(map[string]*core.State)}
}

// Create registers a new session at version zero.
func (s *InMemoryStore) Create(ctx context.Context, sessionID string, metadata map[string]string) (core.Session, error) {
	if err := core.ValidateID("session.create", "session", sessionID); err != nil {
		return core.Session{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.Session{}, ErrClosed
	}
	if _, ok := s.sessions[sessionID]; ok {
		return core.Session{}, core.NewError(core.ErrAlreadyExists, "session.create", sessionID, "", "")
	}
	st := core.NewState(sessionID, metadata, s.opts.Clock())
	s.sessions[sessionID] = st
	return st.Clone().Session, nil
}

// Open returns a clone of the stored document and its version.
func (s *InMemoryStore) Open(ctx context.Context, sessionID string) (*core.State, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, ErrClosed
	}
	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, 0, core.NewError(core.ErrNotFound, "session.open", sessionID, "", "")
	}
	return st.Clone(), st.Session.Version, nil
}

// Commit applies mutate under the write lock if the version still matches.
func (s *InMemoryStore) Commit(ctx context.Context, sessionID string, expectedVersion int64, mutate core.Mutator) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	cur, ok := s.sessions[sessionID]
	if !ok {
		return 0, core.NewError(core.ErrNotFound, "session.commit", sessionID, "", "")
	}
	next, err := core.ApplyCommit(cur, sessionID, expectedVersion, mutate, s.opts.Clock())
	if err != nil {
		return 0, err
	}
	// next is already a private clone produced by ApplyCommit.
	s.sessions[sessionID] = next
	return next.Session.Version, nil
}

// Delete discards the session and everything it owns.
func (s *InMemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.sessions[sessionID]; !ok {
		return core.NewError(core.ErrNotFound, "session.delete", sessionID, "", "")
	}
	delete(s.sessions, sessionID)
	return nil
}

// List returns all session ids sorted.
func (s *InMemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close drops all sessions. Further calls fail with ErrClosed.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessions = nil
	return nil
}
