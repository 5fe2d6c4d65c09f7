package core

import (
	"context"
	"time"
)

// SessionStatus is the lifecycle phase of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal reports whether the status forbids further mutation.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Session is the header of a session document. Version increases by exactly
// one per committed mutation.
type Session struct {
	ID           string            `json:"id"`
	Status       SessionStatus     `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	Version      int64             `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// State is the full document persisted for one session: header plus the
// ledger, cache, task graph and report owned by it. Backends store it as a
// single record.
//
// Contract:
//   - A State obtained from SessionStore.Open is a private copy; mutating it
//     has no effect on the store
//   - Clone performs a deep copy of every map and slice.
type State struct {
	Session Session     `json:"session"`
	Ledger  LedgerState `json:"ledger"`
	Cache   CacheState  `json:"cache"`
	Tasks   TaskState   `json:"tasks"`
	Report  ReportState `json:"report"`
}

// NewState creates the initial document for a freshly created session at
// version zero.
func NewState(id string, metadata map[string]string, now time.Time) *State {
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return &State{
		Session: Session{
			ID:        id,
			Status:    SessionActive,
			CreatedAt: now,
			UpdatedAt: now,
			Metadata:  meta,
		},
	}
}

// Clone returns a deep copy safe for independent mutation.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{
		Session: s.Session,
		Ledger:  s.Ledger.clone(),
		Cache:   s.Cache.clone(),
		Tasks:   s.Tasks.clone(),
		Report:  s.Report.clone(),
	}
	// Metadata is always non-nil on a clone so mutators can assign directly.
	clone.Session.Metadata = make(map[string]string, len(s.Session.Metadata))
	for k, v := range s.Session.Metadata {
		clone.Session.Metadata[k] = v
	}
	return clone
}

// Mutator transforms a session document in place. It receives a private
// clone; returning an error aborts the commit and nothing is written.
type Mutator func(*State) error

// SessionStore persists session documents and offers the single atomic
// commit primitive every component builds on.
//
// Contract:
//   - Create fails with ErrAlreadyExists when the id is in use
//   - Open returns a consistent snapshot and its version, or ErrNotFound
//   - Commit applies mutate to the snapshot at expectedVersion and persists
//     the result only if the stored version still equals expectedVersion;
//     otherwise it returns a *ConflictError without writing. Mutating a
//     terminal session fails with ErrTerminalSession
//   - A successful Commit is durable before it returns
//   - Implementations never retry internally and never block indefinitely.
type SessionStore interface {
	Create(ctx context.Context, sessionID string, metadata map[string]string) (Session, error)
	Open(ctx context.Context, sessionID string) (*State, int64, error)
	Commit(ctx context.Context, sessionID string, expectedVersion int64, mutate Mutator) (int64, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}
