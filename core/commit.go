package core

import (
	"context"
	"fmt"
	"time"
)

// ApplyCommit computes the successor of current under the optimistic commit
// rules shared by every backend. It never modifies current. Backends call it
// while holding whatever exclusion they use for the session record and then
// persist the returned document.
func ApplyCommit(current *State, sessionID string, expected int64, mutate Mutator, now time.Time) (*State, error) {
	if current.Session.Version != expected {
		return nil, &ConflictError{SessionID: sessionID, Expected: expected, Actual: current.Session.Version}
	}
	if current.Session.Status.IsTerminal() {
		return nil, NewError(ErrTerminalSession, "commit", sessionID, "", string(current.Session.Status))
	}
	next := current.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.Session.ID = sessionID
	next.Session.CreatedAt = current.Session.CreatedAt
	next.Session.Version = expected + 1
	next.Session.UpdatedAt = now
	return next, nil
}

// CommitLatest opens the session and commits mutate against the version it
// observed. Exactly one attempt is made; a concurrent writer surfaces as a
// *ConflictError.
func CommitLatest(ctx context.Context, store SessionStore, sessionID string, mutate Mutator) (int64, error) {
	_, version, err := store.Open(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return store.Commit(ctx, sessionID, version, mutate)
}

// ValidateID rejects empty or path-like session and task identifiers.
func ValidateID(op, kind, id string) error {
	if id == "" {
		return NewError(ErrInvalidArgument, op, "", "", fmt.Sprintf("%s id is empty", kind))
	}
	for _, r := range id {
		if r == '/' || r == '\\' || r == 0 {
			return NewError(ErrInvalidArgument, op, "", id, fmt.Sprintf("%s id contains %q", kind, r))
		}
	}
	if id == "." || id == ".." {
		return NewError(ErrInvalidArgument, op, "", id, fmt.Sprintf("%s id is reserved", kind))
	}
	return nil
}
