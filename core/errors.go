package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for an unknown session, task, section or cache key.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a session or task id is already in use.
	ErrAlreadyExists = errors.New("already exists")
	// ErrVersionConflict is returned when an optimistic commit lost the race.
	ErrVersionConflict = errors.New("version conflict")
	// ErrCycle is returned when a dependency edge would make the task graph cyclic.
	ErrCycle = errors.New("dependency cycle")
	// ErrInvalidTransition is returned for an illegal status change.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrCapacityExceeded is returned when a cache value exceeds the per-entry limit.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrTerminalSession is returned when mutating a completed or failed session.
	ErrTerminalSession = errors.New("session is terminal")
	// ErrInvalidArgument is returned for malformed input (empty ids, unknown tiers).
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error is the typed error returned by store operations. Kind is one of the
// sentinel errors above and is reachable through errors.Is.
type Error struct {
	Kind      error
	Op        string
	SessionID string
	Key       string
	Detail    string
}

// NewError builds an *Error. Key and detail are optional.
func NewError(kind error, op, sessionID, key, detail string) *Error {
	return &Error{Kind: kind, Op: op, SessionID: sessionID, Key: key, Detail: detail}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.SessionID != "" {
		fmt.Fprintf(&b, " (session %s", e.SessionID)
		if e.Key != "" {
			fmt.Fprintf(&b, ", %s", e.Key)
		}
		b.WriteString(")")
	} else if e.Key != "" {
		fmt.Fprintf(&b, " (%s)", e.Key)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap exposes the sentinel kind.
func (e *Error) Unwrap() error { return e.Kind }

// ConflictError reports a lost optimistic commit together with the versions
// involved so callers can decide whether to re-open and retry.
type ConflictError struct {
	SessionID string
	Expected  int64
	Actual    int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("commit: version conflict (session %s): expected %d, current %d", e.SessionID, e.Expected, e.Actual)
}

// Unwrap returns ErrVersionConflict.
func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// Temporary reports true: a lost race may succeed on a fresh snapshot.
func (e *ConflictError) Temporary() bool { return true }

// IsRetryable reports whether re-opening the session and repeating the
// operation may succeed. Only lost commit races qualify; cycle and terminal
// session errors indicate caller logic errors.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsNotFound reports whether err matches ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err matches ErrAlreadyExists.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// KindOf returns a stable snake_case identifier for the error kind, or
// "internal" for errors that do not carry one.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrCycle):
		return "cycle"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrTerminalSession):
		return "terminal_session"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}
