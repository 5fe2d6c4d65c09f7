package core

import (
	"context"
	"time"

	"github.com/hupe1980/sessionmesh/logging"
)

// loggerAdapter wraps a logging.Logger and exposes convenience methods
// (LogDebug/LogWarn/LogError). It guarantees a non-nil logger by
// substituting a NoOpLogger when constructed with nil.
type loggerAdapter struct {
	logger logging.Logger
}

// newLoggerAdapter constructs a loggerAdapter with a non-nil logger.
func newLoggerAdapter(l logging.Logger) *loggerAdapter {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	return &loggerAdapter{logger: l}
}

// Logger returns the underlying logger.
func (l *loggerAdapter) Logger() logging.Logger {
	return l.logger
}

// LogDebug logs a debug message.
func (l *loggerAdapter) LogDebug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// LogWarn logs a warning message.
func (l *loggerAdapter) LogWarn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// LogError logs an error message.
func (l *loggerAdapter) LogError(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// commitLogger is implemented by loggers with a dedicated commit record,
// such as logging.MeshLogger.
type commitLogger interface {
	LogCommit(op, sessionID string, version int64, dur time.Duration, err error)
}

// Committer is the shared plumbing of the session-scoped components: reads
// are a single Open, writes a single Open followed by one Commit. It logs
// every commit and never retries.
type Committer struct {
	*loggerAdapter
	store SessionStore
	now   func() time.Time
}

// NewCommitter binds a component to a store. A nil logger discards output and
// a nil clock uses time.Now in UTC.
func NewCommitter(store SessionStore, logger logging.Logger, now func() time.Time) *Committer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Committer{loggerAdapter: newLoggerAdapter(logger), store: store, now: now}
}

// Store returns the underlying SessionStore.
func (c *Committer) Store() SessionStore { return c.store }

// Now returns the current time according to the configured clock.
func (c *Committer) Now() time.Time { return c.now() }

// Read opens a consistent snapshot of the session.
func (c *Committer) Read(ctx context.Context, op, sessionID string) (*State, int64, error) {
	st, version, err := c.store.Open(ctx, sessionID)
	if err != nil {
		c.LogDebug("read failed", "op", op, "session_id", sessionID, "error", err)
		return nil, 0, err
	}
	return st, version, nil
}

// Update runs mutate against the latest snapshot as one atomic commit.
func (c *Committer) Update(ctx context.Context, op, sessionID string, mutate Mutator) (int64, error) {
	start := time.Now()
	version, err := CommitLatest(ctx, c.store, sessionID, mutate)
	if cl, ok := c.Logger().(commitLogger); ok {
		cl.LogCommit(op, sessionID, version, time.Since(start), err)
		return version, err
	}
	switch {
	case err == nil:
		c.LogDebug("commit applied", "op", op, "session_id", sessionID, "version", version, "duration", time.Since(start))
	case IsRetryable(err):
		c.LogWarn("commit conflict", "op", op, "session_id", sessionID, "error", err)
	case KindOf(err) == "internal":
		c.LogError("commit failed", "op", op, "session_id", sessionID, "error", err)
	default:
		c.LogDebug("commit rejected", "op", op, "session_id", sessionID, "kind", KindOf(err), "error", err)
	}
	return version, err
}
