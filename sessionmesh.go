// Package sessionmesh provides a high-level façade over the session
// coordination store: a versioned, durable, conflict-aware document per
// analysis session shared by many concurrent agents. Most applications
// interact with this package by:
//  1. Creating a Mesh via New() (optionally overriding the default in-memory store)
//  2. Creating or ensuring a session
//  3. Recording findings (Ledger), caching intermediate results (Cache),
//     scheduling dependent work (Tasks) and building the report (Report)
//
// Every mutating call is one optimistic commit. A lost race surfaces as an
// error matching core.ErrVersionConflict; wrap calls with Retry to re-run them
// on a fresh snapshot. The store itself never retries.
package sessionmesh

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/sessionmesh/cache"
	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/ledger"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/report"
	"github.com/hupe1980/sessionmesh/session"
	"github.com/hupe1980/sessionmesh/tasks"
)

// Options configures the Mesh instance.
type Options struct {
	// SessionStore persists session documents (defaults to an in-memory store).
	SessionStore core.SessionStore

	// MaxCacheEntryBytes bounds a single cache value (0 uses cache.DefaultMaxEntryBytes).
	MaxCacheEntryBytes int

	// MaxTaskRetries is the number of failed attempts after which a task
	// stays failed (0 uses tasks.DefaultMaxRetries).
	MaxTaskRetries int

	// Clock returns timestamps for records. Defaults to time.Now in UTC.
	Clock func() time.Time

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Mesh aggregates the session store and the components operating on it.
type Mesh struct {
	opts Options
	c    *core.Committer

	Ledger *ledger.Ledger
	Cache  *cache.Cache
	Tasks  *tasks.Graph
	Report *report.Accumulator
}

// New creates a Mesh. Any unset service is initialized with an in-memory
// implementation.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	store := opts.SessionStore
	return &Mesh{
		opts: opts,
		c:    core.NewCommitter(store, opts.Logger, opts.Clock),
		Ledger: ledger.New(store, func(o *ledger.Options) {
			o.Logger = opts.Logger
			o.Clock = opts.Clock
		}),
		Cache: cache.New(store, func(o *cache.Options) {
			o.Logger = opts.Logger
			o.Clock = opts.Clock
			o.MaxEntryBytes = opts.MaxCacheEntryBytes
		}),
		Tasks: tasks.New(store, func(o *tasks.Options) {
			o.Logger = opts.Logger
			o.Clock = opts.Clock
			o.MaxRetries = opts.MaxTaskRetries
		}),
		Report: report.New(store, func(o *report.Options) {
			o.Logger = opts.Logger
			o.Clock = opts.Clock
		}),
	}
}

// Store returns the underlying session store.
func (m *Mesh) Store() core.SessionStore { return m.opts.SessionStore }

// CreateSession creates a new session. An empty id generates one.
func (m *Mesh) CreateSession(ctx context.Context, sessionID string, metadata map[string]string) (core.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess, err := m.Store().Create(ctx, sessionID, metadata)
	if err != nil {
		return core.Session{}, err
	}
	m.c.Logger().Info("session created", "session_id", sess.ID)
	return sess, nil
}

// EnsureSession returns the existing session or creates it on first use.
// Unlike CreateSession it requires an explicit id.
func (m *Mesh) EnsureSession(ctx context.Context, sessionID string, metadata map[string]string) (core.Session, error) {
	if err := core.ValidateID("session.ensure", "session", sessionID); err != nil {
		return core.Session{}, err
	}
	st, _, err := m.Store().Open(ctx, sessionID)
	if err == nil {
		return st.Session, nil
	}
	if !core.IsNotFound(err) {
		return core.Session{}, err
	}
	sess, err := m.CreateSession(ctx, sessionID, metadata)
	if core.IsAlreadyExists(err) {
		// Another caller created it between Open and Create.
		st, _, err := m.Store().Open(ctx, sessionID)
		if err != nil {
			return core.Session{}, err
		}
		return st.Session, nil
	}
	return sess, err
}

// OpenSession returns a snapshot of the full session document.
func (m *Mesh) OpenSession(ctx context.Context, sessionID string) (*core.State, int64, error) {
	return m.c.Read(ctx, "session.open", sessionID)
}

// ListSessions returns all session ids.
func (m *Mesh) ListSessions(ctx context.Context) ([]string, error) {
	return m.Store().List(ctx)
}

// DeleteSession tears down the session and everything it owns.
func (m *Mesh) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.Store().Delete(ctx, sessionID); err != nil {
		return err
	}
	m.c.Logger().Info("session deleted", "session_id", sessionID)
	return nil
}

// Complete marks the session completed. No further mutation is accepted.
func (m *Mesh) Complete(ctx context.Context, sessionID, reason string) (core.Session, error) {
	return m.finish(ctx, sessionID, core.SessionCompleted, reason)
}

// Fail marks the session failed. No further mutation is accepted.
func (m *Mesh) Fail(ctx context.Context, sessionID, reason string) (core.Session, error) {
	return m.finish(ctx, sessionID, core.SessionFailed, reason)
}

func (m *Mesh) finish(ctx context.Context, sessionID string, status core.SessionStatus, reason string) (core.Session, error) {
	_, err := m.c.Update(ctx, "session."+string(status), sessionID, func(st *core.State) error {
		st.Session.Status = status
		st.Session.StatusReason = reason
		return nil
	})
	if err != nil {
		return core.Session{}, err
	}
	// Version and UpdatedAt are stamped by the store after mutate returns.
	st, _, err := m.OpenSession(ctx, sessionID)
	if err != nil {
		return core.Session{}, err
	}
	m.c.Logger().Info("session finished", "session_id", sessionID, "status", status)
	return st.Session, nil
}

// Summary is the aggregate view of a session computed from one snapshot.
type Summary struct {
	Session core.Session   `json:"session"`
	Ledger  ledger.Summary `json:"ledger"`
	Cache   cache.Stats    `json:"cache"`
	Tasks   tasks.Progress `json:"tasks"`
	Report  ReportSummary  `json:"report"`
}

// ReportSummary describes the report part of a session.
type ReportSummary struct {
	Initialized bool             `json:"initialized"`
	Style       core.ReportStyle `json:"style,omitempty"`
	Sections    int              `json:"sections"`
	Rows        int              `json:"rows"`
}

// Summary computes aggregate counts of a session on read.
func (m *Mesh) Summary(ctx context.Context, sessionID string) (Summary, error) {
	st, version, err := m.c.Read(ctx, "session.summary", sessionID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		Session: st.Session,
		Ledger:  ledger.Summarize(st, version),
		Cache:   cache.Summarize(st),
		Tasks:   tasks.Summarize(st.Tasks),
		Report: ReportSummary{
			Initialized: st.Report.Initialized,
			Style:       st.Report.Style,
			Sections:    len(st.Report.Sections),
		},
	}
	sum.Tasks.Version = version
	for _, sec := range st.Report.Sections {
		sum.Report.Rows += len(sec.Rows)
	}
	return sum, nil
}

// Close closes the underlying store.
func (m *Mesh) Close() error {
	return m.Store().Close()
}
