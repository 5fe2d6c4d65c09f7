// Package sqlite provides a SessionStore backed by a SQLite database with one
// row per session. The row holds the full JSON document and the version used
// for the optimistic commit check.
//
// Two drivers are supported: "sqlite3" (github.com/mattn/go-sqlite3, cgo) and
// "sqlite" (modernc.org/sqlite, pure Go).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	moderncsqlite "modernc.org/sqlite"

	"github.com/hupe1980/sessionmesh/core"
)

const (
	// DriverMattn is the cgo driver registered by github.com/mattn/go-sqlite3.
	DriverMattn = "sqlite3"
	// DriverModernc is the pure Go driver registered by modernc.org/sqlite.
	DriverModernc = "sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	status TEXT NOT NULL,
	document TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Options configures a Store.
type Options struct {
	// Driver is DriverMattn (default) or DriverModernc.
	Driver string
	// BusyTimeout bounds how long a writer waits for the database lock.
	BusyTimeout time.Duration
	// Clock returns the commit timestamp. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// Store is a SQLite backed core.SessionStore.
type Store struct {
	db   *sql.DB
	opts Options
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Driver:      DriverMattn,
		BusyTimeout: 5 * time.Second,
		Clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn, err := buildDSN(opts.Driver, path, opts.BusyTimeout)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, opts: opts}, nil
}

func buildDSN(driver, path string, busy time.Duration) (string, error) {
	ms := busy.Milliseconds()
	switch driver {
	case DriverMattn:
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=%d&_txlock=immediate", path, ms), nil
	case DriverModernc:
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(%d)&_txlock=immediate", path, ms), nil
	default:
		return "", fmt.Errorf("sqlite: unknown driver %q", driver)
	}
}

// WithDriver selects the database/sql driver name.
func WithDriver(driver string) func(o *Options) {
	return func(o *Options) { o.Driver = driver }
}

// WithBusyTimeout bounds how long a commit waits for another writer.
func WithBusyTimeout(d time.Duration) func(o *Options) {
	return func(o *Options) { o.BusyTimeout = d }
}

// WithClock overrides the commit timestamp source.
func WithClock(clock func() time.Time) func(o *Options) {
	return func(o *Options) { o.Clock = clock }
}

// Create inserts the version zero row.
func (s *Store) Create(ctx context.Context, sessionID string, metadata map[string]string) (core.Session, error) {
	if err := core.ValidateID("session.create", "session", sessionID); err != nil {
		return core.Session{}, err
	}
	st := core.NewState(sessionID, metadata, s.opts.Clock())
	doc, err := json.Marshal(st)
	if err != nil {
		return core.Session{}, fmt.Errorf("session.create: marshal: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, version, status, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		sessionID, st.Session.Version, string(st.Session.Status), string(doc),
		st.Session.CreatedAt.UnixNano(), st.Session.UpdatedAt.UnixNano())
	if err != nil {
		return core.Session{}, fmt.Errorf("session.create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Session{}, fmt.Errorf("session.create: %w", err)
	}
	if n == 0 {
		return core.Session{}, core.NewError(core.ErrAlreadyExists, "session.create", sessionID, "", "")
	}
	return st.Session, nil
}

// Open loads the stored document.
func (s *Store) Open(ctx context.Context, sessionID string) (*core.State, int64, error) {
	st, err := s.load(ctx, s.db, "session.open", sessionID)
	if err != nil {
		return nil, 0, err
	}
	return st, st.Session.Version, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) load(ctx context.Context, q queryer, op, sessionID string) (*core.State, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT document FROM sessions WHERE id = ?`, sessionID).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewError(core.ErrNotFound, op, sessionID, "", "")
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var st core.State
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	return &st, nil
}

// Commit applies mutate inside a transaction and updates the row only if the
// version column still equals expectedVersion. Transactions begin IMMEDIATE,
// so the write lock is held before the row is read. A writer still holding
// the lock after the busy timeout is reported as a version conflict.
func (s *Store) Commit(ctx context.Context, sessionID string, expectedVersion int64, mutate core.Mutator) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return 0, busyConflict(sessionID, expectedVersion)
		}
		return 0, fmt.Errorf("session.commit: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cur, err := s.load(ctx, tx, "session.commit", sessionID)
	if err != nil {
		return 0, err
	}
	next, err := core.ApplyCommit(cur, sessionID, expectedVersion, mutate, s.opts.Clock())
	if err != nil {
		return 0, err
	}
	doc, err := json.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("session.commit: marshal: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET version = ?, status = ?, document = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		next.Session.Version, string(next.Session.Status), string(doc), next.Session.UpdatedAt.UnixNano(),
		sessionID, expectedVersion)
	if err != nil {
		if isBusy(err) {
			return 0, busyConflict(sessionID, expectedVersion)
		}
		return 0, fmt.Errorf("session.commit: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session.commit: %w", err)
	}
	if n == 0 {
		return 0, &core.ConflictError{SessionID: sessionID, Expected: expectedVersion, Actual: cur.Session.Version}
	}
	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return 0, busyConflict(sessionID, expectedVersion)
		}
		return 0, fmt.Errorf("session.commit: %w", err)
	}
	return next.Session.Version, nil
}

// busyConflict reports a commit that lost the write lock to another
// connection. The competing version is unknown; it is at least expected+1.
func busyConflict(sessionID string, expectedVersion int64) error {
	return &core.ConflictError{SessionID: sessionID, Expected: expectedVersion, Actual: expectedVersion + 1}
}

// isBusy reports SQLITE_BUSY and SQLITE_LOCKED, including extended codes such
// as SQLITE_BUSY_SNAPSHOT, from either driver.
func isBusy(err error) bool {
	var me sqlite3.Error
	if errors.As(err, &me) {
		return me.Code == sqlite3.ErrBusy || me.Code == sqlite3.ErrLocked
	}
	var ne *moderncsqlite.Error
	if errors.As(err, &ne) {
		switch ne.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}
	return false
}

// Primary result codes shared by both drivers.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// Delete removes the session row.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("session.delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session.delete: %w", err)
	}
	if n == 0 {
		return core.NewError(core.ErrNotFound, "session.delete", sessionID, "", "")
	}
	return nil
}

// List returns all session ids sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("session.list: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("session.list: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
