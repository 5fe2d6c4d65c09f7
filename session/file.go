package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/sessionmesh/core"
)

const (
	documentSuffix = ".json"
	lockSuffix     = ".lock"
	tempPrefix     = ".tmp-"
)

// FileStore persists each session as one JSON document <dir>/<id>.json.
//
// Writes are staged in a temporary file in the same directory, fsynced and
// renamed over the previous document, then the directory is fsynced, so a
// reader only ever observes a complete document. Commits of the same session
// are serialized in-process by a per-session mutex and across processes by a
// non-blocking advisory lock on <id>.lock; a held lock fails fast with a
// version conflict instead of waiting.
type FileStore struct {
	dir  string
	opts Options

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	closed bool
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, optFns ...func(o *Options)) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &FileStore{dir: dir, opts: applyOptions(optFns), locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) documentPath(id string) string {
	return filepath.Join(s.dir, id+documentSuffix)
}

func (s *FileStore) lockPath(id string) string {
	return filepath.Join(s.dir, id+lockSuffix)
}

// validateID extends core.ValidateID with the names the store reserves for
// its own staging files.
func validateID(op, id string) error {
	if err := core.ValidateID(op, "session", id); err != nil {
		return err
	}
	if strings.HasPrefix(id, tempPrefix) {
		return core.NewError(core.ErrInvalidArgument, op, "", id, fmt.Sprintf("session id must not start with %q", tempPrefix))
	}
	return nil
}

func (s *FileStore) sessionMutex(id string) (*sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m, nil
}

// lock acquires both the in-process and the cross-process lock for id.
func (s *FileStore) lock(op, id string) (func(), error) {
	m, err := s.sessionMutex(id)
	if err != nil {
		return nil, err
	}
	m.Lock()
	fl, err := tryLockFile(s.lockPath(id))
	if err != nil {
		m.Unlock()
		if errors.Is(err, errLockBusy) {
			return nil, core.NewError(core.ErrVersionConflict, op, id, "", "session locked by another process")
		}
		return nil, fmt.Errorf("%s: lock %s: %w", op, id, err)
	}
	return func() {
		_ = fl.unlock()
		m.Unlock()
	}, nil
}

// Create writes the version zero document. It fails if a document exists.
func (s *FileStore) Create(ctx context.Context, sessionID string, metadata map[string]string) (core.Session, error) {
	if err := validateID("session.create", sessionID); err != nil {
		return core.Session{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Session{}, err
	}
	unlock, err := s.lock("session.create", sessionID)
	if err != nil {
		return core.Session{}, err
	}
	defer unlock()

	st := core.NewState(sessionID, metadata, s.opts.Clock())
	err = s.writeDocument(st, func(tmp, path string) error {
		// Link fails if path already exists, giving create-exclusive semantics.
		if err := os.Link(tmp, path); err != nil {
			if errors.Is(err, os.ErrExist) {
				return core.NewError(core.ErrAlreadyExists, "session.create", sessionID, "", "")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return core.Session{}, err
	}
	return st.Session, nil
}

// Open reads and decodes the current document.
func (s *FileStore) Open(ctx context.Context, sessionID string) (*core.State, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if s.isClosed() {
		return nil, 0, ErrClosed
	}
	st, err := s.readDocument("session.open", sessionID)
	if err != nil {
		return nil, 0, err
	}
	return st, st.Session.Version, nil
}

// Commit re-reads the document under lock, applies mutate and atomically
// replaces the file.
func (s *FileStore) Commit(ctx context.Context, sessionID string, expectedVersion int64, mutate core.Mutator) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateID("session.commit", sessionID); err != nil {
		return 0, err
	}
	unlock, err := s.lock("session.commit", sessionID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cur, err := s.readDocument("session.commit", sessionID)
	if err != nil {
		return 0, err
	}
	next, err := core.ApplyCommit(cur, sessionID, expectedVersion, mutate, s.opts.Clock())
	if err != nil {
		return 0, err
	}
	if err := s.writeDocument(next, os.Rename); err != nil {
		return 0, err
	}
	return next.Session.Version, nil
}

// Delete removes the session document and its lock file.
func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID("session.delete", sessionID); err != nil {
		return err
	}
	unlock, err := s.lock("session.delete", sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.documentPath(sessionID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.NewError(core.ErrNotFound, "session.delete", sessionID, "", "")
		}
		return fmt.Errorf("session.delete: %w", err)
	}
	// The lock is still held here; a racing Create locks a fresh file.
	if err := os.Remove(s.lockPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session.delete: remove lock: %w", err)
	}
	return syncDir(s.dir)
}

// List returns the ids of all stored documents, sorted.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("session.list: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, documentSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, documentSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close marks the store closed. Documents stay on disk.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FileStore) readDocument(op, id string) (*core.State, error) {
	if err := validateID(op, id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.documentPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.NewError(core.ErrNotFound, op, id, "", "")
		}
		return nil, fmt.Errorf("%s: read %s: %w", op, id, err)
	}
	var st core.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", op, id, err)
	}
	return &st, nil
}

// writeDocument stages st in a synced temp file and publishes it with place.
func (s *FileStore) writeDocument(st *core.State, place func(tmp, path string) error) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", st.Session.ID, err)
	}
	data = append(data, '\n')

	f, err := os.CreateTemp(s.dir, tempPrefix+st.Session.ID+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := place(tmp, s.documentPath(st.Session.ID)); err != nil {
		var coreErr *core.Error
		if errors.As(err, &coreErr) {
			return err
		}
		return fmt.Errorf("publish session %s: %w", st.Session.ID, err)
	}
	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
