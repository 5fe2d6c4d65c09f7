// Package badger provides a SessionStore backed by an embedded BadgerDB
// (github.com/dgraph-io/badger/v4). Each session is one key holding the JSON
// document; commits run in a read-write transaction so a concurrent writer
// makes the later transaction fail with badger.ErrConflict.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/sessionmesh/core"
)

const keyPrefix = "session/"

// Options configures a Store.
type Options struct {
	// InMemory keeps the database in memory only (tests).
	InMemory bool
	// Clock returns the commit timestamp. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// Store is a BadgerDB backed core.SessionStore.
type Store struct {
	db   *badger.DB
	opts Options
}

// Open opens (or creates) the database in dir. dir is ignored when InMemory
// is set.
func Open(dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Clock: func() time.Time { return time.Now().UTC() }}
	for _, fn := range optFns {
		fn(&opts)
	}

	bopts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(nil)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, opts: opts}, nil
}

// WithInMemory runs the store without touching disk.
func WithInMemory() func(o *Options) {
	return func(o *Options) { o.InMemory = true }
}

// WithClock overrides the commit timestamp source.
func WithClock(clock func() time.Time) func(o *Options) {
	return func(o *Options) { o.Clock = clock }
}

func key(sessionID string) []byte { return []byte(keyPrefix + sessionID) }

// Create stores the version zero document.
func (s *Store) Create(ctx context.Context, sessionID string, metadata map[string]string) (core.Session, error) {
	if err := core.ValidateID("session.create", "session", sessionID); err != nil {
		return core.Session{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Session{}, err
	}
	st := core.NewState(sessionID, metadata, s.opts.Clock())
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(sessionID)); err == nil {
			return core.NewError(core.ErrAlreadyExists, "session.create", sessionID, "", "")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return put(txn, st)
	})
	if err != nil {
		return core.Session{}, translate("session.create", sessionID, err)
	}
	return st.Session, nil
}

// Open reads the document in a read-only transaction.
func (s *Store) Open(ctx context.Context, sessionID string) (*core.State, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	var st *core.State
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		st, err = get(txn, "session.open", sessionID)
		return err
	})
	if err != nil {
		return nil, 0, translate("session.open", sessionID, err)
	}
	return st, st.Session.Version, nil
}

// Commit applies mutate in a read-write transaction.
func (s *Store) Commit(ctx context.Context, sessionID string, expectedVersion int64, mutate core.Mutator) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var version int64
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := get(txn, "session.commit", sessionID)
		if err != nil {
			return err
		}
		next, err := core.ApplyCommit(cur, sessionID, expectedVersion, mutate, s.opts.Clock())
		if err != nil {
			return err
		}
		version = next.Session.Version
		return put(txn, next)
	})
	if errors.Is(err, badger.ErrConflict) {
		// Another transaction committed the same version first.
		return 0, &core.ConflictError{SessionID: sessionID, Expected: expectedVersion, Actual: expectedVersion + 1}
	}
	if err != nil {
		return 0, translate("session.commit", sessionID, err)
	}
	return version, nil
}

// Delete removes the session key.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(sessionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return core.NewError(core.ErrNotFound, "session.delete", sessionID, "", "")
			}
			return err
		}
		return txn.Delete(key(sessionID))
	})
	return translate("session.delete", sessionID, err)
}

// List iterates over the session key prefix.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false
		itOpts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(itOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session.list: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func get(txn *badger.Txn, op, sessionID string) (*core.State, error) {
	item, err := txn.Get(key(sessionID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, core.NewError(core.ErrNotFound, op, sessionID, "", "")
		}
		return nil, err
	}
	var st core.State
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &st)
	})
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &st, nil
}

func put(txn *badger.Txn, st *core.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return txn.Set(key(st.Session.ID), data)
}

// translate leaves typed store errors untouched and wraps everything else.
func translate(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	var coreErr *core.Error
	var conflict *core.ConflictError
	if errors.As(err, &coreErr) || errors.As(err, &conflict) {
		return err
	}
	return fmt.Errorf("%s %s: %w", op, sessionID, err)
}
