package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sessionmesh"
	"github.com/hupe1980/sessionmesh/config"
	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
	"github.com/hupe1980/sessionmesh/session"
	"github.com/hupe1980/sessionmesh/session/badger"
	"github.com/hupe1980/sessionmesh/session/sqlite"
)

// openStore opens the backend selected by sc.
func openStore(sc config.StoreConfig) (core.SessionStore, error) {
	switch sc.Backend {
	case config.BackendMemory:
		return session.NewInMemoryStore(), nil
	case config.BackendFile:
		s, err := session.NewFileStore(sc.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(sc.Path, sqlite.WithDriver(sc.SQLiteDriver))
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendBadger:
		s, err := badger.Open(sc.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// newMesh opens the configured store and wires the components to it.
func newMesh(c config.Config, log logging.Logger) (*sessionmesh.Mesh, error) {
	store, err := openStore(c.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", c.Store.Backend, err)
	}
	return sessionmesh.New(func(o *sessionmesh.Options) {
		o.SessionStore = store
		o.Logger = log
		o.MaxCacheEntryBytes = c.Cache.MaxEntryBytes
		o.MaxTaskRetries = c.Tasks.MaxRetries
	}), nil
}

// withMesh runs fn against a freshly opened mesh with the operation timeout
// applied, closing the store afterwards.
func withMesh(cmd *cobra.Command, fn func(ctx context.Context, m *sessionmesh.Mesh) error) error {
	if cfg.Store.Backend == config.BackendMemory {
		logger.Warn("memory backend does not persist between commands; set store.backend")
	}
	m, err := newMesh(cfg, logging.NewZapAdapter(logger))
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, m)
}
