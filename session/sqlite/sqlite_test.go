package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/internal/testutil"
)

var _ core.SessionStore = (*Store)(nil)

func TestStore_Contract(t *testing.T) {
	for _, driver := range []string{DriverMattn, DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			testutil.RunStoreSuite(t, func(t *testing.T) core.SessionStore {
				s, err := Open(filepath.Join(t.TempDir(), "sessions.db"), WithDriver(driver))
				require.NoError(t, err)
				return s
			})
		})
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := Open(path, WithDriver(DriverModernc))
	require.NoError(t, err)
	_, err = s.Create(ctx, "s1", nil)
	require.NoError(t, err)
	_, err = s.Commit(ctx, "s1", 0, func(st *core.State) error {
		st.Session.Status = core.SessionFailed
		st.Session.StatusReason = "agent crashed"
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, WithDriver(DriverModernc))
	require.NoError(t, err)
	defer s.Close()
	st, version, err := s.Open(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, core.SessionFailed, st.Session.Status)
	assert.Equal(t, "agent crashed", st.Session.StatusReason)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x.db"), WithDriver("postgres"))
	assert.Error(t, err)
}

func TestStore_ConcurrentHandlesSingleWinner(t *testing.T) {
	for _, driver := range []string{DriverMattn, DriverModernc} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sessions.db")
			ctx := context.Background()

			a, err := Open(path, WithDriver(driver), WithBusyTimeout(50*time.Millisecond))
			require.NoError(t, err)
			defer a.Close()
			b, err := Open(path, WithDriver(driver), WithBusyTimeout(50*time.Millisecond))
			require.NoError(t, err)
			defer b.Close()

			_, err = a.Create(ctx, "s1", nil)
			require.NoError(t, err)

			var innerErr error
			version, err := a.Commit(ctx, "s1", 0, func(st *core.State) error {
				// A second handle on the same file races while a holds the write lock.
				_, innerErr = b.Commit(ctx, "s1", 0, func(st *core.State) error {
					st.Session.Metadata["winner"] = "b"
					return nil
				})
				st.Session.Metadata["winner"] = "a"
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, int64(1), version)

			require.Error(t, innerErr)
			assert.ErrorIs(t, innerErr, core.ErrVersionConflict)
			assert.True(t, core.IsRetryable(innerErr))

			st, version, err := b.Open(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), version)
			assert.Equal(t, "a", st.Session.Metadata["winner"])
		})
	}
}

func TestStore_StaleCommitFromOtherHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Create(ctx, "s1", nil)
	require.NoError(t, err)
	_, err = b.Commit(ctx, "s1", 0, nil)
	require.NoError(t, err)

	_, err = a.Commit(ctx, "s1", 0, nil)
	var conflict *core.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Actual)
}
