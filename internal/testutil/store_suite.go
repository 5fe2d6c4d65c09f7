package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/sessionmesh/core"
)

// StoreFactory returns a fresh, empty store. The suite closes it.
type StoreFactory func(t *testing.T) core.SessionStore

// RunStoreSuite exercises the core.SessionStore contract against a backend.
func RunStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("CreateAndOpen", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		sess, err := store.Create(ctx, "s1", map[string]string{"analysis_goal": "audit"})
		require.NoError(t, err)
		assert.Equal(t, "s1", sess.ID)
		assert.Equal(t, core.SessionActive, sess.Status)
		assert.Equal(t, int64(0), sess.Version)

		st, version, err := store.Open(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), version)
		assert.Equal(t, "audit", st.Session.Metadata["analysis_goal"])
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		_, err := store.Create(ctx, "s1", nil)
		require.NoError(t, err)
		_, err = store.Create(ctx, "s1", nil)
		assert.ErrorIs(t, err, core.ErrAlreadyExists)
	})

	t.Run("OpenMissing", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		_, _, err := store.Open(context.Background(), "nope")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("CommitIncrementsVersion", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()
		_, err := store.Create(ctx, "s1", nil)
		require.NoError(t, err)

		for i := int64(0); i < 3; i++ {
			v, err := store.Commit(ctx, "s1", i, func(st *core.State) error {
				st.Session.Metadata[fmt.Sprintf("k%d", i)] = "v"
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, i+1, v)
		}

		st, version, err := store.Open(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)
		assert.Len(t, st.Session.Metadata, 3)
	})

	t.Run("StaleCommitConflicts", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()
		_, err := store.Create(ctx, "s1", nil)
		require.NoError(t, err)
		_, err = store.Commit(ctx, "s1", 0, nil)
		require.NoError(t, err)

		_, err = store.Commit(ctx, "s1", 0, func(st *core.State) error {
			st.Session.Metadata["lost"] = "update"
			return nil
		})
		require.ErrorIs(t, err, core.ErrVersionConflict)

		st, version, err := store.Open(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
		assert.NotContains(t, st.Session.Metadata, "lost")
	})

	t.Run("MutatorErrorLeavesStateUntouched", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()
		_, err := store.Create(ctx, "s1", nil)
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = store.Commit(ctx, "s1", 0, func(st *core.State) error {
			st.Tasks.Items = append(st.Tasks.Items, core.Task{ID: "half"})
			return boom
		})
		require.ErrorIs(t, err, boom)

		st, version, err := store.Open(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), version)
		assert.Empty(t, st.Tasks.Items)
	})

	t.Run("TerminalSessionRejectsMutation", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()
		_, err := store.Create(ctx, "s1", nil)
		require.NoError(t, err)
		_, err = store.Commit(ctx, "s1", 0, func(st *core.State) error {
			st.Session.Status = core.SessionCompleted
			return nil
		})
		require.NoError(t, err)

		_, err = store.Commit(ctx, "s1", 1, nil)
		assert.ErrorIs(t, err, core.ErrTerminalSession)
	})

	t.Run("OpenReturnsPrivateCopy", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()
		_, err := store.Create(ctx, "s1", map[string]string{"a": "1"})
		require.NoError(t, err)

		st, _, err := store.Open(ctx, "s1")
		require.NoError(t, err)
		st.Session.Metadata["a"] = "changed"

		again, _, err := store.Open(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "1", again.Session.Metadata["a"])
	})

	t.Run("ValuesRoundTripExactly", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()
		_, err := store.Create(ctx, "s1", nil)
		require.NoError(t, err)

		payload, err := core.ParseValue([]byte(`{"big":12345678901234567890,"f":0.1000,"s":"ünïcode","l":[null,true]}`))
		require.NoError(t, err)
		_, err = store.Commit(ctx, "s1", 0, func(st *core.State) error {
			st.Ledger.Findings = append(st.Ledger.Findings, core.FindingEntry{ID: "f1", FileKey: "a.py", AgentID: "x", Payload: payload})
			return nil
		})
		require.NoError(t, err)

		st, _, err := store.Open(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, st.Ledger.Findings, 1)
		assert.Equal(t, string(payload.Bytes()), string(st.Ledger.Findings[0].Payload.Bytes()))
	})

	t.Run("DeleteAndList", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()
		for _, id := range []string{"b", "a", "c"} {
			_, err := store.Create(ctx, id, nil)
			require.NoError(t, err)
		}

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids)

		require.NoError(t, store.Delete(ctx, "b"))
		assert.ErrorIs(t, store.Delete(ctx, "b"), core.ErrNotFound)

		_, _, err = store.Open(ctx, "b")
		assert.ErrorIs(t, err, core.ErrNotFound)

		ids, err = store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids)
	})

	t.Run("ConcurrentCommitsSingleWinner", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()
		_, err := store.Create(ctx, "s1", nil)
		require.NoError(t, err)

		const writers = 8
		var wins, conflicts atomic.Int32
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			i := i
			g.Go(func() error {
				_, err := store.Commit(ctx, "s1", 0, func(st *core.State) error {
					st.Session.Metadata["winner"] = fmt.Sprintf("w%d", i)
					return nil
				})
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, core.ErrVersionConflict):
					conflicts.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(writers-1), conflicts.Load())

		_, version, err := store.Open(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
	})

	t.Run("ConcurrentRetriesLoseNoUpdates", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()
		_, err := store.Create(ctx, "s1", nil)
		require.NoError(t, err)

		const writers = 6
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			i := i
			g.Go(func() error {
				for attempt := 0; attempt < 200; attempt++ {
					_, err := core.CommitLatest(ctx, store, "s1", func(st *core.State) error {
						st.Session.Metadata[fmt.Sprintf("w%d", i)] = "done"
						return nil
					})
					if err == nil {
						return nil
					}
					if !core.IsRetryable(err) {
						return err
					}
				}
				return fmt.Errorf("writer %d: retries exhausted", i)
			})
		}
		require.NoError(t, g.Wait())

		st, version, err := store.Open(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(writers), version)
		assert.Len(t, st.Session.Metadata, writers)
	})
}
