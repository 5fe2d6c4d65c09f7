package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/internal/testutil"
	"github.com/hupe1980/sessionmesh/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestGraph(t *testing.T, optFns ...func(o *Options)) (*Graph, *clock) {
	t.Helper()
	store := session.NewInMemoryStore()
	_, err := store.Create(context.Background(), "s1", nil)
	require.NoError(t, err)
	clk := &clock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	optFns = append([]func(o *Options){func(o *Options) { o.Clock = clk.Now }}, optFns...)
	return New(store, optFns...), clk
}

func TestReadyAndProgress_SeededGraph(t *testing.T) {
	store := session.NewInMemoryStore()
	version := testutil.NewSessionBuilder("s1").
		Task("t1", core.TaskCompleted).
		Task("t2", core.TaskPending, "t1").
		Task("t3", core.TaskPending, "t1", "t4").
		Task("t4", core.TaskInProgress).
		Task("t5", core.TaskFailed).
		Seed(t, store)
	g := New(store)
	ctx := context.Background()

	ready, err := g.Ready(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, ready)

	p, err := g.Progress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, version, p.Version)
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, 1, p.Counts[core.TaskCompleted])
	assert.Equal(t, 1, p.Counts[core.TaskReady])
	assert.Equal(t, 1, p.Counts[core.TaskPending])
	assert.Equal(t, 1, p.Counts[core.TaskInProgress])
	assert.Equal(t, []string{"t5"}, p.Failed)
}

func TestScenario_ReadyClaimComplete(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	_, err := g.Create(ctx, "s1", "t1", nil)
	require.NoError(t, err)
	_, err = g.Create(ctx, "s1", "t2", []string{"t1"})
	require.NoError(t, err)

	ready, err := g.Ready(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ready)

	claimed, err := g.Claim(ctx, "s1", "t1", "A")
	require.NoError(t, err)
	assert.Equal(t, core.TaskInProgress, claimed.Status)
	assert.Equal(t, "A", claimed.AssignedAgent)

	_, err = g.UpdateStatus(ctx, "s1", "t1", core.TaskCompleted, "")
	require.NoError(t, err)

	ready, err = g.Ready(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, ready)
}

func TestCreate_CycleWithForwardReference(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	_, err := g.Create(ctx, "s1", "B", []string{"A"})
	require.NoError(t, err)
	_, err = g.Create(ctx, "s1", "A", []string{"B"})
	assert.ErrorIs(t, err, core.ErrCycle)

	list, err := g.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreate_TransitiveCycle(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	_, err := g.Create(ctx, "s1", "b", []string{"a"})
	require.NoError(t, err)
	_, err = g.Create(ctx, "s1", "c", []string{"b"})
	require.NoError(t, err)
	_, err = g.Create(ctx, "s1", "a", []string{"c"})
	assert.ErrorIs(t, err, core.ErrCycle)
}

func TestCreate_Errors(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	_, err := g.Create(ctx, "s1", "t1", nil)
	require.NoError(t, err)

	_, err = g.Create(ctx, "s1", "t1", nil)
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
	_, err = g.Create(ctx, "s1", "self", []string{"self"})
	assert.ErrorIs(t, err, core.ErrCycle)
	_, err = g.Create(ctx, "s1", "", nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = g.Create(ctx, "s1", "t2", []string{""})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestCreate_DedupesDependencies(t *testing.T) {
	g, _ := newTestGraph(t)
	task, err := g.Create(context.Background(), "s1", "t", []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, task.Dependencies)
}

func TestReady_UnknownDependencyBlocks(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	_, err := g.Create(ctx, "s1", "t", []string{"later"})
	require.NoError(t, err)

	ready, err := g.Ready(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestReady_LimitAndOrder(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		_, err := g.Create(ctx, "s1", id, nil)
		require.NoError(t, err)
	}

	ready, err := g.Ready(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ready)

	all, err := g.Ready(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, all)

	// Ready does not claim.
	again, err := g.Ready(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Equal(t, all, again)
}

func TestClaim_InvalidTransitions(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()
	_, err := g.Create(ctx, "s1", "t1", nil)
	require.NoError(t, err)
	_, err = g.Create(ctx, "s1", "t2", []string{"t1"})
	require.NoError(t, err)

	_, err = g.Claim(ctx, "s1", "t2", "A")
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "blocked task")

	_, err = g.Claim(ctx, "s1", "t1", "A")
	require.NoError(t, err)
	_, err = g.Claim(ctx, "s1", "t1", "B")
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "already claimed")

	_, err = g.Claim(ctx, "s1", "ghost", "A")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()
	_, err := g.Create(ctx, "s1", "t1", nil)
	require.NoError(t, err)

	var wins atomic.Int32
	var eg errgroup.Group
	for _, agent := range []string{"A", "B", "C", "D"} {
		agent := agent
		eg.Go(func() error {
			_, err := g.Claim(ctx, "s1", "t1", agent)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, core.ErrVersionConflict), errors.Is(err, core.ErrInvalidTransition):
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int32(1), wins.Load())
}

func TestUpdateStatus_RetryThenFail(t *testing.T) {
	g, _ := newTestGraph(t, func(o *Options) { o.MaxRetries = 2 })
	ctx := context.Background()
	_, err := g.Create(ctx, "s1", "t1", nil)
	require.NoError(t, err)

	_, err = g.Claim(ctx, "s1", "t1", "A")
	require.NoError(t, err)
	task, err := g.UpdateStatus(ctx, "s1", "t1", core.TaskFailed, "timeout")
	require.NoError(t, err)
	assert.Equal(t, core.TaskPending, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, "timeout", task.LastError)
	assert.Empty(t, task.AssignedAgent)

	_, err = g.Claim(ctx, "s1", "t1", "B")
	require.NoError(t, err)
	task, err = g.UpdateStatus(ctx, "s1", "t1", core.TaskFailed, "crash")
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, task.Status)
	assert.Equal(t, 2, task.RetryCount)

	_, err = g.Claim(ctx, "s1", "t1", "C")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	p, err := g.Progress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, p.Failed)
}

func TestUpdateStatus_InvalidTransitions(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()
	_, err := g.Create(ctx, "s1", "t1", nil)
	require.NoError(t, err)

	_, err = g.UpdateStatus(ctx, "s1", "t1", core.TaskCompleted, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "pending cannot complete")
	_, err = g.UpdateStatus(ctx, "s1", "t1", core.TaskReady, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	_, err = g.UpdateStatus(ctx, "s1", "t1", core.TaskInProgress, "")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = g.Claim(ctx, "s1", "t1", "A")
	require.NoError(t, err)
	_, err = g.UpdateStatus(ctx, "s1", "t1", core.TaskCompleted, "")
	require.NoError(t, err)
	_, err = g.UpdateStatus(ctx, "s1", "t1", core.TaskFailed, "late")
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "completed is terminal")
}

func TestProgress(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()
	for _, tc := range []struct {
		id   string
		deps []string
	}{{"a", nil}, {"b", []string{"a"}}, {"c", nil}, {"d", nil}} {
		_, err := g.Create(ctx, "s1", tc.id, tc.deps)
		require.NoError(t, err)
	}
	_, err := g.Claim(ctx, "s1", "c", "X")
	require.NoError(t, err)
	_, err = g.Claim(ctx, "s1", "d", "X")
	require.NoError(t, err)
	_, err = g.UpdateStatus(ctx, "s1", "d", core.TaskCompleted, "")
	require.NoError(t, err)

	p, err := g.Progress(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, map[core.TaskStatus]int{
		core.TaskPending:    1,
		core.TaskReady:      1,
		core.TaskInProgress: 1,
		core.TaskCompleted:  1,
		core.TaskFailed:     0,
	}, p.Counts)
	assert.InDelta(t, 25.0, p.Percent, 0.001)
}

func TestHeartbeatAndReclaim(t *testing.T) {
	g, clk := newTestGraph(t)
	ctx := context.Background()
	for _, id := range []string{"t1", "t2"} {
		_, err := g.Create(ctx, "s1", id, nil)
		require.NoError(t, err)
		_, err = g.Claim(ctx, "s1", id, "worker-"+id)
		require.NoError(t, err)
	}

	clk.now = clk.now.Add(4 * time.Minute)
	require.NoError(t, g.Heartbeat(ctx, "s1", "t2", "worker-t2"))
	assert.ErrorIs(t, g.Heartbeat(ctx, "s1", "t2", "someone-else"), core.ErrInvalidTransition)

	clk.now = clk.now.Add(2 * time.Minute)
	reclaimed, err := g.Reclaim(ctx, "s1", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, reclaimed)

	t1, err := g.Get(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.Equal(t, core.TaskPending, t1.Status)
	assert.Empty(t, t1.AssignedAgent)
	assert.Equal(t, 0, t1.RetryCount)

	t2, err := g.Get(ctx, "s1", "t2")
	require.NoError(t, err)
	assert.Equal(t, core.TaskInProgress, t2.Status)

	none, err := g.Reclaim(ctx, "s1", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = g.Reclaim(ctx, "s1", 0)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}
