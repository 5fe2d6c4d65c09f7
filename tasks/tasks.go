// Package tasks is a dependency-aware task scheduler over the session store.
//
// A task moves pending -> in_progress -> completed. A failed attempt
// increments the retry count and puts the task back to pending until the
// retry budget is spent, after which it stays failed. "Ready" is never stored:
// a task is ready while it is pending and every dependency is completed.
//
// The dependency graph is kept acyclic at creation time. Dependencies may
// name tasks that do not exist yet; such a dependency is simply not completed
// and blocks readiness until the task is created and finished.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/logging"
)

// DefaultMaxRetries is the number of failed attempts after which a task
// stays failed.
const DefaultMaxRetries = 3

var allowedTransitions = map[core.TaskStatus]map[core.TaskStatus]struct{}{
	core.TaskPending: {
		core.TaskInProgress: {},
	},
	core.TaskInProgress: {
		core.TaskCompleted: {},
		core.TaskFailed:    {},
		core.TaskPending:   {}, // Retry or lease reclaim.
	},
}

func canTransition(from, to core.TaskStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Options configures a Graph.
type Options struct {
	MaxRetries int
	Logger     logging.Logger
	Clock      func() time.Time
}

// Graph schedules the tasks of a session.
type Graph struct {
	c          *core.Committer
	maxRetries int
}

// New creates a Graph on top of store.
func New(store core.SessionStore, optFns ...func(o *Options)) *Graph {
	opts := Options{MaxRetries: DefaultMaxRetries}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Graph{c: core.NewCommitter(store, opts.Logger, opts.Clock), maxRetries: opts.MaxRetries}
}

// Progress summarizes the task graph. Counts splits stored pending tasks
// into pending (blocked) and ready.
type Progress struct {
	Counts  map[core.TaskStatus]int `json:"counts"`
	Total   int                     `json:"total"`
	Percent float64                 `json:"percent"`
	Failed  []string                `json:"failed"`
	Version int64                   `json:"version"`
}

// Create adds a task with the given dependencies. It fails with
// ErrAlreadyExists for a duplicate id and ErrCycle if the new edges would
// close a cycle.
func (g *Graph) Create(ctx context.Context, sessionID, taskID string, deps []string) (core.Task, error) {
	const op = "tasks.create"
	if err := core.ValidateID(op, "task", taskID); err != nil {
		return core.Task{}, err
	}
	seen := make(map[string]struct{}, len(deps))
	unique := make([]string, 0, len(deps))
	for _, d := range deps {
		if d == "" {
			return core.Task{}, core.NewError(core.ErrInvalidArgument, op, sessionID, taskID, "empty dependency id")
		}
		if d == taskID {
			return core.Task{}, core.NewError(core.ErrCycle, op, sessionID, taskID, "task depends on itself")
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		unique = append(unique, d)
	}

	var task core.Task
	_, err := g.c.Update(ctx, op, sessionID, func(st *core.State) error {
		if st.Tasks.Index(taskID) >= 0 {
			return core.NewError(core.ErrAlreadyExists, op, sessionID, taskID, "")
		}
		if path := findPath(st.Tasks, unique, taskID); path != nil {
			return core.NewError(core.ErrCycle, op, sessionID, taskID, fmt.Sprintf("dependency path %v leads back to %s", path, taskID))
		}
		now := g.c.Now()
		task = core.Task{
			ID:           taskID,
			Dependencies: unique,
			Status:       core.TaskPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		st.Tasks.Items = append(st.Tasks.Items, task)
		return nil
	})
	if err != nil {
		return core.Task{}, err
	}
	return task, nil
}

// findPath returns a dependency chain from one of starts to target, or nil.
func findPath(ts core.TaskState, starts []string, target string) []string {
	byID := make(map[string]*core.Task, len(ts.Items))
	for i := range ts.Items {
		byID[ts.Items[i].ID] = &ts.Items[i]
	}
	visited := map[string]bool{}
	var walk func(id string, path []string) []string
	walk = func(id string, path []string) []string {
		path = append(path, id)
		if id == target {
			return path
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		t, ok := byID[id]
		if !ok {
			return nil
		}
		for _, d := range t.Dependencies {
			if p := walk(d, path); p != nil {
				return p
			}
		}
		return nil
	}
	for _, s := range starts {
		if p := walk(s, nil); p != nil {
			return p
		}
	}
	return nil
}

// Ready returns up to limit ready task ids in creation order. A limit of zero
// or less returns every ready task. Ready never changes task status.
func (g *Graph) Ready(ctx context.Context, sessionID string, limit int) ([]string, error) {
	st, _, err := g.c.Read(ctx, "tasks.ready", sessionID)
	if err != nil {
		return nil, err
	}
	return readyIDs(st.Tasks, limit), nil
}

func readyIDs(ts core.TaskState, limit int) []string {
	completed := completedSet(ts)
	out := []string{}
	for _, t := range ts.Items {
		if limit > 0 && len(out) >= limit {
			break
		}
		if isReady(t, completed) {
			out = append(out, t.ID)
		}
	}
	return out
}

func completedSet(ts core.TaskState) map[string]bool {
	done := make(map[string]bool, len(ts.Items))
	for _, t := range ts.Items {
		if t.Status == core.TaskCompleted {
			done[t.ID] = true
		}
	}
	return done
}

func isReady(t core.Task, completed map[string]bool) bool {
	if t.Status != core.TaskPending {
		return false
	}
	for _, d := range t.Dependencies {
		if !completed[d] {
			return false
		}
	}
	return true
}

// Claim moves a ready task to in_progress on behalf of agentID. Claiming a
// task that is blocked, already claimed or finished fails with
// ErrInvalidTransition.
func (g *Graph) Claim(ctx context.Context, sessionID, taskID, agentID string) (core.Task, error) {
	const op = "tasks.claim"
	if agentID == "" {
		return core.Task{}, core.NewError(core.ErrInvalidArgument, op, sessionID, taskID, "agent id is empty")
	}
	var claimed core.Task
	_, err := g.c.Update(ctx, op, sessionID, func(st *core.State) error {
		t, err := lookup(st, op, sessionID, taskID)
		if err != nil {
			return err
		}
		if !canTransition(t.Status, core.TaskInProgress) {
			return core.NewError(core.ErrInvalidTransition, op, sessionID, taskID,
				fmt.Sprintf("cannot claim task in status %s", t.Status))
		}
		if !isReady(*t, completedSet(st.Tasks)) {
			return core.NewError(core.ErrInvalidTransition, op, sessionID, taskID, "dependencies not completed")
		}
		now := g.c.Now()
		t.Status = core.TaskInProgress
		t.AssignedAgent = agentID
		t.ClaimedAt = now
		t.HeartbeatAt = now
		t.UpdatedAt = now
		claimed = *t
		return nil
	})
	if err != nil {
		return core.Task{}, err
	}
	return claimed, nil
}

// UpdateStatus finishes an in-progress task. status must be completed or
// failed. A failure increments the retry count; the task returns to pending
// while retries remain and stays failed once they are exhausted.
func (g *Graph) UpdateStatus(ctx context.Context, sessionID, taskID string, status core.TaskStatus, errMsg string) (core.Task, error) {
	const op = "tasks.update_status"
	if status != core.TaskCompleted && status != core.TaskFailed {
		return core.Task{}, core.NewError(core.ErrInvalidTransition, op, sessionID, taskID,
			fmt.Sprintf("status %q cannot be set directly", status))
	}
	var updated core.Task
	_, err := g.c.Update(ctx, op, sessionID, func(st *core.State) error {
		t, err := lookup(st, op, sessionID, taskID)
		if err != nil {
			return err
		}
		if !canTransition(t.Status, status) {
			return core.NewError(core.ErrInvalidTransition, op, sessionID, taskID,
				fmt.Sprintf("%s -> %s", t.Status, status))
		}
		t.UpdatedAt = g.c.Now()
		switch status {
		case core.TaskCompleted:
			t.Status = core.TaskCompleted
		case core.TaskFailed:
			t.RetryCount++
			t.LastError = errMsg
			if t.RetryCount < g.maxRetries {
				t.Status = core.TaskPending
				t.AssignedAgent = ""
			} else {
				t.Status = core.TaskFailed
			}
		}
		updated = *t
		return nil
	})
	if err != nil {
		return core.Task{}, err
	}
	return updated, nil
}

// Heartbeat refreshes the lease of an in-progress task held by agentID.
func (g *Graph) Heartbeat(ctx context.Context, sessionID, taskID, agentID string) error {
	const op = "tasks.heartbeat"
	_, err := g.c.Update(ctx, op, sessionID, func(st *core.State) error {
		t, err := lookup(st, op, sessionID, taskID)
		if err != nil {
			return err
		}
		if t.Status != core.TaskInProgress || t.AssignedAgent != agentID {
			return core.NewError(core.ErrInvalidTransition, op, sessionID, taskID,
				fmt.Sprintf("task is %s and held by %q", t.Status, t.AssignedAgent))
		}
		t.HeartbeatAt = g.c.Now()
		return nil
	})
	return err
}

// Reclaim returns every in-progress task whose last heartbeat is older than
// staleAfter to pending and clears its agent. The retry count is unchanged.
// It is a caller-driven lease expiry; nothing runs in the background.
func (g *Graph) Reclaim(ctx context.Context, sessionID string, staleAfter time.Duration) ([]string, error) {
	const op = "tasks.reclaim"
	if staleAfter <= 0 {
		return nil, core.NewError(core.ErrInvalidArgument, op, sessionID, "", "stale duration must be positive")
	}
	st, _, err := g.c.Read(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	if len(staleTasks(st.Tasks, g.c.Now().Add(-staleAfter))) == 0 {
		return []string{}, nil
	}

	var reclaimed []string
	_, err = g.c.Update(ctx, op, sessionID, func(st *core.State) error {
		now := g.c.Now()
		reclaimed = staleTasks(st.Tasks, now.Add(-staleAfter))
		for _, id := range reclaimed {
			t := &st.Tasks.Items[st.Tasks.Index(id)]
			t.Status = core.TaskPending
			t.LastError = fmt.Sprintf("lease held by %s expired", t.AssignedAgent)
			t.AssignedAgent = ""
			t.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

func staleTasks(ts core.TaskState, cutoff time.Time) []string {
	out := []string{}
	for _, t := range ts.Items {
		if t.Status != core.TaskInProgress {
			continue
		}
		last := t.HeartbeatAt
		if t.ClaimedAt.After(last) {
			last = t.ClaimedAt
		}
		if last.Before(cutoff) {
			out = append(out, t.ID)
		}
	}
	return out
}

// Progress counts tasks by status.
func (g *Graph) Progress(ctx context.Context, sessionID string) (Progress, error) {
	st, version, err := g.c.Read(ctx, "tasks.progress", sessionID)
	if err != nil {
		return Progress{}, err
	}
	p := Summarize(st.Tasks)
	p.Version = version
	return p, nil
}

// Summarize computes progress counts for a task state.
func Summarize(ts core.TaskState) Progress {
	p := Progress{
		Counts: map[core.TaskStatus]int{
			core.TaskPending:    0,
			core.TaskReady:      0,
			core.TaskInProgress: 0,
			core.TaskCompleted:  0,
			core.TaskFailed:     0,
		},
		Total:  len(ts.Items),
		Failed: []string{},
	}
	completed := completedSet(ts)
	for _, t := range ts.Items {
		status := t.Status
		if isReady(t, completed) {
			status = core.TaskReady
		}
		p.Counts[status]++
		if t.Status == core.TaskFailed {
			p.Failed = append(p.Failed, t.ID)
		}
	}
	if p.Total > 0 {
		p.Percent = float64(p.Counts[core.TaskCompleted]) * 100 / float64(p.Total)
	}
	return p
}

// Get returns a single task.
func (g *Graph) Get(ctx context.Context, sessionID, taskID string) (core.Task, error) {
	const op = "tasks.get"
	st, _, err := g.c.Read(ctx, op, sessionID)
	if err != nil {
		return core.Task{}, err
	}
	t, err := lookup(st, op, sessionID, taskID)
	if err != nil {
		return core.Task{}, err
	}
	return *t, nil
}

// List returns all tasks in creation order.
func (g *Graph) List(ctx context.Context, sessionID string) ([]core.Task, error) {
	st, _, err := g.c.Read(ctx, "tasks.list", sessionID)
	if err != nil {
		return nil, err
	}
	if st.Tasks.Items == nil {
		return []core.Task{}, nil
	}
	return st.Tasks.Items, nil
}

func lookup(st *core.State, op, sessionID, taskID string) (*core.Task, error) {
	i := st.Tasks.Index(taskID)
	if i < 0 {
		return nil, core.NewError(core.ErrNotFound, op, sessionID, taskID, "")
	}
	return &st.Tasks.Items[i], nil
}
