package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestApplyCommit_IncrementsVersion(t *testing.T) {
	cur := NewState("s1", map[string]string{"repo_path": "/src"}, testNow)

	next, err := ApplyCommit(cur, "s1", 0, func(st *State) error {
		st.Session.Metadata["strategy"] = "breadth"
		st.Session.ID = "hijacked"
		return nil
	}, testNow.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, int64(1), next.Session.Version)
	assert.Equal(t, "s1", next.Session.ID)
	assert.Equal(t, testNow.Add(time.Minute), next.Session.UpdatedAt)
	assert.Equal(t, "breadth", next.Session.Metadata["strategy"])

	// current is untouched
	assert.Equal(t, int64(0), cur.Session.Version)
	_, ok := cur.Session.Metadata["strategy"]
	assert.False(t, ok)
}

func TestApplyCommit_Conflict(t *testing.T) {
	cur := NewState("s1", nil, testNow)
	cur.Session.Version = 5

	_, err := ApplyCommit(cur, "s1", 4, nil, testNow)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(4), ce.Expected)
	assert.Equal(t, int64(5), ce.Actual)
}

func TestApplyCommit_Terminal(t *testing.T) {
	cur := NewState("s1", nil, testNow)
	cur.Session.Status = SessionCompleted

	_, err := ApplyCommit(cur, "s1", 0, nil, testNow)
	assert.ErrorIs(t, err, ErrTerminalSession)
}

func TestApplyCommit_MutatorError(t *testing.T) {
	cur := NewState("s1", nil, testNow)
	boom := errors.New("boom")

	_, err := ApplyCommit(cur, "s1", 0, func(st *State) error {
		st.Session.Metadata["x"] = "y"
		return boom
	}, testNow)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, cur.Session.Metadata)
}

func TestState_CloneIsDeep(t *testing.T) {
	st := NewState("s1", nil, testNow)
	st.Ledger.Findings = []FindingEntry{{ID: "f1", FileKey: "a.py", AgentID: "explorer"}}
	st.Ledger.Processed = map[string]ProcessedFileRecord{"a.py": {FileKey: "a.py", Agents: []string{"explorer"}}}
	st.Cache.Entries = map[CacheTier]map[string]CacheEntry{TierContent: {"k": {Key: "k"}}}
	st.Tasks.Items = []Task{{ID: "t1", Dependencies: []string{"t0"}}}
	st.Report.Sections = []ReportSection{{Name: "Overview", Rows: []DataRow{{{Name: "a", Value: MustValue(1)}}}}}

	c := st.Clone()
	c.Ledger.Findings[0].SupersededBy = "f2"
	rec := c.Ledger.Processed["a.py"]
	rec.Agents[0] = "other"
	c.Cache.Entries[TierContent]["k2"] = CacheEntry{}
	c.Tasks.Items[0].Dependencies[0] = "tX"
	c.Report.Sections[0].Rows[0][0].Name = "b"

	assert.Empty(t, st.Ledger.Findings[0].SupersededBy)
	assert.Equal(t, "explorer", st.Ledger.Processed["a.py"].Agents[0])
	assert.Len(t, st.Cache.Entries[TierContent], 1)
	assert.Equal(t, "t0", st.Tasks.Items[0].Dependencies[0])
	assert.Equal(t, "a", st.Report.Sections[0].Rows[0][0].Name)
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("op", "session", "run-2026.01"))
	for _, bad := range []string{"", "a/b", `a\b`, ".", "..", "a\x00b"} {
		assert.ErrorIs(t, ValidateID("op", "session", bad), ErrInvalidArgument, bad)
	}
}

type recordingLogger struct {
	commits []string
	warns   int
}

func (r *recordingLogger) Debug(string, ...any) {}
func (r *recordingLogger) Info(string, ...any)  {}
func (r *recordingLogger) Warn(string, ...any)  { r.warns++ }
func (r *recordingLogger) Error(string, ...any) {}
func (r *recordingLogger) LogCommit(op, sessionID string, version int64, _ time.Duration, err error) {
	r.commits = append(r.commits, op)
}

type memStore struct {
	st *State
}

func (m *memStore) Create(context.Context, string, map[string]string) (Session, error) {
	return m.st.Session, nil
}
func (m *memStore) Open(context.Context, string) (*State, int64, error) {
	if m.st == nil {
		return nil, 0, NewError(ErrNotFound, "open", "", "", "")
	}
	return m.st.Clone(), m.st.Session.Version, nil
}
func (m *memStore) Commit(_ context.Context, id string, expected int64, mutate Mutator) (int64, error) {
	next, err := ApplyCommit(m.st, id, expected, mutate, testNow)
	if err != nil {
		return 0, err
	}
	m.st = next
	return next.Session.Version, nil
}
func (m *memStore) Delete(context.Context, string) error    { return nil }
func (m *memStore) List(context.Context) ([]string, error) { return nil, nil }
func (m *memStore) Close() error                           { return nil }

func TestCommitter_UsesCommitLogger(t *testing.T) {
	store := &memStore{st: NewState("s1", nil, testNow)}
	rec := &recordingLogger{}
	c := NewCommitter(store, rec, func() time.Time { return testNow })

	v, err := c.Update(context.Background(), "test.op", "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, []string{"test.op"}, rec.commits)
	assert.Equal(t, testNow, c.Now())
}

func TestCommitter_ReadNotFound(t *testing.T) {
	c := NewCommitter(&memStore{}, nil, nil)
	_, _, err := c.Read(context.Background(), "test.read", "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

type levelCounter struct {
	warns, errors int
}

func (l *levelCounter) Debug(string, ...any) {}
func (l *levelCounter) Info(string, ...any)  {}
func (l *levelCounter) Warn(string, ...any)  { l.warns++ }
func (l *levelCounter) Error(string, ...any) { l.errors++ }

type failingStore struct {
	memStore
	err error
}

func (f *failingStore) Commit(context.Context, string, int64, Mutator) (int64, error) {
	return 0, f.err
}

func TestCommitter_LogLevelByOutcome(t *testing.T) {
	ctx := context.Background()
	lc := &levelCounter{}

	internal := &failingStore{memStore: memStore{st: NewState("s1", nil, testNow)}, err: errors.New("disk full")}
	_, err := NewCommitter(internal, lc, nil).Update(ctx, "test.op", "s1", nil)
	require.Error(t, err)
	assert.Equal(t, 1, lc.errors)

	conflict := &failingStore{memStore: memStore{st: NewState("s1", nil, testNow)}, err: &ConflictError{SessionID: "s1", Expected: 0, Actual: 1}}
	_, err = NewCommitter(conflict, lc, nil).Update(ctx, "test.op", "s1", nil)
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 1, lc.warns)
	assert.Equal(t, 1, lc.errors)

	domain := &failingStore{memStore: memStore{st: NewState("s1", nil, testNow)}, err: NewError(ErrCycle, "op", "s1", "", "")}
	_, err = NewCommitter(domain, lc, nil).Update(ctx, "test.op", "s1", nil)
	require.ErrorIs(t, err, ErrCycle)
	assert.Equal(t, 1, lc.warns)
	assert.Equal(t, 1, lc.errors)
}
