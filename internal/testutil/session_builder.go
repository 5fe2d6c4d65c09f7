package testutil

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
)

// SessionBuilder helps construct session documents with fluent chaining for tests.
// Example:
//
//	st := NewSessionBuilder("sess-1").Metadata("repo_path", "/src").Task("t1", core.TaskPending).Build()
type SessionBuilder struct {
	id       string
	now      time.Time
	metadata map[string]string
	findings []core.FindingEntry
	tasks    []core.Task
	cache    []core.CacheEntry
}

// NewSessionBuilder creates a new builder for a session with the given id.
// Use chainable methods then call Build or Seed.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), metadata: map[string]string{}}
}

// At sets the timestamp used for every seeded record (chainable).
func (b *SessionBuilder) At(now time.Time) *SessionBuilder {
	b.now = now
	return b
}

// Metadata sets a metadata key (chainable).
func (b *SessionBuilder) Metadata(key, val string) *SessionBuilder {
	b.metadata[key] = val
	return b
}

// Finding appends a current finding (chainable). Earlier findings for the same
// file and agent are marked superseded.
func (b *SessionBuilder) Finding(id, fileKey, agentID string, payload any) *SessionBuilder {
	for i := range b.findings {
		f := &b.findings[i]
		if f.FileKey == fileKey && f.AgentID == agentID && f.IsCurrent() {
			f.SupersededBy = id
		}
	}
	b.findings = append(b.findings, core.FindingEntry{
		ID: id, FileKey: fileKey, AgentID: agentID, Timestamp: b.now, Payload: core.MustValue(payload),
	})
	return b
}

// Task appends a task with the given stored status (chainable).
func (b *SessionBuilder) Task(id string, status core.TaskStatus, deps ...string) *SessionBuilder {
	b.tasks = append(b.tasks, core.Task{
		ID: id, Status: status, Dependencies: deps, CreatedAt: b.now, UpdatedAt: b.now,
	})
	return b
}

// CacheEntry stores a value in the given tier (chainable).
func (b *SessionBuilder) CacheEntry(tier core.CacheTier, key string, val any) *SessionBuilder {
	v := core.MustValue(val)
	b.cache = append(b.cache, core.CacheEntry{
		Tier: tier, Key: key, Value: v, SizeBytes: v.Size(), CreatedAt: b.now, LastAccessedAt: b.now,
	})
	return b
}

// Build returns a version zero document populated with the configured records.
func (b *SessionBuilder) Build() *core.State {
	st := core.NewState(b.id, b.metadata, b.now)
	b.apply(st)
	return st
}

func (b *SessionBuilder) apply(st *core.State) {
	st.Ledger.Findings = append(st.Ledger.Findings, b.findings...)
	for _, f := range b.findings {
		if st.Ledger.Processed == nil {
			st.Ledger.Processed = map[string]core.ProcessedFileRecord{}
		}
		rec := st.Ledger.Processed[f.FileKey]
		if rec.FileKey == "" {
			rec = core.ProcessedFileRecord{FileKey: f.FileKey, FirstProcessedAt: f.Timestamp}
		}
		if i, found := slices.BinarySearch(rec.Agents, f.AgentID); !found {
			rec.Agents = slices.Insert(rec.Agents, i, f.AgentID)
		}
		rec.LastProcessedAt = f.Timestamp
		st.Ledger.Processed[f.FileKey] = rec
	}
	st.Tasks.Items = append(st.Tasks.Items, b.tasks...)
	for _, e := range b.cache {
		if st.Cache.Entries == nil {
			st.Cache.Entries = map[core.CacheTier]map[string]core.CacheEntry{}
		}
		if st.Cache.Entries[e.Tier] == nil {
			st.Cache.Entries[e.Tier] = map[string]core.CacheEntry{}
		}
		st.Cache.Entries[e.Tier][e.Key] = e
	}
}

// Seed creates the session in store and commits the configured records in a
// single commit. It returns the resulting version.
func (b *SessionBuilder) Seed(t testing.TB, store core.SessionStore) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := store.Create(ctx, b.id, b.metadata)
	require.NoError(t, err)
	version, err := store.Commit(ctx, b.id, 0, func(st *core.State) error {
		b.apply(st)
		return nil
	})
	require.NoError(t, err)
	return version
}
