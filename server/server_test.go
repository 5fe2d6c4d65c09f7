package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh"
	"github.com/hupe1980/sessionmesh/core"
)

type testServer struct {
	t    *testing.T
	mesh *sessionmesh.Mesh
	h    http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	m := sessionmesh.New()
	t.Cleanup(func() { _ = m.Close() })
	return &testServer{t: t, mesh: m, h: New(m)}
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/sessions", map[string]any{"id": "s1", "metadata": map[string]string{"analysis_goal": "docs"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[core.Session](t, rec)
	assert.Equal(t, "s1", sess.ID)

	rec = ts.do(http.MethodPost, "/sessions", map[string]any{"id": "s1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_exists", decode[errorBody](t, rec).Kind)

	rec = ts.do(http.MethodGet, "/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decode[openSessionResponse](t, rec)
	assert.Equal(t, int64(0), open.Version)
	assert.Equal(t, "docs", open.State.Session.Metadata["analysis_goal"])

	rec = ts.do(http.MethodPost, "/sessions/s1/complete", map[string]string{"reason": "done"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/sessions/s1/findings", map[string]any{"file_key": "a.go", "agent_id": "a1", "payload": 1})
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "terminal_session", decode[errorBody](t, rec).Kind)

	rec = ts.do(http.MethodDelete, "/sessions/s1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLedgerRoutes(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions", map[string]any{"id": "s1"}).Code)

	rec := ts.do(http.MethodPost, "/sessions/s1/findings", `{"file_key":"pkg/a.go","agent_id":"a1","payload":{"n":12345678901234567890}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/sessions/s1/processed", map[string]string{"file_key": "pkg/b.go", "agent_id": "a2"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/sessions/s1/files/context?key=pkg/a.go", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "12345678901234567890")

	rec = ts.do(http.MethodGet, "/sessions/s1/files/context", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/sessions/s1/files/summary?key=pkg/b.go", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(http.MethodPost, "/sessions/s1/processed", map[string]string{"file_key": "pkg/b.go", "agent_id": "a2", "summary": "config loader"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/sessions/s1/files/summary?key=pkg/b.go", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "config loader", decode[map[string]string](t, rec)["summary"])

	rec = ts.do(http.MethodGet, "/sessions/s1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[sessionmesh.Summary](t, rec)
	assert.Equal(t, 2, sum.Ledger.FilesProcessed)
	assert.Equal(t, 1, sum.Ledger.FindingsPerAgent["a1"])
}

func TestCacheRoutes(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions", map[string]any{"id": "s1"}).Code)

	rec := ts.do(http.MethodGet, "/sessions/s1/cache/content/src/main.go", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPut, "/sessions/s1/cache/content/src/main.go", `{"lines":42}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/sessions/s1/cache/content/src/main.go?touch=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"lines":42}`, rec.Body.String())

	rec = ts.do(http.MethodPut, "/sessions/s1/cache/bogus/k", `1`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	big := fmt.Sprintf("%q", strings.Repeat("x", 2<<20))
	rec = ts.do(http.MethodPut, "/sessions/s1/cache/content/big", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = ts.do(http.MethodDelete, "/sessions/s1/cache/all/src/main.go", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[map[string]int](t, rec)["removed"])
	rec = ts.do(http.MethodGet, "/sessions/s1/cache/content/src/main.go", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskRoutes(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions", map[string]any{"id": "s1"}).Code)

	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions/s1/tasks", map[string]any{"id": "a"}).Code)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions/s1/tasks", map[string]any{"id": "b", "dependencies": []string{"a"}}).Code)

	rec := ts.do(http.MethodPost, "/sessions/s1/tasks", map[string]any{"id": "a", "dependencies": []string{"b"}})
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate id")

	rec = ts.do(http.MethodPost, "/sessions/s1/tasks", map[string]any{"id": "c", "dependencies": []string{"c"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "cycle", decode[errorBody](t, rec).Kind)

	rec = ts.do(http.MethodGet, "/sessions/s1/tasks/ready?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a"}, decode[map[string][]string](t, rec)["task_ids"])

	rec = ts.do(http.MethodPost, "/sessions/s1/tasks/b/claim", map[string]string{"agent_id": "w1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[errorBody](t, rec).Kind)

	rec = ts.do(http.MethodPost, "/sessions/s1/tasks/a/claim", map[string]string{"agent_id": "w1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.TaskInProgress, decode[core.Task](t, rec).Status)

	rec = ts.do(http.MethodPost, "/sessions/s1/tasks/a/heartbeat", map[string]string{"agent_id": "w1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodPost, "/sessions/s1/tasks/reclaim", map[string]string{"stale_after": "1h"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]string](t, rec)["reclaimed"])

	rec = ts.do(http.MethodPost, "/sessions/s1/tasks/a/status", map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/sessions/s1/tasks/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p struct {
		Counts map[core.TaskStatus]int `json:"counts"`
		Total  int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 1, p.Counts[core.TaskCompleted])
	assert.Equal(t, 1, p.Counts[core.TaskReady])

	rec = ts.do(http.MethodPost, "/sessions/s1/tasks/reclaim", map[string]string{"stale_after": "soon"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportRoutes(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions", map[string]any{"id": "s1"}).Code)

	rec := ts.do(http.MethodGet, "/sessions/s1/report", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/sessions/s1/report", map[string]any{"sections": []string{"Overview", "Files"}, "style": "list"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/sessions/s1/report/Files", `{"content":"Analyzed files.","rows":[[{"name":"file","value":"a.go"},{"name":"lines","value":10}]]}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/sessions/s1/report/Missing", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/sessions/s1/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Less(t, strings.Index(body, "## Overview"), strings.Index(body, "## Files"))
	assert.Contains(t, body, "- **file**: a.go")
}

func TestReportDefaultStyle(t *testing.T) {
	m := sessionmesh.New()
	t.Cleanup(func() { _ = m.Close() })
	ts := &testServer{t: t, mesh: m, h: New(m, func(o *Options) { o.DefaultStyle = core.StyleList })}
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions", map[string]any{"id": "s1"}).Code)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/sessions", map[string]any{"id": "s2"}).Code)

	rec := ts.do(http.MethodPost, "/sessions/s1/report", map[string]any{"sections": []string{"Files"}})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = ts.do(http.MethodPost, "/sessions/s2/report", map[string]any{"sections": []string{"Files"}, "style": "table"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	st, _, err := m.Store().Open(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, core.StyleList, st.Report.Style)
	st, _, err = m.Store().Open(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, core.StyleTable, st.Report.Style)
}

func TestBadJSON(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/sessions", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decode[errorBody](t, rec).Kind)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.NewError(core.ErrNotFound, "op", "s", "", ""), http.StatusNotFound},
		{core.NewError(core.ErrAlreadyExists, "op", "s", "", ""), http.StatusConflict},
		{&core.ConflictError{SessionID: "s", Expected: 1, Actual: 2}, http.StatusConflict},
		{core.NewError(core.ErrInvalidTransition, "op", "s", "", ""), http.StatusConflict},
		{core.NewError(core.ErrCycle, "op", "s", "", ""), http.StatusUnprocessableEntity},
		{core.NewError(core.ErrInvalidArgument, "op", "s", "", ""), http.StatusUnprocessableEntity},
		{core.NewError(core.ErrCapacityExceeded, "op", "s", "", ""), http.StatusRequestEntityTooLarge},
		{core.NewError(core.ErrTerminalSession, "op", "s", "", ""), http.StatusGone},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(core.KindOf(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestOptions_StaleAfterDefault(t *testing.T) {
	s := New(sessionmesh.New(), func(o *Options) { o.StaleAfter = -time.Second })
	assert.Equal(t, DefaultStaleAfter, s.staleAfter)
}
