package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/sessionmesh/core"
)

type createTaskRequest struct {
	ID           string   `json:"id"`
	Dependencies []string `json:"dependencies"`
}

type agentRequest struct {
	AgentID string `json:"agent_id"`
}

type updateStatusRequest struct {
	Status core.TaskStatus `json:"status"`
	Error  string          `json:"error"`
}

type reclaimRequest struct {
	// StaleAfter is a Go duration string such as "90s".
	StaleAfter string `json:"stale_after"`
}

func taskID(r *http.Request) string { return chi.URLParam(r, "task") }

// listTasks handles GET /sessions/{id}/tasks
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	items, err := s.mesh.Tasks.List(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": items})
}

// createTask handles POST /sessions/{id}/tasks
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	t, err := s.mesh.Tasks.Create(r.Context(), sessionID(r), req.ID, req.Dependencies)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// getTask handles GET /sessions/{id}/tasks/{task}
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.mesh.Tasks.Get(r.Context(), sessionID(r), taskID(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// readyTasks handles GET /sessions/{id}/tasks/ready?limit=
func (s *Server) readyTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "invalid limit %q", v)
			return
		}
		limit = n
	}
	ids, err := s.mesh.Tasks.Ready(r.Context(), sessionID(r), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"task_ids": ids})
}

// claimTask handles POST /sessions/{id}/tasks/{task}/claim
func (s *Server) claimTask(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	t, err := s.mesh.Tasks.Claim(r.Context(), sessionID(r), taskID(r), req.AgentID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// heartbeatTask handles POST /sessions/{id}/tasks/{task}/heartbeat
func (s *Server) heartbeatTask(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	if err := s.mesh.Tasks.Heartbeat(r.Context(), sessionID(r), taskID(r), req.AgentID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateTaskStatus handles POST /sessions/{id}/tasks/{task}/status
func (s *Server) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	t, err := s.mesh.Tasks.UpdateStatus(r.Context(), sessionID(r), taskID(r), req.Status, req.Error)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// taskProgress handles GET /sessions/{id}/tasks/progress
func (s *Server) taskProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.mesh.Tasks.Progress(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// reclaimTasks handles POST /sessions/{id}/tasks/reclaim
func (s *Server) reclaimTasks(w http.ResponseWriter, r *http.Request) {
	var req reclaimRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	staleAfter := s.staleAfter
	if req.StaleAfter != "" {
		d, err := time.ParseDuration(req.StaleAfter)
		if err != nil {
			badRequest(w, "invalid stale_after %q", req.StaleAfter)
			return
		}
		staleAfter = d
	}
	ids, err := s.mesh.Tasks.Reclaim(r.Context(), sessionID(r), staleAfter)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"reclaimed": ids})
}
