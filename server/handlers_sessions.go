package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/sessionmesh/core"
)

// respondErr logs unexpected failures and writes the mapped error body.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	if StatusFor(err) == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, err)
}

func sessionID(r *http.Request) string { return chi.URLParam(r, "id") }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if _, err := s.mesh.ListSessions(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

type openSessionResponse struct {
	State   *core.State `json:"state"`
	Version int64       `json:"version"`
}

type finishRequest struct {
	Reason string `json:"reason"`
}

// listSessions handles GET /sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.mesh.ListSessions(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

// createSession handles POST /sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	sess, err := s.mesh.CreateSession(r.Context(), req.ID, req.Metadata)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// openSession handles GET /sessions/{id}
func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	st, version, err := s.mesh.OpenSession(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, openSessionResponse{State: st, Version: version})
}

// deleteSession handles DELETE /sessions/{id}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.mesh.DeleteSession(r.Context(), sessionID(r)); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// summary handles GET /sessions/{id}/summary
func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.mesh.Summary(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// completeSession handles POST /sessions/{id}/complete
func (s *Server) completeSession(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	sess, err := s.mesh.Complete(r.Context(), sessionID(r), req.Reason)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// failSession handles POST /sessions/{id}/fail
func (s *Server) failSession(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	sess, err := s.mesh.Fail(r.Context(), sessionID(r), req.Reason)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
