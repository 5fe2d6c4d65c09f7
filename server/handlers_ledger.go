package server

import (
	"net/http"

	"github.com/hupe1980/sessionmesh/core"
)

type addFindingRequest struct {
	FileKey string     `json:"file_key"`
	AgentID string     `json:"agent_id"`
	Payload core.Value `json:"payload"`
}

type mergeRequest struct {
	Entries []core.FindingEntry `json:"entries"`
}

type markProcessedRequest struct {
	FileKey string `json:"file_key"`
	AgentID string `json:"agent_id"`
	Summary string `json:"summary,omitempty"`
}

// addFinding handles POST /sessions/{id}/findings
func (s *Server) addFinding(w http.ResponseWriter, r *http.Request) {
	var req addFindingRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	entry, err := s.mesh.Ledger.AddFinding(r.Context(), sessionID(r), req.FileKey, req.AgentID, req.Payload)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// mergeFindings handles POST /sessions/{id}/findings/merge
func (s *Server) mergeFindings(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	res, err := s.mesh.Ledger.Merge(r.Context(), sessionID(r), req.Entries)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// markProcessed handles POST /sessions/{id}/processed
func (s *Server) markProcessed(w http.ResponseWriter, r *http.Request) {
	var req markProcessedRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	if err := s.mesh.Ledger.MarkProcessedWithSummary(r.Context(), sessionID(r), req.FileKey, req.AgentID, req.Summary); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// processedFiles handles GET /sessions/{id}/processed
func (s *Server) processedFiles(w http.ResponseWriter, r *http.Request) {
	recs, err := s.mesh.Ledger.ProcessedFiles(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": recs})
}

// fileContext handles GET /sessions/{id}/files/context?key=
func (s *Server) fileContext(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		badRequest(w, "key is required")
		return
	}
	fc, err := s.mesh.Ledger.GetFileContext(r.Context(), sessionID(r), key)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

// fileSummary handles GET /sessions/{id}/files/summary?key=
func (s *Server) fileSummary(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		badRequest(w, "key is required")
		return
	}
	summary, ok, err := s.mesh.Ledger.FileSummary(r.Context(), sessionID(r), key)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no summary for " + key, Kind: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file_key": key, "summary": summary})
}
