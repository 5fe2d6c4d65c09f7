package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/sessionmesh/core"
)

type initializeReportRequest struct {
	Sections []string         `json:"sections"`
	Style    core.ReportStyle `json:"style"`
}

type updateReportRequest struct {
	Content string         `json:"content"`
	Rows    []core.DataRow `json:"rows"`
}

// initializeReport handles POST /sessions/{id}/report
func (s *Server) initializeReport(w http.ResponseWriter, r *http.Request) {
	var req initializeReportRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	if req.Style == "" {
		req.Style = s.defaultStyle
	}
	if err := s.mesh.Report.Initialize(r.Context(), sessionID(r), req.Sections, req.Style); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// updateReport handles POST /sessions/{id}/report/{section}
func (s *Server) updateReport(w http.ResponseWriter, r *http.Request) {
	var req updateReportRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return
	}
	section := chi.URLParam(r, "section")
	if err := s.mesh.Report.Update(r.Context(), sessionID(r), section, req.Content, req.Rows); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reportSections handles GET /sessions/{id}/report/sections
func (s *Server) reportSections(w http.ResponseWriter, r *http.Request) {
	secs, err := s.mesh.Report.Sections(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": secs})
}

// finalizeReport handles GET /sessions/{id}/report
func (s *Server) finalizeReport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.mesh.Report.Finalize(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
