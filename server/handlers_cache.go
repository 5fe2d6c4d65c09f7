package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/sessionmesh/core"
)

func cacheTarget(r *http.Request) (core.CacheTier, string) {
	return core.CacheTier(chi.URLParam(r, "tier")), chi.URLParam(r, "*")
}

// cachePut handles PUT /sessions/{id}/cache/{tier}/{key}. The body is the
// JSON value to store.
func (s *Server) cachePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "read body: %v", err)
		return
	}
	val, err := core.ParseValue(body)
	if err != nil {
		badRequest(w, "invalid value: %v", err)
		return
	}
	tier, key := cacheTarget(r)
	entry, err := s.mesh.Cache.Put(r.Context(), sessionID(r), tier, key, val)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// cacheGet handles GET /sessions/{id}/cache/{tier}/{key}. A miss is a 404;
// ?touch=true also records the access.
func (s *Server) cacheGet(w http.ResponseWriter, r *http.Request) {
	tier, key := cacheTarget(r)
	val, ok, err := s.mesh.Cache.Get(r.Context(), sessionID(r), tier, key)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "cache miss: " + string(tier) + "/" + key, Kind: "not_found"})
		return
	}
	if r.URL.Query().Get("touch") == "true" {
		if err := s.mesh.Cache.Touch(r.Context(), sessionID(r), tier, key); err != nil && !core.IsRetryable(err) {
			s.respondErr(w, r, err)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(val.Bytes())
}

// cacheInvalidate handles DELETE /sessions/{id}/cache/{tier}/{key}. The tier
// "all" removes the key from every tier.
func (s *Server) cacheInvalidate(w http.ResponseWriter, r *http.Request) {
	tier, key := cacheTarget(r)
	var tiers []core.CacheTier
	if tier != "all" {
		tiers = append(tiers, tier)
	}
	n, err := s.mesh.Cache.Invalidate(r.Context(), sessionID(r), key, tiers...)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// cacheStats handles GET /sessions/{id}/cache
func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mesh.Cache.Stats(r.Context(), sessionID(r))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
