package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/derivscript/internal/pricing"
	"github.com/aristath/derivscript/internal/store"
	"github.com/go-chi/chi/v5"
)

// handlePrice runs one pricing call synchronously and returns the
// response (spec §6). When the server was built with a store the priced
// run is saved after a successful call, and archived as well when an
// archive.Service is also configured; a failure to persist is logged but
// never turns a priced response into an error, since the call itself
// already succeeded.
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req pricing.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Kind: "invalid_request", Message: err.Error()})
		return
	}

	resp, err := pricing.Price(r.Context(), s.cfg, s.log, req)
	if err != nil {
		status, body := statusForError(err)
		writeJSON(w, status, body)
		return
	}

	if s.store != nil {
		id, err := s.store.SaveRun(r.Context(), req, resp)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to save priced run")
		} else if s.archive != nil {
			if err := s.archive.ArchiveRun(r.Context(), id); err != nil {
				s.log.Error().Err(err).Str("run_id", id).Msg("failed to archive priced run")
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetRun looks up one previously saved run by id (spec's domain
// stack: run-history audit trail).
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Kind: "not_found", Message: "run history is disabled"})
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeJSON(w, http.StatusNotFound, errorBody{Kind: "not_found", Message: "run not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Kind: "internal_error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListRuns returns the most recent runs, newest first, optionally
// bounded by a ?limit= query parameter.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.Summary{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Kind: "internal_error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
