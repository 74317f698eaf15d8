package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sensorflash-core/internal/history"
)

// HistorySessionResponse is the GET /history/sessions/{id} payload.
type HistorySessionResponse struct {
	Session *history.Session `json:"session"`
	Events  []history.Event  `json:"events"`
}

// handleListHistory returns persisted sessions, most recent first.
//
// Query parameters:
//   - outcome: filter by outcome ("completed" or "failed")
//   - port: filter by port path
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "session history not configured")
		return
	}

	filter := history.Filter{
		Outcome: r.URL.Query().Get("outcome"),
		Port:    r.URL.Query().Get("port"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("history list failed", "error", err)
		writeInternalError(w, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetHistory returns one persisted session and its event log.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "session history not configured")
		return
	}

	id := chi.URLParam(r, "id")
	session, events, err := s.history.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeNotFound(w, "session not found: "+id)
			return
		}
		s.logger.Error("history get failed", "session", id, "error", err)
		writeInternalError(w, "failed to load session")
		return
	}

	writeJSON(w, http.StatusOK, HistorySessionResponse{
		Session: session,
		Events:  events,
	})
}
