package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/statline/statline/internal/history"
)

func handleListHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit := history.DefaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = history.ClampLimit(parsed)
	}

	entries, err := deps.History.List(r.Context(), callerFromRequest(r), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "query history is unavailable", true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": limit})
}

// handleGetHistory only returns entries owned by the caller, so an entry of
// another caller reads as missing.
func handleGetHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := deps.History.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "HISTORY_NOT_FOUND", "query history entry not found", false, map[string]any{"id": id})
			return
		}
		writeError(r.Context(), w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "query history is unavailable", true, nil)
		return
	}
	if entry.Caller != callerFromRequest(r) {
		writeError(r.Context(), w, http.StatusNotFound, "HISTORY_NOT_FOUND", "query history entry not found", false, map[string]any{"id": id})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
