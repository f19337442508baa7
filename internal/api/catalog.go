package api

import (
	"net/http"

	"github.com/statline/statline/internal/schema"
)

func handleProviders(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Processor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": deps.Processor.Providers()})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema is not loaded", false, nil)
		return
	}
	examples := deps.Examples
	if examples == nil {
		examples = []schema.Example{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  deps.Schema.Version(),
		"tables":   deps.Schema.Tables(),
		"examples": examples,
	})
}
