package api

import (
	"log/slog"
	"net/http"

	"github.com/statline/statline/internal/config"
)

type statusResponse struct {
	Service           string `json:"service"`
	DatasetKind       string `json:"dataset_kind,omitempty"`
	PrimaryTable      string `json:"primary_table,omitempty"`
	PrimaryRows       *int64 `json:"primary_table_rows,omitempty"`
	SchemaVersion     string `json:"schema_version,omitempty"`
	Tables            int    `json:"tables"`
	SuccessfulQueries int64  `json:"successful_queries"`
	FailedQueries     int64  `json:"failed_queries"`
	HistoryEnabled    bool   `json:"history_enabled"`
}

func handleStatus(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	response := statusResponse{
		Service:        cfg.Service.Name,
		HistoryEnabled: deps.History != nil,
	}
	if deps.Processor != nil {
		stats := deps.Processor.Stats()
		response.SuccessfulQueries = stats.Successful
		response.FailedQueries = stats.Failed
	}
	if deps.Schema != nil {
		response.SchemaVersion = deps.Schema.Version()
		response.Tables = len(deps.Schema.TableNames())
	}
	if deps.Dataset != nil {
		response.DatasetKind = string(deps.Dataset.Kind())
		table := cfg.Schema.PrimaryTable
		if table != "" && deps.Schema != nil && deps.Schema.HasTable(table) {
			response.PrimaryTable = table
			count, err := deps.Dataset.CountRows(r.Context(), table)
			switch {
			case err != nil && deps.Logger != nil:
				deps.Logger.WarnContext(r.Context(), "count primary table rows failed", slog.String("table", table), slog.Any("error", err))
			case err == nil:
				response.PrimaryRows = &count
			}
		}
	}
	writeJSON(w, http.StatusOK, response)
}
