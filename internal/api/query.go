package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/statline/statline/internal/nl2sql"
	"github.com/statline/statline/internal/processor"
)

const maxQueryBodyBytes = 64 << 10

type queryRequest struct {
	Question   string `json:"question"`
	Model      string `json:"model"`
	IncludeSQL bool   `json:"include_sql"`
}

type timingResponse struct {
	GenerationSeconds float64 `json:"generation_seconds"`
	ValidationSeconds float64 `json:"validation_seconds"`
	ExecutionSeconds  float64 `json:"execution_seconds"`
	TotalSeconds      float64 `json:"total_seconds"`
}

// ResultSet is only present on success, so an empty result still carries
// columns and rows while a failure carries neither.
type ResultSet struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

type queryResponse struct {
	QueryID string `json:"query_id"`
	Success bool   `json:"success"`
	Model   string `json:"model,omitempty"`
	*ResultSet
	RowCount     int            `json:"row_count"`
	Truncated    bool           `json:"truncated,omitempty"`
	GeneratedSQL string         `json:"generated_sql,omitempty"`
	Timing       timingResponse `json:"timing"`
	ErrorStage   string         `json:"error_stage,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Retryable    bool           `json:"retryable"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Processor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxQueryBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	outcome := deps.Processor.Process(r.Context(), processor.Request{
		Question: request.Question,
		ModelID:  request.Model,
		Caller:   callerFromRequest(r),
	})
	writeJSON(w, statusForOutcome(outcome), newQueryResponse(outcome, request.IncludeSQL))
}

func newQueryResponse(outcome processor.Outcome, includeSQL bool) queryResponse {
	response := queryResponse{
		QueryID: outcome.ID,
		Success: outcome.Success,
		Model:   outcome.ModelID,
		Timing: timingResponse{
			GenerationSeconds: outcome.Timing.Generation.Seconds(),
			ValidationSeconds: outcome.Timing.Validation.Seconds(),
			ExecutionSeconds:  outcome.Timing.Execution.Seconds(),
			TotalSeconds:      outcome.Timing.Total.Seconds(),
		},
	}
	if includeSQL {
		response.GeneratedSQL = outcome.GeneratedSQL
	}
	if outcome.Failure != nil {
		response.ErrorStage = string(outcome.Failure.Stage)
		response.ErrorKind = outcome.Failure.Kind
		response.ErrorMessage = outcome.Failure.Message
		response.Retryable = outcome.Failure.Retryable
		return response
	}
	result := &ResultSet{Columns: outcome.Result.Columns, Rows: outcome.Result.Rows}
	if result.Columns == nil {
		result.Columns = []string{}
	}
	if result.Rows == nil {
		result.Rows = []map[string]any{}
	}
	response.ResultSet = result
	response.RowCount = outcome.Result.RowCount
	response.Truncated = outcome.Result.Truncated
	return response
}

func statusForOutcome(outcome processor.Outcome) int {
	failure := outcome.Failure
	if failure == nil {
		return http.StatusOK
	}
	switch failure.Stage {
	case processor.StageGeneration:
		switch nl2sql.ErrorKind(failure.Kind) {
		case nl2sql.KindUnavailable:
			return http.StatusBadRequest
		case nl2sql.KindQuota:
			return http.StatusTooManyRequests
		case nl2sql.KindAuth, nl2sql.KindMalformed:
			return http.StatusBadGateway
		case nl2sql.KindTransient:
			return http.StatusServiceUnavailable
		}
		if failure.Kind == processor.KindInvalidRequest {
			return http.StatusBadRequest
		}
		return http.StatusServiceUnavailable
	case processor.StageExecution:
		switch failure.Kind {
		case processor.KindTimeout:
			return http.StatusGatewayTimeout
		case processor.KindCancelled:
			return statusClientClosedRequest
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusUnprocessableEntity
	}
}

// statusClientClosedRequest is the de facto status for requests whose
// client went away before the response was written.
const statusClientClosedRequest = 499
