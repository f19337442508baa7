// Package mcpserver exposes the query pipeline as MCP tools so assistants
// can ask questions of the dataset over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/statline/statline/internal/nl2sql"
	"github.com/statline/statline/internal/processor"
)

const caller = "mcp"

type QueryProcessor interface {
	Process(ctx context.Context, req processor.Request) processor.Outcome
	Providers() []nl2sql.Descriptor
}

type Tools struct {
	Processor QueryProcessor
	Logger    *slog.Logger
}

// New registers the query and list_providers tools on a fresh MCP server.
func New(name, version string, tools *Tools) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("query",
		mcp.WithDescription("Answer a question about NFL statistics by generating and running a read-only SQL query."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Natural-language question, e.g. \"Who led the league in rushing yards in 2023?\"")),
		mcp.WithString("model", mcp.Description("Provider id from list_providers. Empty selects the default.")),
		mcp.WithBoolean("include_sql", mcp.Description("Include the executed SQL in the result.")),
		mcp.WithReadOnlyHintAnnotation(true),
	), tools.handleQuery)

	s.AddTool(mcp.NewTool("list_providers",
		mcp.WithDescription("List the language model providers and whether each is available."),
		mcp.WithReadOnlyHintAnnotation(true),
	), tools.handleListProviders)

	return s
}

type toolResult struct {
	QueryID      string           `json:"query_id"`
	Model        string           `json:"model"`
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowCount     int              `json:"row_count"`
	Truncated    bool             `json:"truncated,omitempty"`
	GeneratedSQL string           `json:"generated_sql,omitempty"`
	TotalSeconds float64          `json:"total_seconds"`
}

func (t *Tools) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	outcome := t.Processor.Process(ctx, processor.Request{
		Question: question,
		ModelID:  request.GetString("model", ""),
		Caller:   caller,
	})
	if outcome.Failure != nil {
		if t.Logger != nil {
			t.Logger.DebugContext(ctx, "mcp query failed", slog.String("query_id", outcome.ID), slog.String("kind", outcome.Failure.Kind))
		}
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %s", outcome.Failure.Stage, outcome.Failure.Message)), nil
	}

	result := toolResult{
		QueryID:      outcome.ID,
		Model:        outcome.ModelID,
		Columns:      outcome.Result.Columns,
		Rows:         outcome.Result.Rows,
		RowCount:     outcome.Result.RowCount,
		Truncated:    outcome.Result.Truncated,
		TotalSeconds: outcome.Timing.Total.Seconds(),
	}
	if request.GetBool("include_sql", false) {
		result.GeneratedSQL = outcome.GeneratedSQL
	}
	return jsonResult(result)
}

func (t *Tools) handleListProviders(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"providers": t.Processor.Providers()})
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}
