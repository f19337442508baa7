package statlinectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newHealthCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "GET /v1/health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodGet, "/v1/health", nil)
		},
	}
}

func newReadyCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "GET /v1/ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodGet, "/v1/ready", nil)
		},
	}
}

func newQueryCommand(opts *Options) *cobra.Command {
	var model string
	var includeSQL bool
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question in natural language",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"question":    strings.Join(args, " "),
				"include_sql": includeSQL,
			}
			if strings.TrimSpace(model) != "" {
				body["model"] = strings.TrimSpace(model)
			}
			return call(cmd, opts, http.MethodPost, "/v1/query", body)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "provider id (see providers)")
	cmd.Flags().BoolVar(&includeSQL, "include-sql", false, "include the executed SQL in the output")
	return cmd
}

func newProvidersCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List language model providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodGet, "/v1/providers", nil)
		},
	}
}

func newSchemaCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the published tables and examples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodGet, "/v1/schema", nil)
		},
	}
}

func newStatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show dataset and query counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, opts, http.MethodGet, "/v1/status", nil)
		},
	}
}

func newHistoryCommand(opts *Options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [query-id]",
		Short: "List recent queries, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return call(cmd, opts, http.MethodGet, "/v1/history/"+url.PathEscape(args[0]), nil)
			}
			path := "/v1/history"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			return call(cmd, opts, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to list")
	return cmd
}

func call(cmd *cobra.Command, opts *Options, method, path string, payload any) error {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	endpoint := strings.TrimRight(opts.BaseURL, "/") + path
	code, body, err := doRequest(cmd.Context(), client, method, endpoint, opts.APIKey, payload)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if code >= 400 {
		return fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(body)))
	}

	out := cmd.OutOrStdout()
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(out, pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(out, string(body))
	}
	return nil
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint, apiKey string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}
