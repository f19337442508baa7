package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 512
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends payload and decodes the response into out, classifying
// every failure as a GenerationError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return newGenerationError(KindMalformed, provider, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return newGenerationError(KindMalformed, provider, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return transportError(ctx, provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, provider, fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode >= 400 {
		return newGenerationError(kindForStatus(resp.StatusCode), provider,
			fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(string(rawRespBody), maxErrorBodyLen)))
	}
	if err := json.Unmarshal(rawRespBody, out); err != nil {
		return newGenerationError(KindMalformed, provider, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

func trimBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
