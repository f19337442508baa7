package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sampleRequest() Request {
	return Request{
		ModelID:       OpenAIProviderID,
		Question:      "Who threw the most touchdowns in 2023?",
		Instructions:  "Return one SELECT.",
		SchemaContext: "TABLE plays(passer_player_name VARCHAR, pass_touchdown BIGINT)",
	}
}

func TestOpenAIProviderGenerate(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```sql\\nSELECT 1;\\n```" + `"}}]}`))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	result, err := provider.Generate(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.RawText != "```sql\nSELECT 1;\n```" {
		t.Fatalf("RawText = %q", result.RawText)
	}
	if result.ModelID != OpenAIProviderID || result.Model != "gpt-5" {
		t.Fatalf("result = %+v", result)
	}
	if payload["model"] != "gpt-5" {
		t.Fatalf("payload model = %v", payload["model"])
	}
	if _, ok := payload["temperature"]; ok {
		t.Fatal("temperature sent although not configured")
	}
	messages, _ := payload["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %v", payload["messages"])
	}
}

func TestOpenAIProviderUnavailableWithoutKey(t *testing.T) {
	provider, err := NewOpenAIProvider(OpenAIConfig{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	if provider.Describe().Available {
		t.Fatal("provider without key reported available")
	}
	_, err = provider.Generate(context.Background(), sampleRequest())
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != KindUnavailable {
		t.Fatalf("Generate() error = %v, want unavailable", err)
	}
}

func TestOpenAIProviderStatusMapping(t *testing.T) {
	cases := []struct {
		status    int
		want      ErrorKind
		retryable bool
	}{
		{http.StatusUnauthorized, KindAuth, false},
		{http.StatusForbidden, KindAuth, false},
		{http.StatusTooManyRequests, KindQuota, true},
		{http.StatusRequestTimeout, KindTransient, true},
		{http.StatusBadGateway, KindTransient, true},
		{http.StatusBadRequest, KindMalformed, false},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"nope"}`, tc.status)
		}))
		provider, _ := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
		_, err := provider.Generate(context.Background(), sampleRequest())
		server.Close()

		var genErr *GenerationError
		if !errors.As(err, &genErr) {
			t.Fatalf("status %d: error = %v, want GenerationError", tc.status, err)
		}
		if genErr.Kind != tc.want || genErr.Retryable() != tc.retryable {
			t.Fatalf("status %d: kind = %s retryable = %v", tc.status, genErr.Kind, genErr.Retryable())
		}
	}
}

func TestOpenAIProviderMalformedBodies(t *testing.T) {
	for _, body := range []string{`not json`, `{"choices":[]}`, `{"choices":[{"message":{"content":"   "}}]}`} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		provider, _ := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
		_, err := provider.Generate(context.Background(), sampleRequest())
		server.Close()

		var genErr *GenerationError
		if !errors.As(err, &genErr) || genErr.Kind != KindMalformed {
			t.Fatalf("body %q: error = %v, want malformed", body, err)
		}
	}
}

func TestProviderCancellationIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	provider, _ := NewOpenAIProvider(OpenAIConfig{BaseURL: server.URL, APIKey: "k", Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := provider.Generate(ctx, sampleRequest())
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != KindTransient {
		t.Fatalf("Generate() error = %v, want transient", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Generate() error = %v, want deadline in chain", err)
	}
}
