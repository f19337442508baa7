package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const OllamaProviderID = "gpt-oss"

type OllamaConfig struct {
	Enabled bool
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaProvider runs a local model through the Ollama generate API.
type OllamaProvider struct {
	enabled bool
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.Enabled && strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-oss:20b"
	}
	return &OllamaProvider{
		enabled: cfg.Enabled,
		baseURL: trimBaseURL(cfg.BaseURL),
		model:   model,
		client:  newHTTPClient(cfg.Timeout),
	}, nil
}

func (p *OllamaProvider) Describe() Descriptor {
	return Descriptor{
		ID:          OllamaProviderID,
		DisplayName: "GPT-OSS (local)",
		Description: "Open-weight model served by a local Ollama instance",
		Available:   p.enabled,
		CostTier:    CostFree,
	}
}

func (p *OllamaProvider) Generate(ctx context.Context, req Request) (Result, error) {
	if !p.enabled {
		return Result{}, newGenerationError(KindUnavailable, OllamaProviderID, errors.New("local model is disabled"))
	}
	start := time.Now()

	payload := map[string]any{
		"model":  p.model,
		"prompt": req.SinglePrompt(),
		"stream": false,
	}
	var parsed struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := postJSON(ctx, p.client, OllamaProviderID, p.baseURL+"/api/generate", nil, payload, &parsed); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return Result{}, newGenerationError(KindMalformed, OllamaProviderID, errors.New("model returned empty response"))
	}
	return Result{
		RawText: parsed.Response,
		ModelID: OllamaProviderID,
		Model:   p.model,
		Elapsed: time.Since(start),
	}, nil
}
