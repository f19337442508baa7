package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const OpenAIProviderID = "openai"

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIProvider calls an OpenAI-compatible chat completions endpoint. It is
// registered even without an API key and reports itself unavailable.
type OpenAIProvider struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	return &OpenAIProvider{
		baseURL:     trimBaseURL(cfg.BaseURL),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      newHTTPClient(cfg.Timeout),
	}, nil
}

func (p *OpenAIProvider) Describe() Descriptor {
	return Descriptor{
		ID:          OpenAIProviderID,
		DisplayName: "OpenAI " + p.model,
		Description: "Hosted OpenAI chat completion model",
		Available:   p.apiKey != "",
		CostTier:    CostPaid,
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (Result, error) {
	if p.apiKey == "" {
		return Result{}, newGenerationError(KindUnavailable, OpenAIProviderID, errors.New("api key is not configured"))
	}
	start := time.Now()

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := postJSON(ctx, p.client, OpenAIProviderID, p.baseURL+"/v1/chat/completions", headers, buildOpenAIPayload(p.model, p.temperature, req), &parsed); err != nil {
		return Result{}, err
	}
	if len(parsed.Choices) == 0 {
		return Result{}, newGenerationError(KindMalformed, OpenAIProviderID, errors.New("empty chat completion choices"))
	}
	text := parsed.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return Result{}, newGenerationError(KindMalformed, OpenAIProviderID, errors.New("model returned empty content"))
	}
	return Result{
		RawText: text,
		ModelID: OpenAIProviderID,
		Model:   p.model,
		Elapsed: time.Since(start),
	}, nil
}

func buildOpenAIPayload(model string, temperature float64, req Request) map[string]any {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": req.SystemPrompt()},
			{"role": "user", "content": strings.TrimSpace(req.Question)},
		},
	}
	// Some reasoning models reject any explicit temperature.
	if temperature > 0 {
		payload["temperature"] = temperature
	}
	return payload
}
