package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const GeminiProviderID = "gemini"

type GeminiConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type GeminiProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{
		baseURL: trimBaseURL(cfg.BaseURL),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  newHTTPClient(cfg.Timeout),
	}, nil
}

func (p *GeminiProvider) Describe() Descriptor {
	return Descriptor{
		ID:          GeminiProviderID,
		DisplayName: "Gemini " + strings.TrimPrefix(p.model, "gemini-"),
		Description: "Hosted Google Gemini model",
		Available:   p.apiKey != "",
		CostTier:    CostPaid,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (Result, error) {
	if p.apiKey == "" {
		return Result{}, newGenerationError(KindUnavailable, GeminiProviderID, errors.New("api key is not configured"))
	}
	start := time.Now()

	payload := map[string]any{
		"systemInstruction": geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt()}}},
		"contents": []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: strings.TrimSpace(req.Question)}},
		}},
	}
	var parsed struct {
		Candidates []struct {
			Content      geminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, url.PathEscape(p.model))
	headers := map[string]string{"x-goog-api-key": p.apiKey}
	if err := postJSON(ctx, p.client, GeminiProviderID, endpoint, headers, payload, &parsed); err != nil {
		return Result{}, err
	}
	if reason := parsed.PromptFeedback.BlockReason; reason != "" {
		return Result{}, newGenerationError(KindMalformed, GeminiProviderID, fmt.Errorf("prompt blocked: %s", reason))
	}
	if len(parsed.Candidates) == 0 {
		return Result{}, newGenerationError(KindMalformed, GeminiProviderID, errors.New("response has no candidates"))
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return Result{}, newGenerationError(KindMalformed, GeminiProviderID,
			fmt.Errorf("candidate has no text (finish reason %q)", parsed.Candidates[0].FinishReason))
	}
	return Result{
		RawText: text.String(),
		ModelID: GeminiProviderID,
		Model:   p.model,
		Elapsed: time.Since(start),
	}, nil
}
