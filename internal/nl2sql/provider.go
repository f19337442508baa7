package nl2sql

import (
	"context"
	"strings"
	"time"
)

type CostTier string

const (
	CostFree CostTier = "free"
	CostPaid CostTier = "paid"
)

// Request is one generation request. It is built by the prompt builder and
// discarded once the provider returns.
type Request struct {
	ModelID       string `json:"model_id"`
	Question      string `json:"question"`
	Instructions  string `json:"instructions"`
	SchemaContext string `json:"schema_context"`
}

// SystemPrompt joins the instructions and the schema context.
func (r Request) SystemPrompt() string {
	return strings.TrimSpace(r.Instructions) + "\n\n" + strings.TrimSpace(r.SchemaContext)
}

// SinglePrompt renders the request as one completion-style prompt for
// backends without a separate system channel.
func (r Request) SinglePrompt() string {
	return r.SystemPrompt() + "\n\nUser query: " + strings.TrimSpace(r.Question) + "\nResponse:"
}

type Result struct {
	RawText string        `json:"raw_text"`
	ModelID string        `json:"model_id"`
	Model   string        `json:"model"`
	Elapsed time.Duration `json:"elapsed"`
}

func (r Result) ElapsedSeconds() float64 {
	return r.Elapsed.Seconds()
}

type Descriptor struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"name"`
	Description string   `json:"description"`
	Available   bool     `json:"available"`
	CostTier    CostTier `json:"cost"`
}

// Provider turns a question plus schema context into candidate SQL text.
type Provider interface {
	Generate(ctx context.Context, req Request) (Result, error)
	Describe() Descriptor
}
