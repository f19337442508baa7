// Package history is the saved-query collaborator. It keeps an audit trail
// of query outcomes; nothing in the query path depends on it succeeding.
package history

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("history entry not found")

type Entry struct {
	ID           string    `json:"id"`
	Caller       string    `json:"caller"`
	Question     string    `json:"question"`
	ModelID      string    `json:"model"`
	GeneratedSQL string    `json:"generated_sql,omitempty"`
	Success      bool      `json:"success"`
	Stage        string    `json:"stage,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	Message      string    `json:"message,omitempty"`
	RowCount     int       `json:"row_count"`
	GenerationMS int64     `json:"generation_ms"`
	ExecutionMS  int64     `json:"execution_ms"`
	TotalMS      int64     `json:"total_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Store interface {
	Recorder
	List(ctx context.Context, caller string, limit int) ([]Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampLimit bounds a caller-supplied list size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
