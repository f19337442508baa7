// Package app assembles the query pipeline from configuration. The API and
// MCP binaries share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/statline/statline/internal/config"
	"github.com/statline/statline/internal/dataset"
	historypostgres "github.com/statline/statline/internal/history/postgres"
	"github.com/statline/statline/internal/maintenance"
	"github.com/statline/statline/internal/nl2sql"
	"github.com/statline/statline/internal/processor"
	"github.com/statline/statline/internal/prompt"
	"github.com/statline/statline/internal/query"
	"github.com/statline/statline/internal/schema"
	"github.com/statline/statline/internal/sqlguard"
	"github.com/statline/statline/internal/storage"
	s3store "github.com/statline/statline/internal/storage/s3"
)

type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Dataset   *dataset.Dataset
	Schema    *schema.Descriptor
	Examples  []schema.Example
	Registry  *nl2sql.Registry
	Processor *processor.Processor
	// History is nil when history is disabled.
	History *historypostgres.Repository
	// ObjectStore is nil unless the dataset has an object key.
	ObjectStore storage.ObjectStore
	Maintenance *maintenance.Service

	historyDB *sql.DB
}

// New opens the dataset, loads its schema and wires the pipeline. When the
// dataset has an object key and is missing locally it is fetched first.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config
	kind, err := dataset.ParseKind(cfg.Dataset.Kind)
	if err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Dataset.ObjectKey) != "" {
		store, err := s3store.New(ctx, cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("initialize object store: %w", err)
		}
		a.ObjectStore = store
		report, err := dataset.Fetch(ctx, store, kind, cfg.Dataset.ObjectKey, cfg.Dataset.Path)
		if err != nil {
			return fmt.Errorf("fetch dataset: %w", err)
		}
		a.Logger.InfoContext(ctx, "dataset fetch", slog.Bool("skipped", report.Skipped),
			slog.Int("files", report.Files), slog.Int64("bytes", report.Bytes))
	}

	a.Dataset, err = dataset.Open(ctx, dataset.Config{Kind: kind, Path: cfg.Dataset.Path, MaxOpenConns: cfg.Dataset.MaxOpenConns})
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}

	annotations, err := schema.LoadAnnotations(cfg.Schema.AnnotationsPath)
	if err != nil {
		return err
	}
	a.Schema, err = a.Dataset.LoadSchema(ctx, schema.LoadOptions{Include: cfg.Schema.Tables, Annotations: annotations})
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	a.Examples = annotations.Examples
	a.Logger.InfoContext(ctx, "schema loaded",
		slog.String("schema_version", a.Schema.Version()),
		slog.Int("tables", len(a.Schema.TableNames())),
		slog.String("dialect", string(a.Dataset.Dialect())))

	a.Registry, err = newRegistry(cfg.Providers)
	if err != nil {
		return err
	}

	executor, err := query.NewExecutor(a.Dataset, query.Options{
		Timeout:       cfg.Query.Timeout,
		RowCap:        cfg.Query.RowCap,
		MaxConcurrent: int64(cfg.Query.MaxConcurrent),
	})
	if err != nil {
		return err
	}

	deps := processor.Dependencies{
		Registry:  a.Registry,
		Schema:    a.Schema,
		Examples:  a.Examples,
		Builder:   prompt.Builder{MaxSchemaChars: cfg.Prompt.MaxSchemaChars, Dialect: a.Dataset.Dialect()},
		Validator: sqlguard.Validator{Schema: a.Schema, DefaultLimit: cfg.Query.DefaultLimit},
		Executor:  executor,
		Logger:    a.Logger,
	}

	if cfg.History.Enabled {
		a.historyDB, err = historypostgres.Open(ctx, cfg.History, cfg.Service.Name)
		if err != nil {
			return fmt.Errorf("open history db: %w", err)
		}
		a.History = historypostgres.NewRepository(a.historyDB)
		deps.Recorder = a.History
	}

	a.Processor, err = processor.New(deps)
	if err != nil {
		return err
	}

	a.Maintenance = &maintenance.Service{
		Config: maintenance.Config{
			Retention:         cfg.History.Retention,
			PruneSchedule:     cfg.History.PruneSchedule,
			IntegritySchedule: cfg.Dataset.IntegritySchedule,
			DatasetKind:       kind,
			DatasetPath:       cfg.Dataset.Path,
			DatasetKey:        cfg.Dataset.ObjectKey,
		},
		ObjectStore: a.ObjectStore,
		Logger:      a.Logger,
	}
	if a.History != nil {
		a.Maintenance.History = a.History
	}
	return nil
}

func newRegistry(cfg config.ProvidersConfig) (*nl2sql.Registry, error) {
	ollama, err := nl2sql.NewOllamaProvider(nl2sql.OllamaConfig{
		Enabled: cfg.Ollama.Enabled,
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama provider: %w", err)
	}
	gemini, err := nl2sql.NewGeminiProvider(nl2sql.GeminiConfig{
		BaseURL: cfg.Gemini.BaseURL,
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini provider: %w", err)
	}
	openai, err := nl2sql.NewOpenAIProvider(nl2sql.OpenAIConfig{
		BaseURL:     cfg.OpenAI.BaseURL,
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("openai provider: %w", err)
	}

	return nl2sql.NewRegistry(cfg.Default,
		nl2sql.WithRateLimit(ollama, nl2sql.PerMinute(cfg.RatePerMinute)),
		nl2sql.WithRateLimit(gemini, nl2sql.PerMinute(cfg.RatePerMinute)),
		nl2sql.WithRateLimit(openai, nl2sql.PerMinute(cfg.RatePerMinute)),
	)
}

// Readiness checks the dataset and, when enabled, the history store.
func (a *App) Readiness(ctx context.Context) error {
	if err := a.Dataset.Ping(ctx); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if a.History != nil {
		if err := a.History.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.Dataset != nil {
		errs = append(errs, a.Dataset.Close())
	}
	if a.historyDB != nil {
		errs = append(errs, a.historyDB.Close())
	}
	return errors.Join(errs...)
}
