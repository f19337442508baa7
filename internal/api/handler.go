package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statline/statline/internal/auth"
	"github.com/statline/statline/internal/config"
	"github.com/statline/statline/internal/dataset"
	"github.com/statline/statline/internal/history"
	"github.com/statline/statline/internal/nl2sql"
	"github.com/statline/statline/internal/observability"
	"github.com/statline/statline/internal/processor"
	"github.com/statline/statline/internal/schema"
)

type ReadinessCheck func(ctx context.Context) error

// QueryProcessor is the query pipeline. *processor.Processor satisfies it.
type QueryProcessor interface {
	Process(ctx context.Context, req processor.Request) processor.Outcome
	Providers() []nl2sql.Descriptor
	Stats() processor.Stats
}

type DatasetInfo interface {
	Kind() dataset.Kind
	CountRows(ctx context.Context, table string) (int64, error)
}

type HistoryReader interface {
	List(ctx context.Context, caller string, limit int) ([]history.Entry, error)
	Get(ctx context.Context, id string) (history.Entry, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Processor         QueryProcessor
	Schema            *schema.Descriptor
	Examples          []schema.Example
	Dataset           DatasetInfo
	// History is nil when history is disabled; its routes are then absent.
	History HistoryReader
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	router := chi.NewRouter()
	router.Use(observability.TraceMiddleware)
	router.Use(observability.MetricsMiddleware)
	if deps.Logger != nil {
		router.Use(observability.LoggingMiddleware(deps.Logger))
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.HTTP.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Trace-ID"},
		ExposedHeaders:   []string{"Retry-After", "X-Trace-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	router.Get("/v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	router.Handle("/v1/metrics", promhttp.Handler())

	router.Group(func(protected chi.Router) {
		switch {
		case !cfg.Auth.Required:
			protected.Use(auth.Anonymize)
		case deps.AuthMiddleware == nil:
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protected.Use(func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			})
		default:
			protected.Use(deps.AuthMiddleware)
		}

		throttle := auth.NewThrottle(cfg.Auth.QueriesPerMinute)
		protected.Group(func(reader chi.Router) {
			reader.Use(auth.RequireRole(auth.RoleQueryReader))
			reader.With(throttle.Middleware).Post("/v1/query", func(w http.ResponseWriter, r *http.Request) {
				handleQuery(deps, w, r)
			})
			reader.Get("/v1/providers", func(w http.ResponseWriter, r *http.Request) {
				handleProviders(deps, w, r)
			})
			reader.Get("/v1/schema", func(w http.ResponseWriter, r *http.Request) {
				handleSchema(deps, w, r)
			})
			reader.Get("/v1/status", func(w http.ResponseWriter, r *http.Request) {
				handleStatus(cfg, deps, w, r)
			})
		})

		if deps.History != nil {
			protected.Group(func(reader chi.Router) {
				reader.Use(auth.RequireRole(auth.RoleHistoryReader))
				reader.Get("/v1/history", func(w http.ResponseWriter, r *http.Request) {
					handleListHistory(deps, w, r)
				})
				reader.Get("/v1/history/{id}", func(w http.ResponseWriter, r *http.Request) {
					handleGetHistory(deps, w, r)
				})
			})
		}
	})

	return router
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func callerFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Caller
	}
	return auth.Anonymous().Caller
}
