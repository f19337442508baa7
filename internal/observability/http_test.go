package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/statline/statline/internal/config"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "trace-1" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareReadsTraceparent(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var got string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(traceparentHeader, "00-"+traceID+"-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != traceID {
		t.Fatalf("trace id = %q, want %q", got, traceID)
	}
}

func TestTraceIDFromTraceparentRejectsMalformed(t *testing.T) {
	for _, value := range []string{
		"",
		"01-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		"00-short-00f067aa0ba902b7-01",
		"00-" + strings.Repeat("0", 32) + "-00f067aa0ba902b7-01",
		"00-zzf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	} {
		if got := traceIDFromTraceparent(value); got != "" {
			t.Fatalf("traceIDFromTraceparent(%q) = %q", value, got)
		}
	}
}

func TestTraceMiddlewareGeneratesTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TraceIDFromContext(r.Context()) == "" {
			t.Fatal("expected generated trace id")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Header().Get(traceHeader) == "" {
		t.Fatal("expected X-Trace-ID header")
	}
}

func TestLoggerAddsContextIDs(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Profile: config.ProfileTest, Service: config.ServiceConfig{Name: "statline-api"}}
	cfg.Observability.LogJSON = true
	logger := NewLogger(cfg, &buf)

	ctx := ContextWithQueryID(ContextWithTraceID(context.Background(), "trace-9"), "query-7")
	logger.With(slog.String("component", "processor")).InfoContext(ctx, "query completed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record: %v (%s)", err, buf.String())
	}
	for key, want := range map[string]string{
		"trace_id":  "trace-9",
		"query_id":  "query-7",
		"service":   "statline-api",
		"component": "processor",
	} {
		if record[key] != want {
			t.Fatalf("record[%q] = %v, want %q", key, record[key], want)
		}
	}
}

func TestLoggingMiddlewareLevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if record["level"] != "ERROR" || record["status"] != float64(http.StatusServiceUnavailable) {
		t.Fatalf("record = %v", record)
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	var label string
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			label = routeLabel(r)
		})
	})
	router.Get("/v1/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/history/0192", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rr.Code)
	}
	if label != "/v1/history/{id}" {
		t.Fatalf("routeLabel() = %q", label)
	}
}

func TestMetricsMiddlewareUsesUnmatchedLabelOutsideRouter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/history/0192", nil)
	if got := routeLabel(req); got != "unmatched" {
		t.Fatalf("routeLabel() = %q, want unmatched", got)
	}
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestTrackInFlightReturnsDecrement(t *testing.T) {
	done := TrackInFlight()
	done()
}
