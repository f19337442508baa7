package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline/statline/internal/observability"
)

func callerEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		require.True(t, ok, "identity missing")
		_, _ = io.WriteString(w, identity.Caller)
	})
}

func TestMiddlewareAuthenticates(t *testing.T) {
	ring, err := ParseKeyRing("k1:analyst:query_reader")
	require.NoError(t, err)
	handler := observability.TraceMiddleware(Middleware(slog.New(slog.NewTextHandler(io.Discard, nil)), ring)(callerEcho(t)))

	cases := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantBody   string
	}{
		{name: "api key header", header: "X-API-Key", value: "k1", wantStatus: http.StatusOK, wantBody: "analyst"},
		{name: "bearer token", header: "Authorization", value: "Bearer k1", wantStatus: http.StatusOK, wantBody: "analyst"},
		{name: "lowercase bearer", header: "Authorization", value: "bearer k1", wantStatus: http.StatusOK, wantBody: "analyst"},
		{name: "basic scheme", header: "Authorization", value: "Basic azE=", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", header: "X-API-Key", value: "nope", wantStatus: http.StatusUnauthorized},
		{name: "no key", wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
			req.Header.Set("X-Trace-ID", "trace-auth")
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			require.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, tc.wantBody, rr.Body.String())
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, "UNAUTHORIZED", body["error_code"])
			assert.Equal(t, "trace-auth", body["trace_id"])
			assert.Equal(t, false, body["retryable"])
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleHistoryReader)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(WithIdentity(req.Context(), Identity{Caller: "analyst", Roles: []string{RoleQueryReader}})))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(WithIdentity(req.Context(), Identity{Caller: "auditor", Roles: []string{RoleHistoryReader}})))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAnonymizeKeepsExistingIdentity(t *testing.T) {
	handler := Anonymize(callerEcho(t))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	assert.Equal(t, "anonymous", rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(WithIdentity(req.Context(), Identity{Caller: "analyst"})))
	assert.Equal(t, "analyst", rr.Body.String())
}

func TestThrottleLimitsPerCaller(t *testing.T) {
	clock := time.Date(2024, 9, 8, 13, 0, 0, 0, time.UTC)
	throttle := NewThrottle(10)
	throttle.now = func() time.Time { return clock }
	handler := throttle.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(caller string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
		req = req.WithContext(WithIdentity(req.Context(), Identity{Caller: caller}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusNoContent, send("analyst").Code)
	limited := send("analyst")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	retryAfter, err := strconv.Atoi(limited.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 6, retryAfter, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(limited.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body["error_code"])
	assert.Equal(t, true, body["retryable"])

	assert.Equal(t, http.StatusNoContent, send("auditor").Code, "callers have separate budgets")

	clock = clock.Add(7 * time.Second)
	assert.Equal(t, http.StatusNoContent, send("analyst").Code)
}

func TestThrottleSweepsIdleCallers(t *testing.T) {
	clock := time.Date(2024, 9, 8, 13, 0, 0, 0, time.UTC)
	throttle := NewThrottle(60)
	throttle.now = func() time.Time { return clock }

	throttle.reserve("analyst")
	clock = clock.Add(idleLimiterTTL + time.Second)
	throttle.reserve("auditor")

	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	assert.NotContains(t, throttle.callers, "analyst")
	assert.Contains(t, throttle.callers, "auditor")
}

func TestDisabledThrottlePassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := NewThrottle(0).Middleware(next)
	for range 50 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", nil))
		require.Equal(t, http.StatusNoContent, rr.Code)
	}
}
