package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/statline/statline/internal/observability"
)

// Middleware authenticates every request with the X-API-Key header or a
// bearer token and stores the resulting Identity in the request context.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, source := requestKey(r)
			if key == "" {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing API key", false)
				return
			}
			identity, ok := validator.Validate(r.Context(), key)
			if !ok {
				if logger != nil {
					logger.WarnContext(r.Context(), "api key rejected",
						slog.String("key_source", source),
						slog.String("path", r.URL.Path),
						slog.String("remote_addr", r.RemoteAddr))
				}
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key", false)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRole answers 403 when the identity lacks role. Requests without any
// identity pass untouched; Middleware or Anonymize must run first.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, ok := IdentityFromContext(r.Context()); ok && !identity.HasRole(role) {
				writeError(w, r, http.StatusForbidden, "FORBIDDEN", "caller lacks role "+role, false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Anonymize gives requests the anonymous identity when auth is disabled.
func Anonymize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			r = r.WithContext(WithIdentity(r.Context(), Anonymous()))
		}
		next.ServeHTTP(w, r)
	})
}

func requestKey(r *http.Request) (key, source string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, "header"
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token), "bearer"
	}
	return "", ""
}

// writeError emits the same envelope as the api package so clients parse one
// error shape.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    nil,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
