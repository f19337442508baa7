package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindTransient   ErrorKind = "transient"
	KindAuth        ErrorKind = "auth"
	KindQuota       ErrorKind = "quota"
	KindMalformed   ErrorKind = "malformed"
	KindUnavailable ErrorKind = "unavailable"
)

var ErrUnknownProvider = errors.New("unknown provider")

type GenerationError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s error from %s: %v", e.Kind, e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the whole request later.
func (e *GenerationError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindQuota
}

func newGenerationError(kind ErrorKind, provider string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Provider: provider, Err: err}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindQuota
	case status == http.StatusRequestTimeout || status >= 500:
		return KindTransient
	default:
		return KindMalformed
	}
}

// transportError classifies a failed round trip. Cancellation keeps ctx.Err
// in the chain so callers can tell a client disconnect from a backend fault.
func transportError(ctx context.Context, provider string, err error) *GenerationError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newGenerationError(KindTransient, provider, fmt.Errorf("%w: %v", ctxErr, err))
	}
	return newGenerationError(KindTransient, provider, err)
}
