package nl2sql

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("local rate limit exceeded")

// PerMinute returns a limiter admitting n generations per minute with a
// burst of n. A non-positive n disables limiting.
func PerMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit guards p with limiter. Rejected calls fail with KindQuota and
// never reach the backend.
func WithRateLimit(p Provider, limiter *rate.Limiter) Provider {
	if limiter == nil {
		return p
	}
	return &rateLimited{Provider: p, limiter: limiter}
}

func (r *rateLimited) Generate(ctx context.Context, req Request) (Result, error) {
	if !r.limiter.Allow() {
		return Result{}, newGenerationError(KindQuota, r.Describe().ID, ErrRateLimited)
	}
	return r.Provider.Generate(ctx, req)
}
