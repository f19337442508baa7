package auth

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleLimiterTTL = 15 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle limits each caller to perMinute requests with a burst of a tenth
// of that. Callers over budget get 429 with Retry-After.
type Throttle struct {
	perMinute int
	now       func() time.Time

	mu      sync.Mutex
	callers map[string]*callerLimiter
	sweptAt time.Time
}

func NewThrottle(perMinute int) *Throttle {
	return &Throttle{perMinute: perMinute, now: time.Now, callers: map[string]*callerLimiter{}}
}

// Middleware applies the throttle. A non-positive budget disables it.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	if t == nil || t.perMinute <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := Anonymous().Caller
		if identity, ok := IdentityFromContext(r.Context()); ok {
			caller = identity.Caller
		}
		if wait := t.reserve(caller); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "query rate limit exceeded for caller "+caller, true)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reserve takes a token for caller and returns how long the caller would
// have to wait for one; zero means the request may proceed.
func (t *Throttle) reserve(caller string) time.Duration {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.sweptAt) > idleLimiterTTL {
		for name, entry := range t.callers {
			if now.Sub(entry.lastSeen) > idleLimiterTTL {
				delete(t.callers, name)
			}
		}
		t.sweptAt = now
	}

	entry, ok := t.callers[caller]
	if !ok {
		burst := max(1, t.perMinute/10)
		entry = &callerLimiter{limiter: rate.NewLimiter(rate.Limit(float64(t.perMinute)/60), burst)}
		t.callers[caller] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return time.Minute
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay
	}
	return 0
}
