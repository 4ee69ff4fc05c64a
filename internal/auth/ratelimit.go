package auth

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/wark-project/wark/internal/problem"
)

// RateLimitPolicy bounds the request rate for a single actor.
type RateLimitPolicy struct {
	RequestsPerSecond float64
	Burst             int
}

// actorLimiters hands out a token-bucket limiter per actor, lazily
// constructed and retained for the life of the process.
type actorLimiters struct {
	mu       sync.Mutex
	policy   RateLimitPolicy
	limiters map[string]*rate.Limiter
}

func newActorLimiters(policy RateLimitPolicy) *actorLimiters {
	return &actorLimiters{policy: policy, limiters: make(map[string]*rate.Limiter)}
}

func (a *actorLimiters) forActor(actorID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.limiters[actorID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(a.policy.RequestsPerSecond), a.policy.Burst)
		a.limiters[actorID] = l
	}
	return l
}

// RateLimitMiddleware enforces policy per authenticated principal, falling
// back to remote address for unauthenticated requests. Responds 429 with
// Retry-After when the bucket is empty.
func RateLimitMiddleware(policy RateLimitPolicy) func(http.Handler) http.Handler {
	limiters := newActorLimiters(policy)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID := r.RemoteAddr
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = principal.GetID()
			}

			if !limiters.forActor(actorID).Allow() {
				problem.WriteTooManyRequests(w, r, 1)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
