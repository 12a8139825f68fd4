package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"veostudio/pkg/api"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per authenticated account.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
	limiters sync.Map // accountID -> *cachedLimiter
}

type Option func(*RateLimiter)

// WithLimit sets the sustained rate per second and the burst. A rate of 0
// disables limiting.
func WithLimit(perSecond float64, burst int) Option {
	return func(rl *RateLimiter) {
		rl.limit = rate.Limit(perSecond)
		rl.burst = burst
	}
}

// WithTTL sets how long an idle account's limiter is kept.
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

func NewRateLimiter(opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		limit: 5,
		burst: 10,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.burst < 1 {
		rl.burst = 1
	}
	return rl
}

// Middleware must run after AuthMiddleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, ok := AccountIDFromContext(r.Context())
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "Unauthorized",
					Code:  "401",
				})
				return
			}

			// RateLimit=0 means unlimited
			if rl.limit > 0 && !rl.limiter(accountID).Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) limiter(accountID uuid.UUID) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(accountID); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Store(accountID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(rl.ttl),
	})
	return limiter
}

// Sweep drops expired limiters.
func (rl *RateLimiter) Sweep() {
	now := rl.now()
	rl.limiters.Range(func(key, value any) bool {
		if !now.Before(value.(*cachedLimiter).expiresAt) {
			rl.limiters.Delete(key)
		}
		return true
	})
}
