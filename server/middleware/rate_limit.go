package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/hrygo/construkt/server/auth"
	chaterrors "github.com/hrygo/construkt/server/internal/errors"
)

// RateLimiter hands out one token bucket per caller key.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*rate.Limiter
	every  rate.Limit
	burst  int
}

// NewRateLimiter creates a limiter allowing perSecond requests with the given
// burst for each key. Non-positive values fall back to 10/s with a burst of 20.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		limits: make(map[string]*rate.Limiter),
		every:  rate.Limit(perSecond),
		burst:  burst,
	}
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.limits[key]; ok {
		return limiter
	}

	limiter := rate.NewLimiter(rl.every, rl.burst)
	rl.limits[key] = limiter
	return limiter
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or rate limit exceeded.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// Prune drops buckets that have refilled completely, since they carry no state.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	pruned := 0
	for key, limiter := range rl.limits {
		if limiter.TokensAt(now) >= float64(rl.burst) {
			delete(rl.limits, key)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limits)
}

// CallerKey identifies the caller by bearer subject when present and by
// remote IP otherwise.
func CallerKey(authenticator *auth.Authenticator) func(echo.Context) string {
	return func(c echo.Context) string {
		if authenticator != nil {
			if claims, ok := authenticator.Authenticate(c.Request().Header.Get(echo.HeaderAuthorization)); ok {
				return "user:" + claims.OwnerID()
			}
		}
		return "ip:" + c.RealIP()
	}
}

// RateLimit rejects callers that exceed their bucket with a 429 envelope.
func RateLimit(rl *RateLimiter, keyFunc func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}
			if !rl.Allow(keyFunc(c)) {
				status, body := chaterrors.Envelope(chaterrors.RateLimitExceeded("Too many requests, please slow down"))
				return c.JSON(status, body)
			}
			return next(c)
		}
	}
}
