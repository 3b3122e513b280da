package rateLimit

import (
	"context"
	"time"

	"github.com/robertarktes/ticketing-events/internal/observability"
)

// Counter is satisfied by the redis cache.
type Counter interface {
	CountInWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
	logger  observability.Logger
}

func NewRateLimiter(counter Counter, logger observability.Logger) *RateLimiter {
	return &RateLimiter{counter: counter, logger: logger}
}

// Allow reports whether key is still under rate hits per period. When the
// counter store is unreachable requests are let through.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	n, err := rl.counter.CountInWindow(ctx, key, period)
	if err != nil {
		rl.logger.WithError(err).Warn("rate limiter unavailable")
		return true
	}
	if n > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
