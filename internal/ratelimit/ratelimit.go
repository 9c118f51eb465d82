// Package ratelimit wraps golang.org/x/time/rate for per-venue request pacing.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces outbound requests to an external API.
type Limiter struct {
	limiter *rate.Limiter
}

// PerMinute creates a limiter allowing requestsPerMinute requests, with a
// burst of 10% of the per-minute budget (minimum 1).
func PerMinute(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)}
}

// Wait blocks until a token is available or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed now.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}
