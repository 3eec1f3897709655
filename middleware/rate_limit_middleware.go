package middleware

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitExceeded is returned when RateLimitMiddleware short-circuits a
// call because the token bucket was empty.
type RateLimitExceeded struct{}

func (e *RateLimitExceeded) Error() string { return "rate limit exceeded" }

// RateLimitMiddleware throttles job intake using a token bucket (same
// algorithm as the teacher's RateLimitMiddleware). The limiter is created
// once in the outer closure and shared across every call through the
// wrapped handler; a fresh limiter per call would defeat the bucket
// entirely. r is the refill rate in tokens per second, burst the bucket
// size. Nothing in this repository installs it by default; on a server's
// job middleware stack one limiter throttles one worker.
func RateLimitMiddleware[Req, Resp any](r float64, burst int) Middleware[Req, Resp] {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc[Req, Resp]) HandlerFunc[Req, Resp] {
		return func(ctx context.Context, req Req) (Resp, error) {
			if !limiter.Allow() {
				var zero Resp
				return zero, &RateLimitExceeded{}
			}
			return next(ctx, req)
		}
	}
}
