package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryMiddleware retries the wrapped handler with exponential backoff when
// it fails with an error retryable accepts, same backoff shape as the
// teacher's RetryMiddleware. retryable is supplied by the caller instead of
// being a hardcoded string match, so a caller can retry typed errors such
// as ConnectionFailure and never a timed-out job response. Nothing in this
// repository installs it by default. Retrying an already-enqueued request
// would risk a second server-side execution of the same action, which §7's
// at-most-once-execution guarantee forbids.
func RetryMiddleware[Req, Resp any](maxRetries int, baseDelay time.Duration, retryable func(error) bool, log *zap.Logger) Middleware[Req, Resp] {
	return func(next HandlerFunc[Req, Resp]) HandlerFunc[Req, Resp] {
		return func(ctx context.Context, req Req) (Resp, error) {
			resp, err := next(ctx, req)
			for attempt := 0; err != nil && retryable(err) && attempt < maxRetries; attempt++ {
				log.Warn("retrying after error", zap.Int("attempt", attempt+1), zap.Error(err))
				select {
				case <-ctx.Done():
					return resp, ctx.Err()
				case <-time.After(baseDelay * time.Duration(1<<attempt)):
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}
