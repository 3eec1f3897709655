package middleware

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError is returned when the wrapped handler did not finish within
// the duration TimeoutMiddleware was configured with.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("middleware: call did not complete within %s", e.Timeout)
}

// TimeoutMiddleware enforces a maximum duration for each call through the
// wrapped handler, same shape as the teacher's TimeOutMiddleware: the
// handler runs in its own goroutine racing a context deadline, and is not
// forcibly cancelled — callers that need cooperative cancellation must
// check ctx.Done() themselves.
func TimeoutMiddleware[Req, Resp any](timeout time.Duration) Middleware[Req, Resp] {
	return func(next HandlerFunc[Req, Resp]) HandlerFunc[Req, Resp] {
		return func(ctx context.Context, req Req) (Resp, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp Resp
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				var zero Resp
				return zero, &TimeoutError{Timeout: timeout}
			}
		}
	}
}
