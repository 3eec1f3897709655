package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware records the duration and outcome of every call that
// passes through the wrapped handler, the way the teacher's
// LoggingMiddleware recorded service method/duration/error — generalized
// from a single RPCMessage shape to any Req via the fields extractor, and
// from stdlib log to zap per the ambient logging stack.
//
// fields extracts the structured fields particular to this stack's Req
// (action name, job action count, service name, whatever the caller wants
// surfaced); this middleware only adds duration and error/success framing.
func LoggingMiddleware[Req, Resp any](log *zap.Logger, fields func(Req) []zap.Field) Middleware[Req, Resp] {
	return func(next HandlerFunc[Req, Resp]) HandlerFunc[Req, Resp] {
		return func(ctx context.Context, req Req) (Resp, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			logFields := append(fields(req), zap.Duration("duration", time.Since(start)))
			if err != nil {
				log.Warn("rpc call failed", append(logFields, zap.Error(err))...)
			} else {
				log.Debug("rpc call completed", logFields...)
			}
			return resp, err
		}
	}
}
