package middleware

import (
	"context"
	"time"

	"mesh-rpc/logger"
	"mesh-rpc/message"
)

// LoggingMiddleware logs every call with its duration and outcome.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			resp := next(ctx, req)
			if resp.Failed() {
				logger.L().Warn("call failed",
					logger.String("call", req.Target()),
					logger.Duration("duration", time.Since(start)),
					logger.String("error", resp.Error))
			} else {
				logger.L().Debug("call served",
					logger.String("call", req.Target()),
					logger.Duration("duration", time.Since(start)))
			}
			return resp
		}
	}
}
