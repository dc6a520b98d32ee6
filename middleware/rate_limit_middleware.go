package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mesh-rpc/message"
)

// RateLimitMiddleware rejects calls above the token-bucket rate. One
// limiter guards the whole listener, shared by every service attached to
// it; rejected calls answer immediately instead of queueing.
func RateLimitMiddleware(perSecond float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				return &message.Message{
					Service: req.Service,
					Method:  req.Method,
					Error:   "rate limit exceeded",
				}
			}
			return next(ctx, req)
		}
	}
}
