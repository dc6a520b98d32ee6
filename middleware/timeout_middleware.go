package middleware

import (
	"context"
	"time"

	"mesh-rpc/message"
)

// TimeoutMiddleware bounds each call. The deadline travels in the context,
// so handlers that respect ctx can stop early; handlers that do not are
// abandoned, their eventual result discarded, and the caller gets a timeout
// response naming the budget and the call.
//
// A caller deadline tighter than the configured budget wins.
func TimeoutMiddleware(budget time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			ctx, cancel := context.WithTimeout(ctx, budget)
			defer cancel()

			done := make(chan *message.Message, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.Message{
					Service: req.Service,
					Method:  req.Method,
					Error:   "call to " + req.Target() + " timed out after " + budget.String(),
				}
			}
		}
	}
}
