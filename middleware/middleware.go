// Package middleware wraps the server-side dispatch of one call. The
// transport composes the chain once at listener start; every request then
// flows outermost-first through the installed layers.
package middleware

import (
	"context"

	"mesh-rpc/message"
)

// HandlerFunc processes one call envelope and produces the response
// envelope.
type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

// Middleware decorates a handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one; the first argument becomes the
// outermost layer.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
