// Package middleware wraps request handling in an onion of cross-cutting concerns.
//
// The same HandlerFunc shape serves both sides of the wire: the client wraps its
// flush → send → receive exchange, the server wraps method dispatch.
package middleware

import (
	"context"

	"instrument-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
