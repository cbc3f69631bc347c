// Package middleware wraps the dispatcher in an onion of cross-cutting handlers.
//
//	Chain(A, B, C)(dispatch) → A(B(C(dispatch)))
//
// Every HandlerFunc must return a non-nil Response: the server writes exactly
// one response per request.
package middleware

import (
	"context"

	"yar-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
