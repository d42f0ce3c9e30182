// Package middleware wraps message handlers in an onion of cross-cutting
// behavior. The same HandlerFunc shape serves the server (request in, response
// out) and the client (request out, response back).
//
// Handlers never return Go errors: a failure is an Exception message carrying
// the request's id, so it travels back through the same path as a result.
package middleware

import (
	"context"

	"dist-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one. Chain(A, B, C)(h) runs A first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
