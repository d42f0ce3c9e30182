package middleware

import (
	"context"
	"time"

	"dist-rpc/message"
)

const TimeoutText = "request timed out"

func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			// req is read by the handler goroutine, so the id is captured first.
			id := req.ID()
			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.CreateExceptionResponse(TimeoutText, id)
			}
		}
	}
}
