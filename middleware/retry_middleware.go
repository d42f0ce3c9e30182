package middleware

import (
	"context"
	"strings"
	"time"

	"dist-rpc/message"

	"go.uber.org/zap"
)

// retryable lists exception texts worth resending the request for.
var retryable = []string{"timed out", "timeout", "connection refused", "connection reset", "transport closed"}

func isRetryable(text string) bool {
	for _, s := range retryable {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// RetryMiddleware resends a request when its response is an Exception that
// looks transient, with exponential backoff starting at baseDelay.
//
// Every attempt gets its own Copy of req: the layers below may number it or
// take its payload, and the original has to stay intact for the next attempt.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			resp := next(ctx, req.Copy())
			for i := 0; i < maxRetries; i++ {
				if resp == nil {
					return nil
				}
				text, failed := resp.ExceptionText()
				if !failed || !isRetryable(text) {
					return resp
				}
				zap.L().Info("retrying rpc",
					zap.Int("attempt", i+1),
					zap.Stringer("type", req.Type()),
					zap.String("error", text))

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return resp
				}
				resp = next(ctx, req.Copy())
			}
			return resp
		}
	}
}
