package middleware

import (
	"context"
	"time"

	"dist-rpc/message"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every handled message with its type, id and latency.
// Exception responses are logged at warn level with their description.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.Stringer("type", req.Type()),
				zap.Int64("id", req.ID()),
				zap.Duration("duration", time.Since(start)),
			}
			if resp == nil {
				logger.Warn("rpc handled without response", fields...)
				return resp
			}
			fields = append(fields, zap.Stringer("respType", resp.Type()))
			if text, ok := resp.ExceptionText(); ok {
				logger.Warn("rpc failed", append(fields, zap.String("error", text))...)
			} else {
				logger.Debug("rpc handled", fields...)
			}
			return resp
		}
	}
}
