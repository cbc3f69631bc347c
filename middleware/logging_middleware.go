package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"yar-rpc/message"
)

// Logging logs every call at debug and every exception at warn.
func Logging(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)

			if resp.Failed() {
				evt := logger.Warn().
					Uint32("id", req.ID).
					Str("method", req.Method).
					Dur("duration", duration)
				if detail, ok := resp.Error.(message.ErrorDetail); ok {
					evt = evt.Str("error", detail.Message).Int("code", detail.Code)
				}
				evt.Msg("call failed")
				return resp
			}

			logger.Debug().
				Uint32("id", req.ID).
				Str("method", req.Method).
				Dur("duration", duration).
				Msg("call")
			return resp
		}
	}
}
