package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"yar-rpc/message"
)

// RateLimitCode is the error code of a rejected call.
const RateLimitCode = 429

// RateLimit admits calls through a token bucket shared by all connections.
// Rejected calls get an EXCEPTION response; the connection stays open.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.NewException(req.ID, message.ErrorDetail{
					Message: "rate limit exceeded",
					Code:    RateLimitCode,
				})
			}
			return next(ctx, req)
		}
	}
}
