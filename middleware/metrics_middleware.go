package middleware

import (
	"context"
	"time"

	"yar-rpc/message"
	"yar-rpc/metrics"
	"yar-rpc/router"
)

// Metrics records call counts and latency per method. Methods missing from
// routes share the metrics.UnknownMethod label, so clients cannot grow the
// series set by sending arbitrary names.
func Metrics(routes router.RouteTable) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			method := req.Method
			if _, err := routes.Lookup(method); err != nil {
				method = metrics.UnknownMethod
			}
			metrics.RecordRequest(method, resp.Failed(), time.Since(start))
			return resp
		}
	}
}
