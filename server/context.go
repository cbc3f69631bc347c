package server

import (
	"context"

	"yar-rpc/protocol"
)

type ctxKey int

const (
	connIDKey ctxKey = iota
	headerKey
)

func withCall(ctx context.Context, connID uint64, h protocol.Header) context.Context {
	ctx = context.WithValue(ctx, connIDKey, connID)
	return context.WithValue(ctx, headerKey, h)
}

// ConnIDFromContext returns the id of the connection a call arrived on.
func ConnIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(connIDKey).(uint64)
	return id, ok
}

// HeaderFromContext returns the frame header of the current call, giving
// handlers access to the provider and token tags.
func HeaderFromContext(ctx context.Context) (protocol.Header, bool) {
	h, ok := ctx.Value(headerKey).(protocol.Header)
	return h, ok
}
