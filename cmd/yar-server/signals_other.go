//go:build !unix

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"yar-rpc/server"
)

func waitSignals(ctx context.Context, srv *server.Server, logger zerolog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	select {
	case <-ctx.Done():
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}
}
