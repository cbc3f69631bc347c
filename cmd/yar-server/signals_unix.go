//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"yar-rpc/server"
)

// waitSignals reloads task workers on SIGUSR1 and returns on SIGTERM, SIGINT
// or when ctx ends.
func waitSignals(ctx context.Context, srv *server.Server, logger zerolog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGUSR1 {
				srv.Reload()
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return
		}
	}
}
