package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trendfire/trendfire/cmd/trendfire/commands"
	"github.com/trendfire/trendfire/pkg/telemetry"
)

// Set with -ldflags "-X main.Version=..." at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// The global logger covers everything before the config is read.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(telemetry.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Interrupting abandons in-flight requests; tasks already submitted
	// keep running on Earth Engine.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Warn().Str("signal", sig.String()).Msg("Interrupted, cancelling")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("trendfire failed")
		cancel()
		os.Exit(1)
	}
}
