package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/SANCHES-Pedro/bq-back/internal/app"
	"github.com/SANCHES-Pedro/bq-back/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	application := app.New(cfg)
	if err := application.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start audio bridge")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Shutdown requested")
	case err := <-application.Errors():
		log.Error().Err(err).Msg("Listener failed, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.ShutdownTimeout)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
