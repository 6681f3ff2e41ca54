package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alinzhou20/miniServer/internal/app"
	"github.com/alinzhou20/miniServer/internal/config"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if os.Getenv("LOG_FORMAT") == "json" {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration error")
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create application")
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start application")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	if err := application.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		os.Exit(1)
	}
}
