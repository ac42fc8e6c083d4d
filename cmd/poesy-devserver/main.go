// Command poesy-devserver runs an in-memory Poesy backend for local
// development. Verification codes are logged instead of mailed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/poesy/internal/config"
	"github.com/p-blackswan/poesy/internal/devserver"
	"github.com/p-blackswan/poesy/internal/metrics"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("POESY_ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load(config.FileFromEnv())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	logger.Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.DevServerAddr).
		Dur("token_ttl", cfg.DevTokenTTL).
		Msg("starting poesy dev server")

	srv := devserver.New(devserver.Config{
		Addr:      cfg.DevServerAddr,
		JWTSecret: cfg.DevJWTSecret,
		TokenTTL:  cfg.DevTokenTTL,
		RateLimit: devserver.RateLimitConfig{
			RPS:   cfg.DevRateLimitRPS,
			Burst: cfg.DevRateLimitBurst,
		},
		CORSOrigins: cfg.DevCORSOrigins,
	}, metrics.New(), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("dev server failed")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("dev server shutdown error")
	}
	logger.Info().Msg("dev server stopped")
}
