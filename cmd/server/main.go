// Package main is the entry point for the Sentinel Invest API server.
//
// Startup order:
//  1. load configuration (TOML file, .env, environment)
//  2. initialize logging
//  3. wire databases, services, handlers and jobs
//  4. start the scheduler and the HTTP server
//  5. wait for SIGINT/SIGTERM and shut down gracefully
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/sentinel-invest/internal/config"
	"github.com/aristath/sentinel-invest/internal/di"
	"github.com/aristath/sentinel-invest/internal/server"
	"github.com/aristath/sentinel-invest/pkg/logger"
)

// getEnv retrieves an environment variable value, returning a fallback if
// the variable is not set or is empty
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	version := getEnv("VERSION", "dev")
	log.Info().Str("version", version).Str("data_dir", cfg.DataDir).Msg("Starting Sentinel Invest")

	container, jobs, err := di.Wire(cfg, version, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close stores cleanly")
		}
	}()

	srv := server.New(server.Config{
		Log:          log,
		Config:       cfg,
		Idempotency:  container.Idempotency.Handler,
		Authenticate: container.Authenticator.Handler,
		Routes:       container.Routes,
		Tasks:        container.Tasks,
		Stream:       container.Hub,
		System:       container.System,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Str("api_prefix", cfg.APIPrefix).Msg("Server started")

	container.Scheduler.Start()

	// integrity and WAL check once at startup, then on schedule
	go func() {
		if err := container.Scheduler.RunNow(jobs.CheckDatabases); err != nil {
			log.Warn().Err(err).Msg("Initial database check failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// scheduler and hub stop in container.Close, after in-flight requests drain
	log.Info().Msg("Server stopped")
}
