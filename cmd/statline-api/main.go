package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/statline/statline/internal/api"
	"github.com/statline/statline/internal/app"
	"github.com/statline/statline/internal/auth"
	"github.com/statline/statline/internal/config"
	"github.com/statline/statline/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("statline-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = pipeline.Close() }()

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         pipeline.Readiness,
		DependencyTimeout: 2 * time.Second,
		Processor:         pipeline.Processor,
		Schema:            pipeline.Schema,
		Examples:          pipeline.Examples,
		Dataset:           pipeline.Dataset,
	}
	if pipeline.History != nil {
		deps.History = pipeline.History
	}
	if cfg.Auth.Required {
		keys, err := auth.ParseKeyRing(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse api keys", slog.Any("error", err))
			os.Exit(1)
		}
		if keys.Len() == 0 {
			logger.Warn("auth is required but no api keys are configured; every request will be rejected")
		}
		deps.AuthMiddleware = auth.Middleware(logger, keys)
	}

	go func() {
		if err := pipeline.Maintenance.Run(ctx); err != nil {
			logger.Error("maintenance stopped", slog.Any("error", err))
		}
	}()

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
