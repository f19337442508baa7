package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/statline/statline/internal/app"
	"github.com/statline/statline/internal/config"
	"github.com/statline/statline/internal/mcpserver"
	"github.com/statline/statline/internal/observability"
)

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv("statline-mcp")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// stdout carries the MCP protocol, so logs go to stderr.
	logger := observability.NewLogger(cfg, os.Stderr)
	pipeline, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = pipeline.Close() }()

	s := mcpserver.New("statline", version, &mcpserver.Tools{Processor: pipeline.Processor, Logger: logger})
	if err := server.ServeStdio(s); err != nil {
		logger.Error("mcp server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
