package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/statline/statline/internal/sampledata"
)

func main() {
	cfg, err := sampledata.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load sample data config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("generating sample dataset",
		slog.String("kind", cfg.Kind),
		slog.String("output", cfg.Output),
		slog.Int("seasons", cfg.Seasons),
		slog.Int("teams", cfg.Teams),
		slog.Int64("seed", cfg.Seed),
	)

	ds := sampledata.NewGenerator(cfg).Generate()
	report, err := sampledata.Write(context.Background(), cfg, ds)
	if err != nil {
		logger.Error("failed to write sample dataset", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("sample dataset written", slog.String("path", report.Path), slog.Any("tables", report.Tables))
}
