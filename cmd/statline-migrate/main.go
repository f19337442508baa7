package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/statline/statline/internal/config"
	historypostgres "github.com/statline/statline/internal/history/postgres"
	"github.com/statline/statline/internal/migrations"
	"github.com/statline/statline/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var timeout time.Duration
	root := &cobra.Command{
		Use:           "statline-migrate",
		Short:         "Manage the query history schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the migration run")

	withDB := func(run func(ctx context.Context, logger *slog.Logger, db *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv("statline-migrate")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.History.DSN == "" {
				return fmt.Errorf("STATLINE_HISTORY_DSN is required")
			}
			logger := observability.NewLogger(cfg, os.Stderr)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			db, err := historypostgres.Open(ctx, config.HistoryConfig{DSN: cfg.History.DSN, MaxOpenConns: 1, MaxIdleConns: 1}, "statline-migrate")
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return run(ctx, logger, db)
		}
	}

	var upSteps, downSteps int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, logger *slog.Logger, db *sql.DB) error {
			applied, err := migrations.NewRunner().Up(ctx, db, upSteps)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			logger.InfoContext(ctx, "migrations applied", slog.Int("count", applied))
			return nil
		}),
	}
	up.Flags().IntVar(&upSteps, "steps", 0, "migrations to apply; 0 applies all")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, logger *slog.Logger, db *sql.DB) error {
			rolledBack, err := migrations.NewRunner().Down(ctx, db, downSteps)
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			logger.InfoContext(ctx, "migrations rolled back", slog.Int("count", rolledBack))
			return nil
		}),
	}
	down.Flags().IntVar(&downSteps, "steps", 1, "migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withDB(func(ctx context.Context, _ *slog.Logger, db *sql.DB) error {
			current, err := migrations.NewRunner().Version(ctx, db)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Fprintln(os.Stdout, current)
			return nil
		}),
	}

	root.AddCommand(up, down, version)
	return root
}
