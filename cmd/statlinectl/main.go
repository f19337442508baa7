package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/statline/statline/internal/cli/statlinectl"
	"github.com/statline/statline/internal/config"
	"github.com/statline/statline/internal/storage"
	s3store "github.com/statline/statline/internal/storage/s3"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("STATLINE_CLI_TIMEOUT")), 60*time.Second)
	options := statlinectl.Options{
		BaseURL:     envOr("STATLINE_API_URL", "http://localhost:8080"),
		APIKey:      strings.TrimSpace(os.Getenv("STATLINE_API_KEY")),
		Timeout:     timeout,
		ObjectStore: openObjectStore,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}

	os.Exit(statlinectl.Run(context.Background(), os.Args[1:], options))
}

func openObjectStore(ctx context.Context) (storage.ObjectStore, error) {
	cfg, err := config.LoadFromEnv("statlinectl")
	if err != nil {
		return nil, err
	}
	return s3store.New(ctx, cfg.ObjectStore)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid STATLINE_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
