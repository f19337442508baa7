// Package statlinectl is the operator CLI. Remote commands talk to the HTTP
// API; local commands work on dataset files directly.
package statlinectl

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/statline/statline/internal/storage"
)

// StoreFactory opens the object store used by the dataset commands.
type StoreFactory func(ctx context.Context) (storage.ObjectStore, error)

type Options struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	HTTPClient  *http.Client
	ObjectStore StoreFactory
	Stdout      io.Writer
	Stderr      io.Writer
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the command fails and 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	if defaults.Stdout == nil {
		defaults.Stdout = io.Discard
	}
	if defaults.Stderr == nil {
		defaults.Stderr = io.Discard
	}

	root := NewRootCommand(&defaults)
	root.SetArgs(args)
	root.SetOut(defaults.Stdout)
	root.SetErr(defaults.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = io.WriteString(defaults.Stderr, "error: "+err.Error()+"\n")
	var usage usageError
	if errors.As(err, &usage) || isCobraUsageError(err) {
		_, _ = io.WriteString(defaults.Stderr, "\n"+root.UsageString())
		return 2
	}
	return 1
}

func NewRootCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "statlinectl",
		Short:         "Ask questions of the NFL stats dataset and manage its files",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return usageError{errors.New("a command is required")}
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	cmd.PersistentFlags().StringVar(&opts.BaseURL, "api-url", firstNonEmpty(opts.BaseURL, "http://localhost:8080"), "statline API base URL")
	cmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", opts.APIKey, "API key for authenticated requests")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", durationOr(opts.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	cmd.AddCommand(newHealthCommand(opts))
	cmd.AddCommand(newReadyCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))
	cmd.AddCommand(newProvidersCommand(opts))
	cmd.AddCommand(newSchemaCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newDatasetCommand(opts))
	return cmd
}

func isCobraUsageError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "required flag") ||
		strings.HasPrefix(msg, "accepts ") ||
		strings.HasPrefix(msg, "requires at least")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
