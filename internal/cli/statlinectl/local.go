package statlinectl

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/statline/statline/internal/dataset"
	"github.com/statline/statline/internal/schema"
	"github.com/statline/statline/internal/sqlguard"
)

func newValidateCommand(_ *Options) *cobra.Command {
	var (
		path         string
		kind         string
		annotations  string
		defaultLimit int
	)
	cmd := &cobra.Command{
		Use:   "validate <sql>",
		Short: "Check a statement against a local dataset without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedKind, err := dataset.ParseKind(kind)
			if err != nil {
				return usageError{err}
			}
			loaded, err := schema.LoadAnnotations(annotations)
			if err != nil {
				return err
			}

			ds, err := dataset.Open(cmd.Context(), dataset.Config{Kind: parsedKind, Path: path})
			if err != nil {
				return err
			}
			defer func() { _ = ds.Close() }()

			descriptor, err := ds.LoadSchema(cmd.Context(), schema.LoadOptions{Annotations: loaded})
			if err != nil {
				return fmt.Errorf("load schema: %w", err)
			}

			validator := sqlguard.Validator{Schema: descriptor, DefaultLimit: defaultLimit}
			stmt, err := validator.Validate(strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("rejected: %w", err)
			}
			return printJSON(cmd, map[string]any{
				"sql":            stmt.SQL(),
				"limit_injected": stmt.LimitInjected(),
				"schema_version": descriptor.Version(),
			})
		},
	}
	cmd.Flags().StringVar(&path, "dataset", "", "dataset file or parquet directory")
	cmd.Flags().StringVar(&kind, "kind", string(dataset.KindDuckDB), "dataset kind (duckdb|sqlite|parquet)")
	cmd.Flags().StringVar(&annotations, "annotations", "", "annotations file (defaults to the built-in NFL annotations)")
	cmd.Flags().IntVar(&defaultLimit, "default-limit", 100, "LIMIT added to unbounded statements")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func newDatasetCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Move dataset files through the object store",
	}
	cmd.AddCommand(newDatasetTransferCommand(opts, "push"))
	cmd.AddCommand(newDatasetTransferCommand(opts, "pull"))
	return cmd
}

func newDatasetTransferCommand(opts *Options, direction string) *cobra.Command {
	var (
		path string
		kind string
		key  string
	)
	short := "Upload a local dataset to the object store"
	if direction == "pull" {
		short = "Download a dataset from the object store when it is missing locally"
	}
	cmd := &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsedKind, err := dataset.ParseKind(kind)
			if err != nil {
				return usageError{err}
			}
			if opts.ObjectStore == nil {
				return errors.New("object store is not configured")
			}
			store, err := opts.ObjectStore(cmd.Context())
			if err != nil {
				return fmt.Errorf("open object store: %w", err)
			}

			var report dataset.TransferReport
			if direction == "push" {
				report, err = dataset.Push(cmd.Context(), store, parsedKind, path, key)
			} else {
				report, err = dataset.Fetch(cmd.Context(), store, parsedKind, key, path)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&path, "dataset", "", "local dataset file or parquet directory")
	cmd.Flags().StringVar(&kind, "kind", string(dataset.KindDuckDB), "dataset kind (duckdb|sqlite|parquet)")
	cmd.Flags().StringVar(&key, "key", "", "object key (or prefix for parquet)")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func printJSON(cmd *cobra.Command, payload any) error {
	formatted, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	return err
}
