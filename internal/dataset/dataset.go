// Package dataset opens the read-only statistics dataset. Every handle it
// returns rejects writes.
package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/statline/statline/internal/schema"
)

type Kind string

const (
	KindDuckDB  Kind = "duckdb"
	KindSQLite  Kind = "sqlite"
	KindParquet Kind = "parquet"
)

func ParseKind(raw string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case KindDuckDB, KindSQLite, KindParquet:
		return kind, nil
	default:
		return "", fmt.Errorf("unsupported dataset kind %q", raw)
	}
}

type Config struct {
	Kind         Kind
	Path         string
	MaxOpenConns int
}

type Dataset struct {
	db      *sql.DB
	kind    Kind
	path    string
	parquet []ParquetTable
	cleanup func() error
}

func Open(ctx context.Context, cfg Config) (*Dataset, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("dataset path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", path, err)
	}

	d := &Dataset{kind: cfg.Kind, path: path}
	var err error
	switch cfg.Kind {
	case KindDuckDB:
		d.db, err = sql.Open("duckdb", path+"?access_mode=read_only")
	case KindSQLite:
		d.db, err = sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=true")
	case KindParquet:
		d.db, d.parquet, d.cleanup, err = openParquet(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported dataset kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s dataset: %w", cfg.Kind, err)
	}
	if cfg.MaxOpenConns > 0 {
		d.db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := d.db.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("ping %s dataset: %w", cfg.Kind, err)
	}
	return d, nil
}

func (d *Dataset) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

func (d *Dataset) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Dataset) Close() error {
	err := d.db.Close()
	if d.cleanup != nil {
		err = errors.Join(err, d.cleanup())
	}
	return err
}

func (d *Dataset) Kind() Kind {
	return d.kind
}

func (d *Dataset) Path() string {
	return d.path
}

// Dialect is the SQL dialect statements run under. Parquet directories are
// served by DuckDB.
func (d *Dataset) Dialect() schema.Dialect {
	if d.kind == KindSQLite {
		return schema.DialectSQLite
	}
	return schema.DialectDuckDB
}

// LoadSchema builds the schema descriptor from the dataset catalog, or from
// parquet footers for a parquet directory.
func (d *Dataset) LoadSchema(ctx context.Context, opts schema.LoadOptions) (*schema.Descriptor, error) {
	if d.kind == KindParquet {
		sources := make([]schema.ParquetSource, 0, len(d.parquet))
		for _, table := range d.parquet {
			sources = append(sources, schema.ParquetSource{Table: table.Name, Path: table.Files[0]})
		}
		return schema.LoadParquet(sources, opts)
	}
	return schema.LoadCatalog(ctx, d.db, d.Dialect(), opts)
}

// CountRows returns the number of rows in table. Parquet tables are counted
// from file footers without scanning data.
func (d *Dataset) CountRows(ctx context.Context, table string) (int64, error) {
	if d.kind == KindParquet {
		for _, candidate := range d.parquet {
			if strings.EqualFold(candidate.Name, table) {
				return countParquetRows(candidate.Files)
			}
		}
		return 0, fmt.Errorf("table %q not found", table)
	}

	var count int64
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %q: %w", table, err)
	}
	return count, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
