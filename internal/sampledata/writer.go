package sampledata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/parquet-go/parquet-go"
)

type WriteReport struct {
	Tables map[string]int `json:"tables"`
	Path   string         `json:"path"`
}

// Write stores ds at cfg.Output in the configured format. It refuses to
// overwrite an existing dataset.
func Write(ctx context.Context, cfg Config, ds Dataset) (WriteReport, error) {
	if _, err := os.Stat(cfg.Output); err == nil {
		return WriteReport{}, fmt.Errorf("output %q already exists", cfg.Output)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return WriteReport{}, fmt.Errorf("stat %q: %w", cfg.Output, err)
	}
	if cfg.Kind == "sqlite" {
		return WriteSQLite(ctx, cfg.Output, ds)
	}
	return WriteParquet(cfg.Output, ds)
}

// WriteParquet lays ds out as <dir>/<table>/<table>.parquet.
func WriteParquet(dir string, ds Dataset) (WriteReport, error) {
	report := WriteReport{Tables: map[string]int{}, Path: dir}
	if err := writeParquetTable(dir, "plays", ds.Plays); err != nil {
		return report, err
	}
	report.Tables["plays"] = len(ds.Plays)
	if err := writeParquetTable(dir, "weekly_stats", ds.WeeklyStats); err != nil {
		return report, err
	}
	report.Tables["weekly_stats"] = len(ds.WeeklyStats)
	if err := writeParquetTable(dir, "player_ids", ds.Players); err != nil {
		return report, err
	}
	report.Tables["player_ids"] = len(ds.Players)
	return report, nil
}

func writeParquetTable[T any](dir, table string, rows []T) error {
	tableDir := filepath.Join(dir, table)
	if err := os.MkdirAll(tableDir, 0o755); err != nil {
		return fmt.Errorf("create %q: %w", tableDir, err)
	}
	path := filepath.Join(tableDir, table+".parquet")
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(rows); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s rows: %w", table, err)
	}
	if err := writer.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("close %s writer: %w", table, err)
	}
	return file.Close()
}

// WriteSQLite stores ds in a new SQLite database file at path.
func WriteSQLite(ctx context.Context, path string, ds Dataset) (WriteReport, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WriteReport{}, fmt.Errorf("create directory for %q: %w", path, err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return WriteReport{}, fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return WriteReport{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	report := WriteReport{Tables: map[string]int{}, Path: path}
	tables := []struct {
		name string
		rows any
	}{
		{"plays", ds.Plays},
		{"weekly_stats", ds.WeeklyStats},
		{"player_ids", ds.Players},
	}
	for _, table := range tables {
		n, err := insertRows(ctx, tx, table.name, table.rows)
		if err != nil {
			return WriteReport{}, err
		}
		report.Tables[table.name] = n
	}
	if err := tx.Commit(); err != nil {
		return WriteReport{}, fmt.Errorf("commit: %w", err)
	}
	return report, nil
}

// insertRows creates table from the parquet tags of the row struct and
// inserts every element of rows, which must be a slice of structs.
func insertRows(ctx context.Context, tx *sql.Tx, table string, rows any) (int, error) {
	slice := reflect.ValueOf(rows)
	elem := slice.Type().Elem()

	columns := make([]string, 0, elem.NumField())
	defs := make([]string, 0, elem.NumField())
	for i := 0; i < elem.NumField(); i++ {
		field := elem.Field(i)
		name := field.Tag.Get("parquet")
		columns = append(columns, quoteIdent(name))
		defs = append(defs, quoteIdent(name)+" "+sqliteType(field.Type.Kind()))
	}

	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("create %s: %w", table, err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(columns, ", "), placeholders))
	if err != nil {
		return 0, fmt.Errorf("prepare %s insert: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(columns))
	for i := 0; i < slice.Len(); i++ {
		row := slice.Index(i)
		for j := range args {
			args[j] = row.Field(j).Interface()
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("insert %s row %d: %w", table, i, err)
		}
	}
	return slice.Len(), nil
}

func sqliteType(kind reflect.Kind) string {
	switch kind {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "INTEGER"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
