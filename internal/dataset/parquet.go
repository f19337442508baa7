package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// ParquetTable is one table of a parquet directory. A top-level file
// plays.parquet is table plays; a directory plays/ holding parquet files is
// also table plays.
type ParquetTable struct {
	Name  string
	Files []string
}

func DiscoverParquet(dir string) ([]ParquetTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read parquet directory: %w", err)
	}

	var tables []ParquetTable
	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)
		switch {
		case entry.IsDir():
			files, err := filepath.Glob(filepath.Join(full, "*.parquet"))
			if err != nil {
				return nil, fmt.Errorf("list parquet files in %q: %w", full, err)
			}
			if len(files) == 0 {
				continue
			}
			sort.Strings(files)
			tables = append(tables, ParquetTable{Name: name, Files: files})
		case strings.HasSuffix(name, ".parquet"):
			tables = append(tables, ParquetTable{Name: strings.TrimSuffix(name, ".parquet"), Files: []string{full}})
		}
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no parquet tables found in %q", dir)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	for i := 1; i < len(tables); i++ {
		if strings.EqualFold(tables[i-1].Name, tables[i].Name) {
			return nil, fmt.Errorf("parquet table %q is defined twice", tables[i].Name)
		}
	}
	return tables, nil
}

// openParquet serves a parquet directory through a DuckDB catalog holding
// one view per table. The catalog is written to a scratch file, reopened
// read-only and then limited to the table files. The returned cleanup
// removes the scratch file.
func openParquet(ctx context.Context, dir string) (*sql.DB, []ParquetTable, func() error, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve parquet directory: %w", err)
	}
	tables, err := DiscoverParquet(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	scratch, err := os.MkdirTemp("", "statline-parquet-")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create view catalog directory: %w", err)
	}
	cleanup := func() error { return os.RemoveAll(scratch) }

	catalog := filepath.Join(scratch, "views.duckdb")
	if err := writeViewCatalog(ctx, catalog, tables); err != nil {
		_ = cleanup()
		return nil, nil, nil, err
	}
	db, err := sql.Open("duckdb", catalog+"?access_mode=read_only")
	if err != nil {
		_ = cleanup()
		return nil, nil, nil, fmt.Errorf("open view catalog: %w", err)
	}
	var files []string
	for _, table := range tables {
		files = append(files, table.Files...)
	}
	// allowed_paths must be set while external access is still on.
	for _, stmt := range []string{
		"SET allowed_paths = " + quoteStringArray(files),
		"SET enable_external_access = false",
		"SET lock_configuration = true",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			_ = cleanup()
			return nil, nil, nil, fmt.Errorf("restrict parquet dataset: %w", err)
		}
	}
	return db, tables, cleanup, nil
}

func writeViewCatalog(ctx context.Context, path string, tables []ParquetTable) error {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("create view catalog: %w", err)
	}
	for _, table := range tables {
		viewSQL := fmt.Sprintf(`CREATE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(table.Name), quoteStringArray(table.Files))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			_ = db.Close()
			return fmt.Errorf("create view for table %q: %w", table.Name, err)
		}
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close view catalog: %w", err)
	}
	return nil
}

func countParquetRows(files []string) (int64, error) {
	var total int64
	for _, path := range files {
		n, err := parquetRowCount(path)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func parquetRowCount(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open parquet file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat parquet file: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return 0, fmt.Errorf("read parquet footer %q: %w", path, err)
	}
	return pf.NumRows(), nil
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}
