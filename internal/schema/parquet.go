package schema

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ParquetSource names one table and a representative file for it. All files
// of a table are expected to share the footer schema.
type ParquetSource struct {
	Table string
	Path  string
}

// LoadParquet builds a descriptor from parquet footers without scanning data.
func LoadParquet(sources []ParquetSource, opts LoadOptions) (*Descriptor, error) {
	tables := make([]Table, 0, len(sources))
	for _, source := range sources {
		columns, err := parquetColumns(source.Path)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", source.Table, err)
		}
		tables = append(tables, Table{Name: source.Table, Columns: columns})
	}
	return build(tables, opts)
}

func parquetColumns(path string) ([]Column, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet file: %w", err)
	}
	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read parquet footer: %w", err)
	}

	fields := pf.Schema().Fields()
	columns := make([]Column, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, Column{Name: field.Name(), Type: parquetTypeName(field)})
	}
	return columns, nil
}

// parquetTypeName maps a parquet field to the SQL type name DuckDB reports
// for it through read_parquet.
func parquetTypeName(field parquet.Field) string {
	if field.Repeated() {
		return "LIST"
	}
	if !field.Leaf() {
		return "STRUCT"
	}
	t := field.Type()
	if lt := t.LogicalType(); lt != nil {
		switch {
		case lt.UTF8 != nil:
			return "VARCHAR"
		case lt.Date != nil:
			return "DATE"
		case lt.Timestamp != nil:
			return "TIMESTAMP"
		case lt.Decimal != nil:
			return "DECIMAL"
		case lt.Integer != nil:
			if lt.Integer.BitWidth == 64 {
				return "BIGINT"
			}
			return "INTEGER"
		}
	}
	switch t.Kind() {
	case parquet.Boolean:
		return "BOOLEAN"
	case parquet.Int32:
		return "INTEGER"
	case parquet.Int64:
		return "BIGINT"
	case parquet.Float:
		return "FLOAT"
	case parquet.Double:
		return "DOUBLE"
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return "BLOB"
	default:
		return "UNKNOWN"
	}
}
