package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type LoadOptions struct {
	// Include restricts and orders the published tables. Empty publishes
	// every user table in catalog order.
	Include     []string
	Annotations Annotations
}

const duckDBColumnsQuery = `
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`

const sqliteColumnsQuery = `
SELECT m.name, p.name, p.type
FROM sqlite_master AS m
JOIN pragma_table_info(m.name) AS p
WHERE m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

// LoadCatalog discovers tables and columns from the dataset catalog.
func LoadCatalog(ctx context.Context, q Querier, dialect Dialect, opts LoadOptions) (*Descriptor, error) {
	var query string
	switch dialect {
	case DialectDuckDB:
		query = duckDBColumnsQuery
	case DialectSQLite:
		query = sqliteColumnsQuery
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s catalog: %w", dialect, err)
	}
	defer func() { _ = rows.Close() }()

	var tables []Table
	for rows.Next() {
		var tableName, columnName string
		var dataType sql.NullString
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		if isInternalTable(tableName) {
			continue
		}
		if n := len(tables); n == 0 || tables[n-1].Name != tableName {
			tables = append(tables, Table{Name: tableName})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, Column{Name: columnName, Type: strings.ToUpper(dataType.String)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog rows: %w", err)
	}

	return build(tables, opts)
}

func build(tables []Table, opts LoadOptions) (*Descriptor, error) {
	selected, err := selectTables(tables, opts.Include)
	if err != nil {
		return nil, err
	}
	return New(opts.Annotations.apply(selected))
}

func selectTables(tables []Table, include []string) ([]Table, error) {
	if len(include) == 0 {
		return tables, nil
	}
	byName := make(map[string]Table, len(tables))
	for _, table := range tables {
		byName[strings.ToLower(table.Name)] = table
	}
	selected := make([]Table, 0, len(include))
	for _, name := range include {
		table, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("published table %q not found in dataset", name)
		}
		selected = append(selected, table)
	}
	return selected, nil
}

func isInternalTable(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "sqlite_") || strings.HasPrefix(lower, "duckdb_")
}
