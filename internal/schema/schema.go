// Package schema holds the published description of the queryable dataset.
//
// A Descriptor is built once at startup from the dataset catalog and is never
// mutated afterwards, so it is shared freely between concurrent requests.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

type Dialect string

const (
	DialectDuckDB Dialect = "duckdb"
	DialectSQLite Dialect = "sqlite"
)

type Column struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Columns     []Column `json:"columns"`
}

type Descriptor struct {
	tables  []Table
	index   map[string]int
	columns []map[string]struct{}
	version string
}

// New copies tables into an immutable descriptor. Names are matched
// case-insensitively; duplicates are rejected.
func New(tables []Table) (*Descriptor, error) {
	d := &Descriptor{
		tables:  make([]Table, 0, len(tables)),
		index:   make(map[string]int, len(tables)),
		columns: make([]map[string]struct{}, 0, len(tables)),
	}
	for _, table := range tables {
		name := strings.TrimSpace(table.Name)
		if name == "" {
			return nil, fmt.Errorf("table name is required")
		}
		key := strings.ToLower(name)
		if _, dup := d.index[key]; dup {
			return nil, fmt.Errorf("duplicate table %q", name)
		}
		if len(table.Columns) == 0 {
			return nil, fmt.Errorf("table %q has no columns", name)
		}

		cols := make(map[string]struct{}, len(table.Columns))
		copied := Table{
			Name:        name,
			Description: strings.TrimSpace(table.Description),
			Keywords:    append([]string(nil), table.Keywords...),
			Columns:     make([]Column, 0, len(table.Columns)),
		}
		for _, column := range table.Columns {
			colName := strings.TrimSpace(column.Name)
			if colName == "" {
				return nil, fmt.Errorf("table %q has a column without a name", name)
			}
			colKey := strings.ToLower(colName)
			if _, dup := cols[colKey]; dup {
				return nil, fmt.Errorf("table %q has duplicate column %q", name, colName)
			}
			cols[colKey] = struct{}{}
			copied.Columns = append(copied.Columns, Column{
				Name:        colName,
				Type:        strings.TrimSpace(column.Type),
				Description: strings.TrimSpace(column.Description),
			})
		}

		d.index[key] = len(d.tables)
		d.tables = append(d.tables, copied)
		d.columns = append(d.columns, cols)
	}
	if len(d.tables) == 0 {
		return nil, fmt.Errorf("schema has no tables")
	}
	d.version = computeVersion(d.tables)
	return d, nil
}

// Tables returns a deep copy of the tables in catalog order.
func (d *Descriptor) Tables() []Table {
	out := make([]Table, len(d.tables))
	for i, table := range d.tables {
		out[i] = cloneTable(table)
	}
	return out
}

func (d *Descriptor) Table(name string) (Table, bool) {
	i, ok := d.index[strings.ToLower(name)]
	if !ok {
		return Table{}, false
	}
	return cloneTable(d.tables[i]), true
}

func (d *Descriptor) TableNames() []string {
	names := make([]string, len(d.tables))
	for i, table := range d.tables {
		names[i] = table.Name
	}
	return names
}

func (d *Descriptor) HasTable(name string) bool {
	_, ok := d.index[strings.ToLower(name)]
	return ok
}

func (d *Descriptor) HasColumn(table, column string) bool {
	i, ok := d.index[strings.ToLower(table)]
	if !ok {
		return false
	}
	_, ok = d.columns[i][strings.ToLower(column)]
	return ok
}

// Version identifies the descriptor content. Prompts built from descriptors
// with the same version are identical for the same question.
func (d *Descriptor) Version() string {
	return d.version
}

func cloneTable(table Table) Table {
	table.Keywords = append([]string(nil), table.Keywords...)
	table.Columns = append([]Column(nil), table.Columns...)
	return table
}

func computeVersion(tables []Table) string {
	h := sha256.New()
	for _, table := range tables {
		fmt.Fprintf(h, "T\t%s\t%s\t%s\n", table.Name, table.Description, strings.Join(table.Keywords, ","))
		for _, column := range table.Columns {
			fmt.Fprintf(h, "C\t%s\t%s\t%s\n", column.Name, column.Type, column.Description)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
