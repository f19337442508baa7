package schema

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/parquet-go/parquet-go"
)

func playsTable() Table {
	return Table{
		Name: "plays",
		Columns: []Column{
			{Name: "player", Type: "VARCHAR"},
			{Name: "yards", Type: "INTEGER"},
		},
	}
}

func TestNewRejectsDuplicateTables(t *testing.T) {
	_, err := New([]Table{playsTable(), {Name: "PLAYS", Columns: []Column{{Name: "x"}}}})
	if err == nil {
		t.Fatal("expected duplicate table error")
	}
}

func TestNewRejectsEmptySchema(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty schema")
	}
	if _, err := New([]Table{{Name: "plays"}}); err == nil {
		t.Fatal("expected error for table without columns")
	}
}

func TestDescriptorLookupsAreCaseInsensitive(t *testing.T) {
	d, err := New([]Table{playsTable()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !d.HasTable("Plays") {
		t.Fatal("HasTable(Plays) = false")
	}
	if !d.HasColumn("PLAYS", "Yards") {
		t.Fatal("HasColumn(PLAYS, Yards) = false")
	}
	if d.HasColumn("plays", "password") {
		t.Fatal("HasColumn(plays, password) = true")
	}
	if d.HasColumn("users", "player") {
		t.Fatal("HasColumn(users, player) = true")
	}
}

func TestDescriptorIsImmutable(t *testing.T) {
	input := []Table{playsTable()}
	d, err := New(input)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	version := d.Version()

	input[0].Columns[0].Name = "mutated"
	tables := d.Tables()
	tables[0].Columns[1].Name = "also_mutated"

	if !d.HasColumn("plays", "player") || !d.HasColumn("plays", "yards") {
		t.Fatal("descriptor changed after caller mutation")
	}
	if d.Version() != version {
		t.Fatalf("Version() changed from %q to %q", version, d.Version())
	}
}

func TestVersionTracksContent(t *testing.T) {
	a, _ := New([]Table{playsTable()})
	b, _ := New([]Table{playsTable()})
	if a.Version() != b.Version() {
		t.Fatalf("same content produced versions %q and %q", a.Version(), b.Version())
	}
	changed := playsTable()
	changed.Columns[1].Description = "yards gained"
	c, _ := New([]Table{changed})
	if a.Version() == c.Version() {
		t.Fatal("description change did not change version")
	}
	if len(a.Version()) != 12 {
		t.Fatalf("Version() = %q, want 12 hex chars", a.Version())
	}
}

func TestLoadCatalogDuckDB(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(duckDBColumnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("duckdb_internal", "x", "INTEGER").
			AddRow("plays", "player", "varchar").
			AddRow("plays", "yards", "INTEGER").
			AddRow("weekly_stats", "player_name", "VARCHAR"))

	d, err := LoadCatalog(context.Background(), db, DialectDuckDB, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	names := d.TableNames()
	if len(names) != 2 || names[0] != "plays" || names[1] != "weekly_stats" {
		t.Fatalf("TableNames() = %v", names)
	}
	plays, _ := d.Table("plays")
	if plays.Columns[0].Type != "VARCHAR" {
		t.Fatalf("player type = %q", plays.Columns[0].Type)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestLoadCatalogSQLiteWithIncludeAndAnnotations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(sqliteColumnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "name", "type"}).
			AddRow("plays", "player", "TEXT").
			AddRow("plays", "yards", "INTEGER").
			AddRow("users", "password_hash", "TEXT").
			AddRow("weekly_stats", "player_name", "TEXT"))

	annotations := Annotations{Tables: []TableAnnotation{{
		Name:        "plays",
		Description: "Play-by-play data",
		Keywords:    []string{"pass"},
		Columns:     []Column{{Name: "yards", Description: "Yards gained"}, {Name: "ghost", Description: "ignored"}},
	}}}

	d, err := LoadCatalog(context.Background(), db, DialectSQLite, LoadOptions{
		Include:     []string{"weekly_stats", "plays"},
		Annotations: annotations,
	})
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	names := d.TableNames()
	if len(names) != 2 || names[0] != "weekly_stats" || names[1] != "plays" {
		t.Fatalf("TableNames() = %v", names)
	}
	if d.HasTable("users") {
		t.Fatal("unpublished table leaked into descriptor")
	}
	plays, _ := d.Table("plays")
	if plays.Description != "Play-by-play data" {
		t.Fatalf("Description = %q", plays.Description)
	}
	if plays.Columns[1].Description != "Yards gained" {
		t.Fatalf("yards description = %q", plays.Columns[1].Description)
	}
	if d.HasColumn("plays", "ghost") {
		t.Fatal("annotation added a column the catalog does not have")
	}
}

func TestLoadCatalogRejectsMissingPublishedTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(sqliteColumnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "name", "type"}).AddRow("plays", "player", "TEXT"))

	_, err = LoadCatalog(context.Background(), db, DialectSQLite, LoadOptions{Include: []string{"schedules"}})
	if err == nil {
		t.Fatal("expected missing table error")
	}
}

func TestDefaultAnnotationsParse(t *testing.T) {
	annotations, err := LoadAnnotations("")
	if err != nil {
		t.Fatalf("LoadAnnotations() error = %v", err)
	}
	if len(annotations.Examples) < 3 {
		t.Fatalf("Examples = %d, want at least 3", len(annotations.Examples))
	}
	var plays *TableAnnotation
	for i := range annotations.Tables {
		if annotations.Tables[i].Name == "plays" {
			plays = &annotations.Tables[i]
		}
	}
	if plays == nil {
		t.Fatal("plays annotation missing")
	}
	found := false
	for _, column := range plays.Columns {
		if column.Name == "passer_player_id" && column.Description == "Passer gsis id, joins player_ids.gsis_id" {
			found = true
		}
	}
	if !found {
		t.Fatal("passer_player_id description not parsed")
	}
}

func TestParseAnnotationsRejectsIncompleteExample(t *testing.T) {
	_, err := ParseAnnotations([]byte("examples:\n  - question: only a question\n"))
	if err == nil {
		t.Fatal("expected error for example without sql")
	}
}

func TestLoadAnnotationsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("tables:\n  - name: plays\n    description: custom\n"), 0o600); err != nil {
		t.Fatalf("write annotations: %v", err)
	}
	annotations, err := LoadAnnotations(path)
	if err != nil {
		t.Fatalf("LoadAnnotations() error = %v", err)
	}
	if len(annotations.Tables) != 1 || annotations.Tables[0].Description != "custom" {
		t.Fatalf("Tables = %+v", annotations.Tables)
	}
}

type parquetPlay struct {
	Player string  `parquet:"player"`
	Yards  int64   `parquet:"yards"`
	EPA    float64 `parquet:"epa"`
	Scored bool    `parquet:"scored"`
}

func TestLoadParquetReadsFooterSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plays.parquet")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create parquet file: %v", err)
	}
	writer := parquet.NewGenericWriter[parquetPlay](file)
	if _, err := writer.Write([]parquetPlay{{Player: "J.Goff", Yards: 12, EPA: 0.4, Scored: false}}); err != nil {
		t.Fatalf("write parquet rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close parquet file: %v", err)
	}

	d, err := LoadParquet([]ParquetSource{{Table: "plays", Path: path}}, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadParquet() error = %v", err)
	}
	plays, ok := d.Table("plays")
	if !ok {
		t.Fatal("plays table missing")
	}
	want := map[string]string{"player": "VARCHAR", "yards": "BIGINT", "epa": "DOUBLE", "scored": "BOOLEAN"}
	if len(plays.Columns) != len(want) {
		t.Fatalf("Columns = %+v", plays.Columns)
	}
	for _, column := range plays.Columns {
		if want[column.Name] != column.Type {
			t.Fatalf("column %q type = %q, want %q", column.Name, column.Type, want[column.Name])
		}
	}
}
