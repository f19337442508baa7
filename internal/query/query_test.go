package query

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"math/big"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/statline/statline/internal/schema"
	"github.com/statline/statline/internal/sqlguard"
)

func mustStatement(t *testing.T, sqlText string) sqlguard.Statement {
	t.Helper()
	d, err := schema.New([]schema.Table{{Name: "plays", Columns: []schema.Column{
		{Name: "player", Type: "VARCHAR"},
		{Name: "yards", Type: "BIGINT"},
		{Name: "epa", Type: "DOUBLE"},
	}}})
	if err != nil {
		t.Fatalf("schema.New() error = %v", err)
	}
	stmt, err := sqlguard.Validator{Schema: d, DefaultLimit: 100}.Validate(sqlText)
	if err != nil {
		t.Fatalf("Validate(%q) error = %v", sqlText, err)
	}
	return stmt
}

func newMockExecutor(t *testing.T, opts Options) (*Executor, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	executor, err := NewExecutor(db, opts)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	return executor, mock, func() { _ = db.Close() }
}

func TestExecuteShapesRows(t *testing.T) {
	executor, mock, done := newMockExecutor(t, Options{})
	defer done()

	stmt := mustStatement(t, "SELECT player, yards, epa FROM plays LIMIT 2")
	kickoff := time.Date(2023, 9, 7, 20, 20, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL())).
		WillReturnRows(sqlmock.NewRows([]string{"player", "yards", "epa"}).
			AddRow([]byte("P.Mahomes"), int32(12), 0.45).
			AddRow(nil, kickoff, math.NaN()))

	result, err := executor.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 || result.Truncated {
		t.Fatalf("result = %+v", result)
	}
	first := result.Rows[0]
	if first["player"] != "P.Mahomes" || first["yards"] != int64(12) || first["epa"] != 0.45 {
		t.Fatalf("first row = %#v", first)
	}
	second := result.Rows[1]
	if second["player"] != nil || second["yards"] != "2023-09-07T20:20:00Z" || second["epa"] != nil {
		t.Fatalf("second row = %#v", second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestExecuteCapsRows(t *testing.T) {
	executor, mock, done := newMockExecutor(t, Options{RowCap: 2})
	defer done()

	stmt := mustStatement(t, "SELECT player FROM plays LIMIT 500")
	rows := sqlmock.NewRows([]string{"player"})
	for _, name := range []string{"a", "b", "c", "d"} {
		rows.AddRow(name)
	}
	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL())).WillReturnRows(rows)

	result, err := executor.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 || !result.Truncated {
		t.Fatalf("RowCount = %d Truncated = %v", result.RowCount, result.Truncated)
	}
	if result.Rows[1]["player"] != "b" {
		t.Fatalf("rows = %#v", result.Rows)
	}
}

func TestExecuteRenamesDuplicateColumns(t *testing.T) {
	executor, mock, done := newMockExecutor(t, Options{})
	defer done()

	stmt := mustStatement(t, "SELECT player, player, player FROM plays LIMIT 1")
	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL())).
		WillReturnRows(sqlmock.NewRows([]string{"player", "player", "player"}).AddRow("a", "b", "c"))

	result, err := executor.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []string{"player", "player_2", "player_3"}
	for i, name := range want {
		if result.Columns[i] != name {
			t.Fatalf("Columns = %v, want %v", result.Columns, want)
		}
	}
	if result.Rows[0]["player_3"] != "c" {
		t.Fatalf("row = %#v", result.Rows[0])
	}
}

func TestExecuteEngineError(t *testing.T) {
	executor, mock, done := newMockExecutor(t, Options{})
	defer done()

	stmt := mustStatement(t, "SELECT player FROM plays LIMIT 1")
	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL())).
		WillReturnError(errors.New("Catalog Error: Scalar Function with name foo does not exist!"))

	_, err := executor.Execute(context.Background(), stmt)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
	if execErr.EngineMessage != "Catalog Error: Scalar Function with name foo does not exist!" {
		t.Fatalf("EngineMessage = %q", execErr.EngineMessage)
	}
}

func TestExecuteTimeout(t *testing.T) {
	executor, mock, done := newMockExecutor(t, Options{Timeout: 30 * time.Millisecond})
	defer done()

	stmt := mustStatement(t, "SELECT player FROM plays LIMIT 1")
	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL())).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"player"}).AddRow("late"))

	result, err := executor.Execute(context.Background(), stmt)
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Fatalf("Execute() error = %v, want ErrExecutionTimeout", err)
	}
	if len(result.Rows) != 0 {
		t.Fatalf("rows returned on timeout: %#v", result.Rows)
	}
}

func TestExecuteCallerCancellation(t *testing.T) {
	executor, mock, done := newMockExecutor(t, Options{Timeout: time.Second})
	defer done()

	stmt := mustStatement(t, "SELECT player FROM plays LIMIT 1")
	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL())).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"player"}).AddRow("late"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := executor.Execute(ctx, stmt)
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrExecutionTimeout) {
		t.Fatalf("Execute() error = %v, want cancellation", err)
	}
}

func TestExecuteCallerDeadlineIsNotExecutorTimeout(t *testing.T) {
	executor, mock, done := newMockExecutor(t, Options{Timeout: 5 * time.Second})
	defer done()

	stmt := mustStatement(t, "SELECT player FROM plays LIMIT 1")
	mock.ExpectQuery(regexp.QuoteMeta(stmt.SQL())).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"player"}).AddRow("late"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := executor.Execute(ctx, stmt)
	if errors.Is(err, ErrExecutionTimeout) {
		t.Fatalf("Execute() error = %v, caller deadline reported as executor timeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Execute() error = %v, want caller deadline", err)
	}
}

func TestExecuteRejectsZeroStatement(t *testing.T) {
	executor, _, done := newMockExecutor(t, Options{})
	defer done()
	if _, err := executor.Execute(context.Background(), sqlguard.Statement{}); err == nil {
		t.Fatal("expected error for zero statement")
	}
}

func TestNewExecutorRequiresSource(t *testing.T) {
	if _, err := NewExecutor(nil, Options{}); err == nil {
		t.Fatal("expected error for nil source")
	}
}

type decimal struct{ v float64 }

func (d decimal) Float64() float64 { return d.v }

func TestCoerce(t *testing.T) {
	huge, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10)
	cases := []struct {
		name  string
		value any
		want  any
	}{
		{"uint64 max", uint64(math.MaxUint64), "18446744073709551615"},
		{"small uint", uint16(7), int64(7)},
		{"inf", math.Inf(1), nil},
		{"float32", float32(1.5), 1.5},
		{"big int fits", big.NewInt(42), int64(42)},
		{"hugeint", huge, "170141183460469231731687303715884105727"},
		{"decimal", decimal{v: 2.25}, 2.25},
		{"list", []any{int64(1), "a"}, `[1,"a"]`},
		{"map", map[string]any{"k": true}, `{"k":true}`},
		{"bool", true, true},
	}
	for _, tc := range cases {
		if got := coerce(tc.value); got != tc.want {
			t.Fatalf("%s: coerce() = %#v, want %#v", tc.name, got, tc.want)
		}
	}
}

// newFixtureDB creates an in-memory DuckDB with ten plays in insertion order.
func newFixtureDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(`CREATE TABLE plays (player VARCHAR, yards BIGINT, epa DOUBLE)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := db.Exec(`INSERT INTO plays VALUES (?, ?, ?)`, "player"+string(rune('A'+i)), int64(i*3), float64(i)/10); err != nil {
			t.Fatalf("insert row %d: %v", i, err)
		}
	}
	return db
}

func TestExecuteAgainstDuckDBIsIdempotent(t *testing.T) {
	db := newFixtureDB(t)
	executor, err := NewExecutor(db, Options{RowCap: 100})
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	stmt := mustStatement(t, "SELECT player, yards FROM plays LIMIT 10")

	first, err := executor.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	second, err := executor.Execute(context.Background(), stmt)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if first.RowCount != 10 || second.RowCount != 10 {
		t.Fatalf("RowCount = %d, %d", first.RowCount, second.RowCount)
	}
	for i := range first.Rows {
		if first.Rows[i]["player"] != second.Rows[i]["player"] || first.Rows[i]["yards"] != second.Rows[i]["yards"] {
			t.Fatalf("row %d differs: %#v vs %#v", i, first.Rows[i], second.Rows[i])
		}
	}
	if first.Rows[0]["player"] != "playerA" || first.Rows[9]["yards"] != int64(27) {
		t.Fatalf("rows = %#v", first.Rows)
	}
}
