// Package query runs validated statements against the read-only dataset.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/statline/statline/internal/sqlguard"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultRowCap        = 1000
	DefaultMaxConcurrent = 8
)

var ErrExecutionTimeout = errors.New("query execution timed out")

// ExecutionError carries the engine's own message, which is safe to show to
// users. Err keeps the driver error for logs.
type ExecutionError struct {
	EngineMessage string
	Err           error
}

func (e *ExecutionError) Error() string {
	return "execution failed: " + e.EngineMessage
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// DataSource is the statement-execution capability of the dataset. *sql.DB
// satisfies it.
type DataSource interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Options struct {
	Timeout       time.Duration
	RowCap        int
	MaxConcurrent int64
}

type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Elapsed   time.Duration    `json:"-"`
}

func (r Result) ElapsedSeconds() float64 {
	return r.Elapsed.Seconds()
}

type Executor struct {
	source  DataSource
	timeout time.Duration
	rowCap  int
	slots   *semaphore.Weighted
}

func NewExecutor(source DataSource, opts Options) (*Executor, error) {
	if source == nil {
		return nil, fmt.Errorf("data source is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RowCap <= 0 {
		opts.RowCap = DefaultRowCap
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Executor{
		source:  source,
		timeout: opts.Timeout,
		rowCap:  opts.RowCap,
		slots:   semaphore.NewWeighted(opts.MaxConcurrent),
	}, nil
}

func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute runs stmt under the executor timeout. On timeout the statement is
// interrupted through its context and no rows are returned.
func (e *Executor) Execute(ctx context.Context, stmt sqlguard.Statement) (Result, error) {
	if stmt.IsZero() {
		return Result{}, fmt.Errorf("statement was not produced by the validator")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.slots.Acquire(runCtx, 1); err != nil {
		return Result{}, classify(ctx, runCtx, err)
	}
	defer e.slots.Release(1)

	start := time.Now()
	result, err := e.run(runCtx, stmt.SQL())
	if err != nil {
		return Result{}, classify(ctx, runCtx, err)
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

func (e *Executor) run(ctx context.Context, sqlText string) (Result, error) {
	rows, err := e.source.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = rows.Close() }()

	rawColumns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	columns := uniqueColumns(rawColumns)

	result := Result{Columns: columns, Rows: make([]map[string]any, 0)}
	for rows.Next() {
		if len(result.Rows) == e.rowCap {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = coerce(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// classify maps a failure to the executor's error contract. The caller's
// own cancellation or deadline is passed through; only expiry of the
// executor timeout is ErrExecutionTimeout.
func classify(parent, runCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("query cancelled: %w", parent.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
	default:
		return &ExecutionError{EngineMessage: engineMessage(err), Err: err}
	}
}

func engineMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "the database rejected the query"
	}
	return msg
}

// uniqueColumns suffixes repeated names with _2, _3 and so on.
func uniqueColumns(columns []string) []string {
	out := make([]string, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for i, column := range columns {
		name := column
		for n := 2; ; n++ {
			if _, dup := seen[name]; !dup {
				break
			}
			name = column + "_" + strconv.Itoa(n)
		}
		seen[name] = struct{}{}
		out[i] = name
	}
	return out
}
