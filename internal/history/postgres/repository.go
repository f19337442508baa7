package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/statline/statline/internal/history"
)

type Repository struct {
	db *sql.DB
}

var _ history.Store = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, entry history.Entry) error {
	query := `
INSERT INTO query_history (query_id, caller, question, model_id, generated_sql, success, stage, kind, message, row_count, generation_ms, execution_ms, total_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (query_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Caller,
		entry.Question,
		entry.ModelID,
		nullString(entry.GeneratedSQL),
		entry.Success,
		nullString(entry.Stage),
		nullString(entry.Kind),
		nullString(entry.Message),
		entry.RowCount,
		entry.GenerationMS,
		entry.ExecutionMS,
		entry.TotalMS,
		entry.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("record query history: %w", err)
	}
	return nil
}

const selectEntry = `
SELECT query_id, caller, question, model_id, generated_sql, success, stage, kind, message, row_count, generation_ms, execution_ms, total_ms, created_at
FROM query_history`

func (r *Repository) List(ctx context.Context, caller string, limit int) ([]history.Entry, error) {
	rows, err := r.db.QueryContext(ctx, selectEntry+`
WHERE caller = $1
ORDER BY created_at DESC, query_id DESC
LIMIT $2`, caller, history.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]history.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan query history row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query history rows: %w", err)
	}
	return entries, nil
}

func (r *Repository) Get(ctx context.Context, id string) (history.Entry, error) {
	entry, err := scanEntry(r.db.QueryRowContext(ctx, selectEntry+`
WHERE query_id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.Entry{}, history.ErrNotFound
		}
		return history.Entry{}, fmt.Errorf("get query history: %w", err)
	}
	return entry, nil
}

func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM query_history
WHERE created_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune query history: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune query history rows affected: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (history.Entry, error) {
	var (
		entry                        history.Entry
		generatedSQL, stage, kind, m sql.NullString
	)
	if err := row.Scan(
		&entry.ID,
		&entry.Caller,
		&entry.Question,
		&entry.ModelID,
		&generatedSQL,
		&entry.Success,
		&stage,
		&kind,
		&m,
		&entry.RowCount,
		&entry.GenerationMS,
		&entry.ExecutionMS,
		&entry.TotalMS,
		&entry.CreatedAt,
	); err != nil {
		return history.Entry{}, err
	}
	entry.GeneratedSQL = generatedSQL.String
	entry.Stage = stage.String
	entry.Kind = kind.String
	entry.Message = m.String
	return entry, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
