// Package migrations owns the history database schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	migrationDir   = "sql"
	migrationTable = "statline_schema_migrations"
)

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.sql$`)

// goose keeps its settings in package globals.
var gooseMu sync.Mutex

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type migration struct {
	Version int64
	Name    string
}

// Up applies pending migrations. steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if _, err := loadMigrations(r.fsys); err != nil {
		return 0, err
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := r.configure(); err != nil {
		return 0, err
	}

	before, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if steps <= 0 {
		if err := goose.UpContext(ctx, db, migrationDir); err != nil {
			return 0, fmt.Errorf("goose up: %w", err)
		}
	} else {
		for i := 0; i < steps; i++ {
			if err := goose.UpByOneContext(ctx, db, migrationDir); err != nil {
				if errors.Is(err, goose.ErrNoNextVersion) {
					break
				}
				return 0, fmt.Errorf("goose up by one: %w", err)
			}
		}
	}
	return r.countBetween(ctx, db, before)
}

// Down rolls back steps migrations, at least one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	if _, err := loadMigrations(r.fsys); err != nil {
		return 0, err
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := r.configure(); err != nil {
		return 0, err
	}

	runCount := 0
	for runCount < steps {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return runCount, fmt.Errorf("read schema version: %w", err)
		}
		if current == 0 {
			break
		}
		if err := goose.DownContext(ctx, db, migrationDir); err != nil {
			return runCount, fmt.Errorf("goose down: %w", err)
		}
		runCount++
	}
	return runCount, nil
}

// Version reports the highest applied migration.
func (r *Runner) Version(ctx context.Context, db *sql.DB) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := r.configure(); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (r *Runner) configure() error {
	goose.SetBaseFS(r.fsys)
	goose.SetTableName(migrationTable)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	return nil
}

func (r *Runner) countBetween(ctx context.Context, db *sql.DB, before int64) (int, error) {
	after, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	items, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, item := range items {
		if item.Version > before && item.Version <= after {
			count++
		}
	}
	return count, nil
}

// loadMigrations checks that every embedded file carries both goose
// directions and returns them in version order.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationDir)
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	seen := map[int64]string{}
	items := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := path.Base(entry.Name())
		matches := migrationNamePattern.FindStringSubmatch(base)
		if len(matches) != 2 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", base, err)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by %q and %q", version, other, base)
		}
		seen[version] = base

		script, err := fs.ReadFile(fsys, path.Join(migrationDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}
		body := string(script)
		upAt := strings.Index(body, "-- +goose Up")
		if upAt < 0 {
			return nil, fmt.Errorf("migration %d missing up section", version)
		}
		downAt := strings.Index(body, "-- +goose Down")
		if downAt < 0 {
			return nil, fmt.Errorf("migration %d missing down section", version)
		}
		if downAt < upAt {
			return nil, fmt.Errorf("migration %d has its down section before up", version)
		}
		for direction, section := range map[string]string{"up": body[upAt:downAt], "down": body[downAt:]} {
			if _, err := pg_query.Parse(section); err != nil {
				return nil, fmt.Errorf("migration %d %s section: %w", version, direction, err)
			}
		}
		items = append(items, migration{Version: version, Name: base})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Version < items[j].Version })
	return items, nil
}
