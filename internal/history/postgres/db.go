// Package postgres keeps the query history in PostgreSQL through pgx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/statline/statline/internal/config"
)

// statementTimeout caps every history statement server side so a stalled
// history database cannot hold a query response open.
const statementTimeout = 5 * time.Second

// Open connects to the history database and verifies it answers. The
// application name shows up in pg_stat_activity for the given binary.
func Open(ctx context.Context, cfg config.HistoryConfig, application string) (*sql.DB, error) {
	connConfig, err := parseConnConfig(cfg.DSN, application)
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDB(*connConfig)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db %s: %w", describe(connConfig), err)
	}
	return db, nil
}

func parseConnConfig(dsn, application string) (*pgx.ConnConfig, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("history dsn is required")
	}
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse history dsn: %w", err)
	}
	if connConfig.RuntimeParams == nil {
		connConfig.RuntimeParams = map[string]string{}
	}
	if _, set := connConfig.RuntimeParams["application_name"]; !set && application != "" {
		connConfig.RuntimeParams["application_name"] = application
	}
	if _, set := connConfig.RuntimeParams["statement_timeout"]; !set {
		connConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)
	}
	return connConfig, nil
}

// describe names the target without credentials for error messages.
func describe(connConfig *pgx.ConnConfig) string {
	return fmt.Sprintf("%s@%s:%d/%s", connConfig.User, connConfig.Host, connConfig.Port, connConfig.Database)
}
