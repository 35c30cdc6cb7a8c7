// Package db persists the usage ledger through sqlx. Postgres is reached via
// lib/pq and SQLite via the pure Go modernc.org/sqlite driver.
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deanalyse/internal/errors"
	"deanalyse/internal/migration"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by default
	sqlx.BindDriver(migration.DialectSQLite, sqlx.QUESTION)
}

// Open connects to the database, checks it answers and applies the schema.
// For SQLite an in-memory database is used when dsn is empty.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case migration.DialectPostgres:
		if dsn == "" {
			return nil, errors.ConfigInvalid("DATABASE_URL is required")
		}
	case migration.DialectSQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
		dsn = withTimeFormat(dsn)
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q", driver))
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if driver == migration.DialectSQLite {
		// one connection: an in-memory database exists per connection, and
		// SQLite serializes writers anyway
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	runner, err := migration.NewRunner(driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runner.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "database migration failed")
	}
	return db, nil
}

// withTimeFormat makes the SQLite driver write timestamps in a sortable text
// form, so range filters on created_at compare correctly.
func withTimeFormat(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_time_format=sqlite"
	}
	return dsn + "?_time_format=sqlite"
}
