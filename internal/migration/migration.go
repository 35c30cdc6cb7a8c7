package migration

import (
	"context"
	"fmt"

	"deanalyse/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Supported SQL dialects
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the usage ledger schema. Every statement is
// idempotent, so Run is safe on every boot.
type MigrationRunner struct {
	version string
	dialect string
}

// NewRunner creates a migration runner for dialect
func NewRunner(dialect string) (*MigrationRunner, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q", dialect))
	}
	return &MigrationRunner{
		version: "1.0.0",
		dialect: dialect,
	}, nil
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createUsageTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create llm_usage table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createUsageTable(ctx context.Context, db *sqlx.DB) error {
	var ddl string
	switch r.dialect {
	case DialectPostgres:
		ddl = `
		CREATE TABLE IF NOT EXISTS llm_usage (
			id UUID PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL DEFAULT '',
			provider VARCHAR(32) NOT NULL,
			model VARCHAR(128) NOT NULL,
			operation_type VARCHAR(32) NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`
	default:
		// TIMESTAMP affinity lets the driver scan created_at back into time.Time
		ddl = `
		CREATE TABLE IF NOT EXISTS llm_usage (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			operation_type TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`
	}
	_, err := db.ExecContext(ctx, ddl)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_llm_usage_created_at ON llm_usage(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_llm_usage_session_id ON llm_usage(session_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_llm_usage_operation ON llm_usage(operation_type)",
	}

	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("%s: %w", idx, err)
		}
	}
	return nil
}
