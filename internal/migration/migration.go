package migration

import (
	"context"
	"fmt"

	"patchcert/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the result store schema. Every statement is
// idempotent, so Run is safe on every start.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	d := dialectFor(db.DriverName())

	if err := r.createRunsTable(ctx, db, d); err != nil {
		return errors.Wrap(err, "failed to create cert_runs table")
	}

	if err := r.createResultsTable(ctx, db, d); err != nil {
		return errors.Wrap(err, "failed to create cert_results table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	if err := r.recordVersion(ctx, db, d); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}

	return nil
}

// dialect holds the column types that differ between postgres and sqlite.
type dialect struct {
	timestamp string
	float     string
	now       string
}

func dialectFor(driver string) dialect {
	if driver == "postgres" {
		return dialect{timestamp: "TIMESTAMP WITH TIME ZONE", float: "DOUBLE PRECISION", now: "NOW()"}
	}
	return dialect{timestamp: "TIMESTAMP", float: "REAL", now: "CURRENT_TIMESTAMP"}
}

func (r *MigrationRunner) createRunsTable(ctx context.Context, db *sqlx.DB, d dialect) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cert_runs (
			id VARCHAR(64) PRIMARY KEY,
			model VARCHAR(32) NOT NULL,
			window_h INTEGER NOT NULL,
			window_w INTEGER NOT NULL,
			threshold %[2]s NOT NULL DEFAULT 0,
			clip_bound %[2]s NOT NULL DEFAULT 0,
			fingerprint VARCHAR(64) NOT NULL,
			samples INTEGER NOT NULL DEFAULT 0,
			certified INTEGER NOT NULL DEFAULT 0,
			vulnerable INTEGER NOT NULL DEFAULT 0,
			incorrect INTEGER NOT NULL DEFAULT 0,
			started_at %[1]s NOT NULL,
			finished_at %[1]s NOT NULL
		)
	`, d.timestamp, d.float))
	return err
}

func (r *MigrationRunner) createResultsTable(ctx context.Context, db *sqlx.DB, d dialect) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cert_results (
			run_id VARCHAR(64) NOT NULL REFERENCES cert_runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			sample_id TEXT NOT NULL,
			label INTEGER NOT NULL,
			status VARCHAR(32) NOT NULL,
			lower_bound %[1]s NOT NULL,
			upper_bound %[1]s NOT NULL,
			competitor INTEGER NOT NULL,
			predicted INTEGER NOT NULL,
			clean_label INTEGER NOT NULL,
			PRIMARY KEY (run_id, position)
		)
	`, d.float))
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_cert_results_status ON cert_results(run_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_cert_runs_fingerprint ON cert_runs(fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_cert_runs_started_at ON cert_runs(started_at)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *MigrationRunner) recordVersion(ctx context.Context, db *sqlx.DB, d dialect) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version VARCHAR(32) PRIMARY KEY,
			applied_at %s NOT NULL DEFAULT %s
		)
	`, d.timestamp, d.now))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, db.Rebind(`
		INSERT INTO schema_versions (version) VALUES (?)
		ON CONFLICT (version) DO NOTHING
	`), r.version)
	return err
}
