package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"patchcert/domain/core"
	"patchcert/domain/verdict"
	"patchcert/internal/errors"
	"patchcert/internal/migration"
	"patchcert/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// insertChunk bounds rows per multi-row INSERT to stay under driver parameter
// limits (10 columns per row).
const insertChunk = 500

// ResultRepositoryImpl implements ports.ResultRepository on postgres or sqlite
type ResultRepositoryImpl struct {
	db *sqlx.DB
}

var _ ports.ResultRepository = (*ResultRepositoryImpl)(nil)

// Open connects to driver ("postgres" or "sqlite") and applies migrations.
func Open(ctx context.Context, driver, dsn string) (*ResultRepositoryImpl, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Sprintf("failed to connect to %s", driver), err)
	}
	if driver == "sqlite" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, errors.DatabaseError("failed to enable foreign keys", err)
		}
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return NewResultRepository(db), nil
}

// NewResultRepository wraps an already migrated database.
func NewResultRepository(db *sqlx.DB) *ResultRepositoryImpl {
	return &ResultRepositoryImpl{db: db}
}

// Close closes the underlying database.
func (r *ResultRepositoryImpl) Close() error {
	return r.db.Close()
}

// SaveRun stores a run header and its results in one transaction.
func (r *ResultRepositoryImpl) SaveRun(ctx context.Context, run *ports.RunRecord, results []ports.ResultRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO cert_runs (id, model, window_h, window_w, threshold, clip_bound, fingerprint,
			samples, certified, vulnerable, incorrect, started_at, finished_at)
		VALUES (:id, :model, :window_h, :window_w, :threshold, :clip_bound, :fingerprint,
			:samples, :certified, :vulnerable, :incorrect, :started_at, :finished_at)
	`, run)
	if err != nil {
		return errors.DatabaseError(fmt.Sprintf("failed to insert run %s", run.ID), err)
	}

	for start := 0; start < len(results); start += insertChunk {
		end := start + insertChunk
		if end > len(results) {
			end = len(results)
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO cert_results (run_id, position, sample_id, label, status, lower_bound, upper_bound,
				competitor, predicted, clean_label)
			VALUES (:run_id, :position, :sample_id, :label, :status, :lower_bound, :upper_bound,
				:competitor, :predicted, :clean_label)
		`, results[start:end])
		if err != nil {
			return errors.DatabaseError(fmt.Sprintf("failed to insert results for run %s", run.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit run", err)
	}
	return nil
}

const runColumns = `id, model, window_h, window_w, threshold, clip_bound, fingerprint,
	samples, certified, vulnerable, incorrect, started_at, finished_at`

// GetRun retrieves a run header by ID
func (r *ResultRepositoryImpl) GetRun(ctx context.Context, id core.RunID) (*ports.RunRecord, error) {
	var run ports.RunRecord
	err := r.db.GetContext(ctx, &run, r.db.Rebind(`SELECT `+runColumns+` FROM cert_runs WHERE id = ?`), string(id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound(fmt.Sprintf("run %s", id))
	}
	if err != nil {
		return nil, errors.DatabaseError("failed to load run", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns all.
func (r *ResultRepositoryImpl) ListRuns(ctx context.Context, limit int) ([]ports.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM cert_runs ORDER BY started_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	runs := []ports.RunRecord{}
	if err := r.db.SelectContext(ctx, &runs, r.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError("failed to list runs", err)
	}
	return runs, nil
}

// ListResults returns the run's results in run order, optionally filtered by status.
func (r *ResultRepositoryImpl) ListResults(ctx context.Context, id core.RunID, status verdict.Status) ([]ports.ResultRecord, error) {
	query := `
		SELECT run_id, position, sample_id, label, status, lower_bound, upper_bound, competitor, predicted, clean_label
		FROM cert_results
		WHERE run_id = ?`
	args := []interface{}{string(id)}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY position`

	results := []ports.ResultRecord{}
	if err := r.db.SelectContext(ctx, &results, r.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseError("failed to list results", err)
	}
	return results, nil
}
