package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	apperrors "github.com/dex-analysis/pkg/errors"
	"github.com/dex-analysis/pkg/model"
)

const runColumns = `id, uuid, container, granularity, version, status, total_size,
	attributed_size, blob_count, class_count, COALESCE(report_key, ''), categories,
	duration_ms, created_at`

// SQLRunRepository implements RunRepository on a plain *sql.DB. It expects
// the tables gorm migrates for BreakdownRun and BlobFailureRecord. Queries
// are written with ? placeholders and rebound for postgres.
type SQLRunRepository struct {
	db      *sql.DB
	dialect DBType
}

// NewSQLRunRepository creates a new SQLRunRepository.
func NewSQLRunRepository(db *sql.DB, dialect DBType) *SQLRunRepository {
	if dialect == "postgresql" {
		dialect = DBTypePostgres
	}
	return &SQLRunRepository{db: db, dialect: dialect}
}

// rebind rewrites ? placeholders to $n for postgres.
func (r *SQLRunRepository) rebind(query string) string {
	if r.dialect != DBTypePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SaveRun inserts the run and its failures in one transaction.
func (r *SQLRunRepository) SaveRun(ctx context.Context, run *model.Run) error {
	rec, err := newBreakdownRun(run)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to encode run", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO breakdown_runs (uuid, container, granularity, version, status,
			total_size, attributed_size, blob_count, class_count, report_key,
			categories, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{
		rec.UUID, rec.Container, rec.Granularity, rec.Version, rec.Status,
		rec.TotalSize, rec.AttributedSize, rec.BlobCount, rec.ClassCount, rec.ReportKey,
		rec.Categories, rec.DurationMs, rec.CreatedAt,
	}

	var id int64
	if r.dialect == DBTypePostgres {
		err = tx.QueryRowContext(ctx, r.rebind(query)+" RETURNING id", args...).Scan(&id)
	} else {
		var res sql.Result
		if res, err = tx.ExecContext(ctx, query, args...); err == nil {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save run "+run.UUID, err)
	}

	failureQuery := r.rebind(`
		INSERT INTO blob_failures (run_id, position, path, kind, message)
		VALUES (?, ?, ?, ?, ?)`)
	for _, f := range rec.Failures {
		if _, err := tx.ExecContext(ctx, failureQuery, id, f.Position, f.Path, f.Kind, f.Message); err != nil {
			return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save failure "+f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to commit run", err)
	}
	run.ID = id
	return nil
}

// GetRunByUUID retrieves a run with its failures.
func (r *SQLRunRepository) GetRunByUUID(ctx context.Context, uuid string) (*model.Run, error) {
	query := r.rebind(`SELECT ` + runColumns + ` FROM breakdown_runs WHERE uuid = ?`)

	rec, err := scanRun(r.db.QueryRowContext(ctx, query, uuid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "run not found: %s", uuid)
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get run", err)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT position, path, kind, COALESCE(message, '')
		FROM blob_failures WHERE run_id = ? ORDER BY position`), rec.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query failures", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f BlobFailureRecord
		if err := rows.Scan(&f.Position, &f.Path, &f.Kind, &f.Message); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to scan failure", err)
		}
		rec.Failures = append(rec.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to read failures", err)
	}

	run, err := rec.ToModel()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to decode run "+uuid, err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first.
func (r *SQLRunRepository) ListRuns(ctx context.Context, filter model.RunFilter) ([]*model.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + runColumns + ` FROM breakdown_runs`
	var args []interface{}
	if filter.Container != "" {
		query += ` WHERE container = ?`
		args = append(args, filter.Container)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query runs", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to scan run", err)
		}
		run, err := rec.ToModel()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to decode run "+rec.UUID, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to read runs", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s rowScanner) (*BreakdownRun, error) {
	var rec BreakdownRun
	err := s.Scan(
		&rec.ID, &rec.UUID, &rec.Container, &rec.Granularity, &rec.Version, &rec.Status,
		&rec.TotalSize, &rec.AttributedSize, &rec.BlobCount, &rec.ClassCount, &rec.ReportKey,
		&rec.Categories, &rec.DurationMs, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
