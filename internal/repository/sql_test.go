package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/dex-analysis/pkg/errors"
	"github.com/dex-analysis/pkg/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var runRowColumns = []string{
	"id", "uuid", "container", "granularity", "version", "status", "total_size",
	"attributed_size", "blob_count", "class_count", "report_key", "categories",
	"duration_ms", "created_at",
}

func TestSQLRunRepository_Rebind(t *testing.T) {
	pg := NewSQLRunRepository(nil, "postgresql")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	my := NewSQLRunRepository(nil, DBTypeMySQL)
	assert.Equal(t, "a = ?", my.rebind("a = ?"))
}

func TestSQLRunRepository_SaveRun_MySQL(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSQLRunRepository(db, DBTypeMySQL)
	run := sampleRun("run-1", "app.apk")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO breakdown_runs").
		WithArgs("run-1", "app.apk", "class", "1.0.0", "partial",
			sqlmock.AnyArg(), sqlmock.AnyArg(), 3, 5, "",
			sqlmock.AnyArg(), int64(1500), run.CreatedAt).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO blob_failures").
		WithArgs(int64(7), 0, "classes2.dex", "TruncatedTable", "type_ids: past end").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO blob_failures").
		WithArgs(int64(7), 1, "classes5.dex", "MalformedHeader", "bad magic").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveRun(context.Background(), run))
	assert.Equal(t, int64(7), run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRunRepository_SaveRun_Postgres(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSQLRunRepository(db, DBTypePostgres)
	run := sampleRun("run-2", "app.apk")
	run.Failures = nil

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("VALUES ($1, $2, $3") + ".*RETURNING id").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveRun(context.Background(), run))
	assert.Equal(t, int64(3), run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRunRepository_SaveRun_RollsBack(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSQLRunRepository(db, DBTypeMySQL)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO breakdown_runs").WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectExec("INSERT INTO blob_failures").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveRun(context.Background(), sampleRun("run-3", "app.apk"))
	assert.ErrorIs(t, err, apperrors.ErrDatabaseError)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRunRepository_GetRunByUUID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSQLRunRepository(db, DBTypePostgres)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM breakdown_runs WHERE uuid = $1")).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(runRowColumns).AddRow(
			int64(7), "run-1", "app.apk", "method", "1.0.0", "completed", int64(4096),
			int64(2048), int64(2), int64(5), "reports/run-1/packages.json",
			[]byte(`[{"category":"application","size":2048,"percent":100}]`),
			int64(250), created,
		))
	mock.ExpectQuery(regexp.QuoteMeta("FROM blob_failures WHERE run_id = $1 ORDER BY position")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"position", "path", "kind", "message"}).
			AddRow(0, "classes2.dex", "DanglingReference", "type #9"))

	run, err := repo.GetRunByUUID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), run.ID)
	assert.Equal(t, "method", run.Granularity)
	assert.Equal(t, uint64(2048), run.AttributedSize)
	assert.Equal(t, "reports/run-1/packages.json", run.ReportKey)
	assert.Equal(t, []model.CategorySummary{{Category: "application", Size: 2048, Percent: 100}}, run.Categories)
	assert.Equal(t, []model.BlobFailure{{Path: "classes2.dex", Kind: "DanglingReference", Message: "type #9"}}, run.Failures)
	assert.Equal(t, 250*time.Millisecond, run.Duration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRunRepository_GetRunByUUID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSQLRunRepository(db, DBTypeMySQL)

	mock.ExpectQuery(regexp.QuoteMeta("FROM breakdown_runs WHERE uuid = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(runRowColumns))

	_, err := repo.GetRunByUUID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSQLRunRepository_ListRuns(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSQLRunRepository(db, DBTypeMySQL)
	created := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM breakdown_runs WHERE container = ? ORDER BY id DESC LIMIT ?")).
		WithArgs("app.apk", DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(runRowColumns).
			AddRow(int64(2), "run-2", "app.apk", "class", "1.0.0", "completed", int64(10), int64(8), int64(1), int64(1), "", nil, int64(5), created).
			AddRow(int64(1), "run-1", "app.apk", "class", "1.0.0", "partial", int64(10), int64(4), int64(2), int64(1), "", nil, int64(5), created))

	runs, err := repo.ListRuns(context.Background(), model.RunFilter{Container: "app.apk"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].UUID)
	assert.Equal(t, model.RunStatusPartial, runs[1].Status)
	assert.Nil(t, runs[1].Categories)
	assert.NoError(t, mock.ExpectationsWereMet())
}
