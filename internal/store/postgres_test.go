package store_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/corpusgraph/weaver/internal/model"
	"github.com/corpusgraph/weaver/internal/store"
)

var jobColumns = []string{
	"id", "source_id", "status", "explicit_urls", "indexed_count", "discovered_count",
	"total_pages", "encoding_chunks_total", "encoding_chunks_done",
	"encoding_discovered_total", "encoding_discovered_done",
	"started_at", "completed_at", "last_activity_at", "error",
}

func jobRow(id, status string) *sqlmock.Rows {
	return sqlmock.NewRows(jobColumns).AddRow(id, "src-1", status, "{}", 0, 0,
		nil, 0, 0, 0, 0, nil, nil, time.Now(), "")
}

func TestClaimNextJobHappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gw := store.NewPostgresGateway(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE crawl_jobs SET status = 'queued'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM crawl_jobs WHERE status = 'queued'")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE crawl_jobs")).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, source_id, status")).
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "running"))

	job, err := gw.ClaimNextJob(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, model.JobRunning, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextJobNoneQueued(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gw := store.NewPostgresGateway(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE crawl_jobs SET status = 'queued'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM crawl_jobs WHERE status = 'queued'")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = gw.ClaimNextJob(context.Background())
	require.ErrorIs(t, err, store.ErrNoJobAvailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextJobLostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gw := store.NewPostgresGateway(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE crawl_jobs SET status = 'queued'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM crawl_jobs WHERE status = 'queued'")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE crawl_jobs")).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = gw.ClaimNextJob(context.Background())
	require.ErrorIs(t, err, store.ErrNoJobAvailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPageAdoptsExistingOnConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gw := store.NewPostgresGateway(db)

	page := &model.Page{SourceID: "src-1", URL: "https://example.com/", Title: "t", Status: model.PageIndexed, Owner: "owner-1"}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO pages")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_id", "url", "title", "path", "content", "status", "owner"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, source_id, url, title, path, content, status, owner")).
		WithArgs("src-1", "https://example.com/").
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_id", "url", "title", "path", "content", "status", "owner"}).
			AddRow("page-1", "src-1", "https://example.com/", "Existing Title", "/", "", "indexed", "owner-1"))

	got, created, err := gw.UpsertPage(context.Background(), page)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "page-1", got.ID)
	require.Equal(t, "Existing Title", got.Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusSetsCompletedAtForTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gw := store.NewPostgresGateway(db)

	mock.ExpectExec(regexp.QuoteMeta("completed_at = now()")).
		WithArgs(model.JobCompleted, "", "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = gw.UpdateJobStatus(context.Background(), "job-1", model.JobCompleted, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
