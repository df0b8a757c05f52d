package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/cognito-ai/cognito/internal/research"
)

func TestCreateJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	job := research.Job{ID: "job-1", Topic: "quantum batteries", Status: research.JobStatusPending}

	query := regexp.QuoteMeta(`
INSERT INTO research_jobs (id, topic, status, context_ids, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW())
`)
	mock.ExpectExec(query).
		WithArgs("job-1", "quantum batteries", "pending", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCloseReleasesConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}

	mock.ExpectClose()
	st := &Store{DB: db}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
SELECT id, topic, status, context_ids, findings, report, failed_stage, error_kind, error_message, created_at, updated_at
FROM research_jobs WHERE id=$1
`)
	mock.ExpectQuery(query).WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = st.GetJob(context.Background(), "missing")
	if !errors.Is(err, research.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetJobRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now()
	query := regexp.QuoteMeta(`
SELECT id, topic, status, context_ids, findings, report, failed_stage, error_kind, error_message, created_at, updated_at
FROM research_jobs WHERE id=$1
`)
	rows := sqlmock.NewRows([]string{"id", "topic", "status", "context_ids", "findings", "report", "failed_stage", "error_kind", "error_message", "created_at", "updated_at"}).
		AddRow("job-1", "quantum batteries", "completed", []byte(`["a","b"]`), "findings text", "report text", nil, nil, nil, now, now)
	mock.ExpectQuery(query).WithArgs("job-1").WillReturnRows(rows)

	job, err := st.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != research.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if len(job.ContextIDs) != 2 || job.ContextIDs[0] != "a" {
		t.Fatalf("unexpected context ids: %v", job.ContextIDs)
	}
	if job.Report != "report text" {
		t.Fatalf("unexpected report: %q", job.Report)
	}
}

func TestMarkJobFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
UPDATE research_jobs
SET status=$2, failed_stage=$3, error_kind=$4, error_message=$5, updated_at=NOW()
WHERE id=$1
`)
	mock.ExpectExec(query).
		WithArgs("job-1", "failed", "researching", "research_failed", "no sources reachable").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.MarkJobFailed(context.Background(), "job-1", "researching", "research_failed", "no sources reachable"); err != nil {
		t.Fatalf("MarkJobFailed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkJobCancelledKeepsTerminal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
UPDATE research_jobs SET
  status = CASE WHEN status IN ('completed','failed','cancelled') THEN status ELSE 'cancelled' END,
  updated_at = CASE WHEN status IN ('completed','failed','cancelled') THEN updated_at ELSE NOW() END
WHERE id=$1
RETURNING status
`)
	rows := sqlmock.NewRows([]string{"status"}).AddRow("completed")
	mock.ExpectQuery(query).WithArgs("job-1").WillReturnRows(rows)

	status, err := st.MarkJobCancelled(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("MarkJobCancelled: %v", err)
	}
	if status != research.JobStatusCompleted {
		t.Fatalf("expected completed to be preserved, got %s", status)
	}
}

func TestSaveJobReportMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
UPDATE research_jobs SET report=$2, status=$3, updated_at=NOW() WHERE id=$1
`)
	mock.ExpectExec(query).
		WithArgs("ghost", "report", "completed").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.SaveJobReport(context.Background(), "ghost", "report")
	if !errors.Is(err, research.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
