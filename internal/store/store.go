package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/cognito-ai/cognito/internal/research"
)

// Store wraps the Postgres connection used for jobs and vector records.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1536

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Job operations

func (s *Store) CreateJob(ctx context.Context, job research.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id required")
	}
	ctxIDs, err := json.Marshal(job.ContextIDs)
	if err != nil {
		return fmt.Errorf("marshal context ids: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO research_jobs (id, topic, status, context_ids, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW())
`, job.ID, job.Topic, string(job.Status), ctxIDs)
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (research.Job, error) {
	var (
		job      research.Job
		status   string
		ctxIDs   []byte
		findings sql.NullString
		report   sql.NullString
		stage    sql.NullString
		errKind  sql.NullString
		errMsg   sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, topic, status, context_ids, findings, report, failed_stage, error_kind, error_message, created_at, updated_at
FROM research_jobs WHERE id=$1
`, id).Scan(&job.ID, &job.Topic, &status, &ctxIDs, &findings, &report, &stage, &errKind, &errMsg, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return research.Job{}, fmt.Errorf("job %s: %w", id, research.ErrNotFound)
	}
	if err != nil {
		return research.Job{}, err
	}
	job.Status = research.JobStatus(status)
	if len(ctxIDs) > 0 {
		_ = json.Unmarshal(ctxIDs, &job.ContextIDs)
	}
	job.Findings = findings.String
	job.Report = report.String
	job.FailedStage = stage.String
	job.ErrorKind = errKind.String
	job.ErrorMessage = errMsg.String
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, limit int) ([]research.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, topic, status, failed_stage, error_kind, created_at, updated_at
FROM research_jobs ORDER BY created_at DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []research.Job
	for rows.Next() {
		var (
			job     research.Job
			status  string
			stage   sql.NullString
			errKind sql.NullString
		)
		if err := rows.Scan(&job.ID, &job.Topic, &status, &stage, &errKind, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		job.Status = research.JobStatus(status)
		job.FailedStage = stage.String
		job.ErrorKind = errKind.String
		out = append(out, job)
	}
	return out, rows.Err()
}

// SetJobStatus moves a job to the given status. The caller is responsible for
// checking the transition is legal.
func (s *Store) SetJobStatus(ctx context.Context, id string, status research.JobStatus) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE research_jobs SET status=$2, updated_at=NOW() WHERE id=$1
`, id, string(status))
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// SaveJobContext persists the retrieved context ids so a resumed run can skip
// retrieval.
func (s *Store) SaveJobContext(ctx context.Context, id string, contextIDs []string) error {
	ctxIDs, err := json.Marshal(contextIDs)
	if err != nil {
		return fmt.Errorf("marshal context ids: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE research_jobs SET context_ids=$2, updated_at=NOW() WHERE id=$1
`, id, ctxIDs)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (s *Store) SaveJobFindings(ctx context.Context, id string, findings string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE research_jobs SET findings=$2, updated_at=NOW() WHERE id=$1
`, id, findings)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// SaveJobReport persists the report and completes the job in one statement so
// a crash cannot leave a completed job without its report.
func (s *Store) SaveJobReport(ctx context.Context, id string, report string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE research_jobs SET report=$2, status=$3, updated_at=NOW() WHERE id=$1
`, id, report, string(research.JobStatusCompleted))
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (s *Store) MarkJobFailed(ctx context.Context, id, stage, kind, message string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE research_jobs
SET status=$2, failed_stage=$3, error_kind=$4, error_message=$5, updated_at=NOW()
WHERE id=$1
`, id, string(research.JobStatusFailed), stage, kind, message)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// MarkJobCancelled flips a job to cancelled unless it already reached a
// terminal state. Returns the job's resulting status.
func (s *Store) MarkJobCancelled(ctx context.Context, id string) (research.JobStatus, error) {
	var status string
	err := s.DB.QueryRowContext(ctx, `
UPDATE research_jobs SET
  status = CASE WHEN status IN ('completed','failed','cancelled') THEN status ELSE 'cancelled' END,
  updated_at = CASE WHEN status IN ('completed','failed','cancelled') THEN updated_at ELSE NOW() END
WHERE id=$1
RETURNING status
`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("job %s: %w", id, research.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return research.JobStatus(status), nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, research.ErrNotFound)
	}
	return nil
}

// Vector operations

// UpsertVectorRecords writes embedded chunks keyed by (namespace, id). Writing
// the same id again replaces the row, which keeps re-indexing idempotent.
func (s *Store) UpsertVectorRecords(ctx context.Context, records []research.VectorRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO vector_records (namespace, id, embedding, text_chunk, metadata, created_at)
VALUES ($1,$2,$3::vector,$4,$5,NOW())
ON CONFLICT (namespace, id) DO UPDATE SET
  embedding = EXCLUDED.embedding,
  text_chunk = EXCLUDED.text_chunk,
  metadata = EXCLUDED.metadata,
  created_at = NOW();
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rec := range records {
		if rec.Namespace == "" {
			return fmt.Errorf("namespace required for record %s", rec.ID)
		}
		if len(rec.Vector) == 0 {
			return fmt.Errorf("embedding vector required for record %s", rec.ID)
		}
		vectorLiteral, vErr := encodeVectorLiteral(rec.Vector)
		if vErr != nil {
			return vErr
		}
		metaBytes, mErr := json.Marshal(map[string]interface{}{
			"topic":       rec.Topic,
			"job_id":      rec.JobID,
			"chunk_index": rec.ChunkIndex,
		})
		if mErr != nil {
			return fmt.Errorf("marshal metadata: %w", mErr)
		}
		if _, err = stmt.ExecContext(ctx, rec.Namespace, rec.ID, vectorLiteral, rec.Text, metaBytes); err != nil {
			return err
		}
	}
	return nil
}

// QueryVectors returns the nearest records in a namespace by cosine distance.
// Similarity on the hit is 1 - distance. Threshold filtering is left to the
// caller so retrieval policy lives in one place.
func (s *Store) QueryVectors(ctx context.Context, namespace string, vector []float32, topK int) ([]research.VectorHit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, text_chunk, metadata, created_at, embedding <=> $1::vector AS distance
FROM vector_records
WHERE namespace = $2
ORDER BY embedding <=> $1::vector, created_at DESC
LIMIT $3
`, vecLiteral, namespace, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []research.VectorHit
	for rows.Next() {
		var (
			rec       research.VectorRecord
			metaBytes []byte
			distance  float64
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &metaBytes, &rec.CreatedAt, &distance); err != nil {
			return nil, err
		}
		rec.Namespace = namespace
		if len(metaBytes) > 0 {
			var meta struct {
				Topic      string `json:"topic"`
				JobID      string `json:"job_id"`
				ChunkIndex int    `json:"chunk_index"`
			}
			if err := json.Unmarshal(metaBytes, &meta); err == nil {
				rec.Topic = meta.Topic
				rec.JobID = meta.JobID
				rec.ChunkIndex = meta.ChunkIndex
			}
		}
		hits = append(hits, research.VectorHit{Record: rec, Similarity: 1 - distance})
	}
	return hits, rows.Err()
}

// DeleteNamespace removes every record in a namespace.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	if namespace == "" {
		return 0, fmt.Errorf("namespace required")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM vector_records WHERE namespace=$1`, namespace)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountNamespace reports how many records a namespace holds.
func (s *Store) CountNamespace(ctx context.Context, namespace string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_records WHERE namespace=$1`, namespace).Scan(&n)
	return n, err
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
