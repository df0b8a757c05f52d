package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/cognito-ai/cognito/internal/research"
)

func TestUpsertVectorRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	records := []research.VectorRecord{
		{
			ID:         "job-1-chunk-000",
			Namespace:  "research-jobs",
			Vector:     []float32{0.1, 0.2},
			Text:       "chunk text",
			Topic:      "quantum batteries",
			JobID:      "job-1",
			ChunkIndex: 0,
		},
	}

	mock.ExpectBegin()
	insertQuery := regexp.QuoteMeta(`
INSERT INTO vector_records (namespace, id, embedding, text_chunk, metadata, created_at)
VALUES ($1,$2,$3::vector,$4,$5,NOW())
ON CONFLICT (namespace, id) DO UPDATE SET
  embedding = EXCLUDED.embedding,
  text_chunk = EXCLUDED.text_chunk,
  metadata = EXCLUDED.metadata,
  created_at = NOW();
`)
	prep := mock.ExpectPrepare(insertQuery)
	prep.ExpectExec().
		WithArgs("research-jobs", "job-1-chunk-000", "[0.1,0.2]", "chunk text", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.UpsertVectorRecords(context.Background(), records); err != nil {
		t.Fatalf("UpsertVectorRecords: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertVectorRecordsRejectsEmptyVector(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO vector_records`))
	mock.ExpectRollback()

	err = st.UpsertVectorRecords(context.Background(), []research.VectorRecord{
		{ID: "r1", Namespace: "research-jobs"},
	})
	if err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestQueryVectors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
SELECT id, text_chunk, metadata, created_at, embedding <=> $1::vector AS distance
FROM vector_records
WHERE namespace = $2
ORDER BY embedding <=> $1::vector, created_at DESC
LIMIT $3
`)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "text_chunk", "metadata", "created_at", "distance"}).
		AddRow("job-1-chunk-000", "chunk text", []byte(`{"topic":"quantum batteries","job_id":"job-1","chunk_index":0}`), now, 0.2)
	mock.ExpectQuery(query).
		WithArgs("[0.1,0.2]", "research-jobs", 5).
		WillReturnRows(rows)

	hits, err := st.QueryVectors(context.Background(), "research-jobs", []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatalf("QueryVectors: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Similarity != 0.8 {
		t.Fatalf("expected similarity 0.8, got %f", hits[0].Similarity)
	}
	if hits[0].Record.JobID != "job-1" {
		t.Fatalf("unexpected job id: %s", hits[0].Record.JobID)
	}
}

func TestDeleteNamespace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM vector_records WHERE namespace=$1`)).
		WithArgs("research-sources").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := st.DeleteNamespace(context.Background(), "research-sources")
	if err != nil {
		t.Fatalf("DeleteNamespace: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 deleted, got %d", n)
	}
}

func TestEncodeVectorLiteral(t *testing.T) {
	lit, err := encodeVectorLiteral([]float32{0.5, -1, 0})
	if err != nil {
		t.Fatalf("encodeVectorLiteral: %v", err)
	}
	if lit != "[0.5,-1,0]" {
		t.Fatalf("unexpected literal: %s", lit)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatal("expected error for empty vector")
	}
}
