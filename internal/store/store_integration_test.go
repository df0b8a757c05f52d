package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cognito-ai/cognito/internal/research"
	"github.com/cognito-ai/cognito/internal/store"
)

func testVector(seed float32) []float32 {
	vec := make([]float32, store.DefaultEmbeddingDimensions)
	vec[0] = seed
	vec[1] = 1 - seed
	return vec
}

func TestStoreAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		tcPostgres.WithDatabase("cognito"),
		tcPostgres.WithUsername("cognito"),
		tcPostgres.WithPassword("cognito"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute)))
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("migrate new: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	_, _ = m.Close()

	s, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer func() { _ = s.DB.Close() }()

	t.Run("job lifecycle", func(t *testing.T) {
		job := research.Job{ID: "11111111-1111-1111-1111-111111111111", Topic: "quantum batteries", Status: research.JobStatusPending}
		if err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.SetJobStatus(ctx, job.ID, research.JobStatusRetrieving); err != nil {
			t.Fatalf("status: %v", err)
		}
		if err := s.SaveJobContext(ctx, job.ID, []string{"a-chunk-000", "b-chunk-001"}); err != nil {
			t.Fatalf("context: %v", err)
		}
		if err := s.SaveJobFindings(ctx, job.ID, "findings text"); err != nil {
			t.Fatalf("findings: %v", err)
		}
		if err := s.SaveJobReport(ctx, job.ID, "# Report"); err != nil {
			t.Fatalf("report: %v", err)
		}

		got, err := s.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != research.JobStatusCompleted {
			t.Fatalf("expected completed, got %s", got.Status)
		}
		if got.Report != "# Report" || got.Findings != "findings text" {
			t.Fatalf("artifacts lost: %+v", got)
		}
		if len(got.ContextIDs) != 2 {
			t.Fatalf("context ids lost: %v", got.ContextIDs)
		}

		// Completed beats a late cancellation.
		status, err := s.MarkJobCancelled(ctx, job.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if status != research.JobStatusCompleted {
			t.Fatalf("expected completed to win, got %s", status)
		}

		if _, err := s.GetJob(ctx, "22222222-2222-2222-2222-222222222222"); !errors.Is(err, research.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("vector roundtrip", func(t *testing.T) {
		const ns = "research-jobs"
		records := []research.VectorRecord{
			{Namespace: ns, ID: "job-a-chunk-000", JobID: "job-a", Topic: "solid state cooling", Text: "first chunk", Vector: testVector(1)},
			{Namespace: ns, ID: "job-a-chunk-001", JobID: "job-a", Topic: "solid state cooling", Text: "second chunk", ChunkIndex: 1, Vector: testVector(0.2)},
		}
		if err := s.UpsertVectorRecords(ctx, records); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		// Re-upserting the same ids replaces rather than duplicates.
		records[0].Text = "first chunk revised"
		if err := s.UpsertVectorRecords(ctx, records[:1]); err != nil {
			t.Fatalf("re-upsert: %v", err)
		}
		n, err := s.CountNamespace(ctx, ns)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 records, got %d", n)
		}

		hits, err := s.QueryVectors(ctx, ns, testVector(1), 5)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(hits) != 2 {
			t.Fatalf("expected 2 hits, got %d", len(hits))
		}
		if hits[0].Record.ID != "job-a-chunk-000" {
			t.Fatalf("expected exact match first, got %s", hits[0].Record.ID)
		}
		if hits[0].Record.Text != "first chunk revised" {
			t.Fatalf("upsert did not replace: %q", hits[0].Record.Text)
		}
		if hits[0].Similarity <= hits[1].Similarity {
			t.Fatalf("similarity ordering broken: %f vs %f", hits[0].Similarity, hits[1].Similarity)
		}
		if hits[0].Record.Topic != "solid state cooling" || hits[0].Record.JobID != "job-a" {
			t.Fatalf("metadata lost: %+v", hits[0].Record)
		}

		deleted, err := s.DeleteNamespace(ctx, ns)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if deleted != 2 {
			t.Fatalf("expected 2 deleted, got %d", deleted)
		}
	})
}
