package index

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/research"
)

// VectorStore is the persistence the index service writes to and queries.
type VectorStore interface {
	UpsertVectorRecords(ctx context.Context, records []research.VectorRecord) error
	QueryVectors(ctx context.Context, namespace string, vector []float32, topK int) ([]research.VectorHit, error)
	DeleteNamespace(ctx context.Context, namespace string) (int64, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Service chunks, embeds, and stores text for later similarity search.
type Service struct {
	store    VectorStore
	embedder Embedder
	cfg      config.SemanticMemoryConfig
	logger   *log.Logger
}

func NewService(store VectorStore, embedder Embedder, cfg config.SemanticMemoryConfig) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		cfg:      cfg.Normalize(),
		logger:   log.New(log.Writer(), "[INDEX] ", log.LstdFlags),
	}
}

// ReportNamespace returns the namespace completed reports are indexed into.
func (s *Service) ReportNamespace() string { return s.cfg.ReportNamespace }

// SourceNamespace returns the namespace scraped sources are indexed into.
func (s *Service) SourceNamespace() string { return s.cfg.SourceNamespace }

// Embed produces one vector per input text. Oversized inputs are rejected
// rather than silently truncated.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if len(t) > s.cfg.MaxEmbedChars {
			return nil, fmt.Errorf("%w: input %d exceeds %d chars", research.ErrEmbedding, i, s.cfg.MaxEmbedChars)
		}
	}
	vecs, err := s.embedder.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", research.ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", research.ErrEmbedding, len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != s.cfg.EmbeddingDimensions {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", research.ErrEmbedding, i, len(v), s.cfg.EmbeddingDimensions)
		}
	}
	return vecs, nil
}

// IndexReport chunks a completed report and upserts the chunks under the
// report namespace. Chunk ids are derived from the job id so re-running after
// a crash replaces rather than duplicates.
func (s *Service) IndexReport(ctx context.Context, jobID, topic, report string) ([]string, error) {
	if strings.TrimSpace(report) == "" {
		return nil, fmt.Errorf("%w: empty report", research.ErrInvalidInput)
	}
	chunks := chunkText(report, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	vecs, err := s.Embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	records := make([]research.VectorRecord, len(chunks))
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		id := fmt.Sprintf("%s-chunk-%03d", jobID, i)
		ids[i] = id
		records[i] = research.VectorRecord{
			ID:         id,
			Namespace:  s.cfg.ReportNamespace,
			Vector:     vecs[i],
			Text:       chunk,
			Topic:      topic,
			JobID:      jobID,
			ChunkIndex: i,
		}
	}
	if err := s.store.UpsertVectorRecords(ctx, records); err != nil {
		return nil, fmt.Errorf("%w: %v", research.ErrIndexUnavailable, err)
	}
	s.logger.Printf("indexed report for job %s as %d chunks", jobID, len(chunks))
	return ids, nil
}

// IndexSources stores scraped source texts under the source namespace. Sources
// without usable text are skipped.
func (s *Service) IndexSources(ctx context.Context, jobID, topic string, sources []research.Source) (int, error) {
	var (
		texts []string
		kept  []research.Source
	)
	for _, src := range sources {
		text := strings.TrimSpace(src.Text)
		if text == "" {
			text = strings.TrimSpace(src.Snippet)
		}
		if text == "" {
			continue
		}
		if len(text) > s.cfg.MaxEmbedChars {
			text = text[:s.cfg.MaxEmbedChars]
		}
		src.Text = text
		texts = append(texts, text)
		kept = append(kept, src)
	}
	if len(kept) == 0 {
		return 0, nil
	}
	vecs, err := s.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	records := make([]research.VectorRecord, len(kept))
	for i, src := range kept {
		records[i] = research.VectorRecord{
			ID:         fmt.Sprintf("%s-source-%03d", jobID, i),
			Namespace:  s.cfg.SourceNamespace,
			Vector:     vecs[i],
			Text:       src.Text,
			Topic:      src.URL,
			JobID:      jobID,
			ChunkIndex: i,
		}
	}
	if err := s.store.UpsertVectorRecords(ctx, records); err != nil {
		return 0, fmt.Errorf("%w: %v", research.ErrIndexUnavailable, err)
	}
	return len(records), nil
}

// Query embeds the query text and returns the nearest hits in a namespace.
func (s *Service) Query(ctx context.Context, namespace, query string, topK int) ([]research.VectorHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", research.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = s.cfg.SearchTopK
	}
	vecs, err := s.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	hits, err := s.store.QueryVectors(ctx, namespace, vecs[0], topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", research.ErrIndexUnavailable, err)
	}
	return hits, nil
}

// Purge drops every record in a namespace.
func (s *Service) Purge(ctx context.Context, namespace string) (int64, error) {
	n, err := s.store.DeleteNamespace(ctx, namespace)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", research.ErrIndexUnavailable, err)
	}
	s.logger.Printf("purged %d records from namespace %s", n, namespace)
	return n, nil
}
