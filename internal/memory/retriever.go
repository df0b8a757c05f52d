package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/research"
)

// Index is the similarity-search capability the retriever depends on.
type Index interface {
	Query(ctx context.Context, namespace, query string, topK int) ([]research.VectorHit, error)
	ReportNamespace() string
}

// Retriever fetches prior-knowledge context for a new topic. Retrieval is a
// best-effort accelerator: failures degrade to an empty context rather than
// failing the job.
type Retriever struct {
	index  Index
	cfg    config.SemanticMemoryConfig
	logger *log.Logger
}

func NewRetriever(index Index, cfg config.SemanticMemoryConfig) *Retriever {
	return &Retriever{
		index:  index,
		cfg:    cfg.Normalize(),
		logger: log.New(log.Writer(), "[MEMORY] ", log.LstdFlags),
	}
}

// Retrieve returns up to top_k context records above the similarity threshold,
// ordered by similarity descending with recency breaking ties. An unreachable
// index yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, topic string) []research.ContextRecord {
	hits, err := r.index.Query(ctx, r.index.ReportNamespace(), topic, r.cfg.SearchTopK)
	if err != nil {
		r.logger.Printf("context retrieval degraded for topic %q: %v", topic, err)
		return nil
	}
	var out []research.ContextRecord
	for _, hit := range hits {
		if hit.Similarity < r.cfg.SearchThreshold {
			continue
		}
		out = append(out, research.ContextRecord{
			ID:         hit.Record.ID,
			Topic:      hit.Record.Topic,
			JobID:      hit.Record.JobID,
			Text:       hit.Record.Text,
			Similarity: hit.Similarity,
			CreatedAt:  hit.Record.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > r.cfg.SearchTopK {
		out = out[:r.cfg.SearchTopK]
	}
	return out
}

// FormatContext renders retrieved records into the prompt block handed to the
// agents.
func FormatContext(records []research.ContextRecord) string {
	if len(records) == 0 {
		return "No relevant context found."
	}
	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Source %d\n", i+1)
		if rec.Topic != "" {
			fmt.Fprintf(&b, "Topic: %s\n", rec.Topic)
		}
		fmt.Fprintf(&b, "Relevance: %.2f\n", rec.Similarity)
		b.WriteString("Content: ")
		b.WriteString(rec.Text)
	}
	return b.String()
}

// SimilarJobs returns the distinct job ids of prior research most relevant to
// the topic, most relevant first. Capped at limit when limit is positive.
func (r *Retriever) SimilarJobs(ctx context.Context, topic string, limit int) []string {
	ids := similarJobIDs(r.Retrieve(ctx, topic))
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func similarJobIDs(records []research.ContextRecord) []string {
	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, rec := range records {
		if rec.JobID == "" {
			continue
		}
		if _, ok := seen[rec.JobID]; ok {
			continue
		}
		seen[rec.JobID] = struct{}{}
		out = append(out, rec.JobID)
	}
	return out
}
