package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/research"
)

// Index is the vector search and maintenance surface exposed over HTTP.
type Index interface {
	Query(ctx context.Context, namespace, query string, topK int) ([]research.VectorHit, error)
	Purge(ctx context.Context, namespace string) (int64, error)
	ReportNamespace() string
	SourceNamespace() string
}

// SimilarFinder resolves a topic to the prior jobs most related to it.
type SimilarFinder interface {
	SimilarJobs(ctx context.Context, topic string, limit int) []string
}

type MemoryHandler struct {
	Index   Index
	Similar SimilarFinder
	Cfg     config.SemanticMemoryConfig
}

func (h *MemoryHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
	g.POST("/similar", h.similar)
	g.DELETE("/:namespace", h.purge)
}

type memorySearchRequest struct {
	Query     string `json:"query"`
	Namespace string `json:"namespace,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

type memorySearchHit struct {
	ID         string  `json:"id"`
	JobID      string  `json:"job_id,omitempty"`
	Topic      string  `json:"topic,omitempty"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

func (h *MemoryHandler) search(c echo.Context) error {
	var req memorySearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	namespace := req.Namespace
	switch namespace {
	case "", h.Index.ReportNamespace():
		namespace = h.Index.ReportNamespace()
	case h.Index.SourceNamespace():
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown namespace")
	}
	hits, err := h.Index.Query(c.Request().Context(), namespace, req.Query, req.TopK)
	if err != nil {
		if errors.Is(err, research.ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, "query must not be empty")
		}
		if errors.Is(err, research.ErrIndexUnavailable) || errors.Is(err, research.ErrEmbedding) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, research.Summary("index_unavailable"))
		}
		return err
	}
	out := make([]memorySearchHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < h.Cfg.SearchThreshold {
			continue
		}
		out = append(out, memorySearchHit{
			ID:         hit.Record.ID,
			JobID:      hit.Record.JobID,
			Topic:      hit.Record.Topic,
			Text:       hit.Record.Text,
			Similarity: hit.Similarity,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"namespace": namespace, "hits": out})
}

type memorySimilarRequest struct {
	Topic string `json:"topic"`
	Limit int    `json:"limit,omitempty"`
}

func (h *MemoryHandler) similar(c echo.Context) error {
	var req memorySimilarRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic must not be empty")
	}
	jobIDs := h.Similar.SimilarJobs(c.Request().Context(), req.Topic, req.Limit)
	if jobIDs == nil {
		jobIDs = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"topic": req.Topic, "job_ids": jobIDs})
}

func (h *MemoryHandler) purge(c echo.Context) error {
	namespace := c.Param("namespace")
	switch namespace {
	case h.Index.ReportNamespace(), h.Index.SourceNamespace():
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown namespace")
	}
	deleted, err := h.Index.Purge(c.Request().Context(), namespace)
	if err != nil {
		if errors.Is(err, research.ErrIndexUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, research.Summary("index_unavailable"))
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"namespace": namespace, "deleted": deleted})
}
