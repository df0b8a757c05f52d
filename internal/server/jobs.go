package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/queue/streams"
	"github.com/cognito-ai/cognito/internal/research"
)

// Controller is the job lifecycle surface the handlers expose over HTTP.
type Controller interface {
	Submit(ctx context.Context, topic string) (research.Job, error)
	GetJob(ctx context.Context, id string) (research.Job, error)
	ListJobs(ctx context.Context, limit int) ([]research.Job, error)
	Cancel(ctx context.Context, id string) (research.JobStatus, error)
}

// Publisher enqueues accepted jobs for workers.
type Publisher interface {
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

type JobsHandler struct {
	Controller Controller
	Publisher  Publisher
	Cfg        config.JobsConfig
	Logger     *log.Logger
}

func (h *JobsHandler) Register(g *echo.Group) {
	if h.Logger == nil {
		h.Logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	g.POST("", h.submit)
	g.GET("", h.list)
	g.GET("/:id/status", h.status)
	g.GET("/:id/result", h.result)
	g.DELETE("/:id", h.cancel)
}

type submitRequest struct {
	Topic string `json:"topic"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type statusResponse struct {
	JobID     string `json:"job_id"`
	Topic     string `json:"topic"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

type resultResponse struct {
	JobID       string   `json:"job_id"`
	Topic       string   `json:"topic"`
	Status      string   `json:"status"`
	Report      string   `json:"report,omitempty"`
	ContextIDs  []string `json:"context_ids,omitempty"`
	FailedStage string   `json:"failed_stage,omitempty"`
	ErrorKind   string   `json:"error_kind,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func (h *JobsHandler) submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	job, err := h.Controller.Submit(ctx, req.Topic)
	if err != nil {
		if errors.Is(err, research.ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, research.Summary("invalid_input"))
		}
		return err
	}
	if _, err := h.Publisher.PublishRaw(ctx, h.Cfg.Stream, streams.EventJobEnqueued, streams.PayloadVersionV1,
		streams.JobEnqueuedPayload{JobID: job.ID, Topic: job.Topic}); err != nil {
		h.Logger.Printf("enqueue failed for job %s: %v", job.ID, err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "job accepted but could not be queued, retry later")
	}
	return c.JSON(http.StatusAccepted, submitResponse{JobID: job.ID, Status: string(job.Status)})
}

func (h *JobsHandler) status(c echo.Context) error {
	job, err := h.Controller.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, research.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{
		JobID:     job.ID,
		Topic:     job.Topic,
		Status:    string(job.Status),
		UpdatedAt: job.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *JobsHandler) result(c echo.Context) error {
	job, err := h.Controller.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, research.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return err
	}
	resp := resultResponse{
		JobID:  job.ID,
		Topic:  job.Topic,
		Status: string(job.Status),
	}
	switch job.Status {
	case research.JobStatusCompleted:
		resp.Report = job.Report
		resp.ContextIDs = job.ContextIDs
	case research.JobStatusFailed:
		resp.FailedStage = job.FailedStage
		resp.ErrorKind = job.ErrorKind
		resp.Error = job.ErrorMessage
	case research.JobStatusCancelled:
		resp.Error = research.Summary("cancelled")
	default:
		return echo.NewHTTPError(http.StatusConflict, "job is still running")
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *JobsHandler) list(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	list, err := h.Controller.ListJobs(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	out := make([]statusResponse, 0, len(list))
	for _, job := range list {
		out = append(out, statusResponse{
			JobID:     job.ID,
			Topic:     job.Topic,
			Status:    string(job.Status),
			UpdatedAt: job.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": out})
}

func (h *JobsHandler) cancel(c echo.Context) error {
	status, err := h.Controller.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, research.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"job_id": c.Param("id"), "status": string(status)})
}
