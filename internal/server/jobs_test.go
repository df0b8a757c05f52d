package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/queue/streams"
	"github.com/cognito-ai/cognito/internal/research"
)

type stubController struct {
	jobs      map[string]research.Job
	submitErr error
	published *stubPublisher
}

func (s *stubController) Submit(ctx context.Context, topic string) (research.Job, error) {
	if s.submitErr != nil {
		return research.Job{}, s.submitErr
	}
	job := research.Job{ID: "job-1", Topic: strings.TrimSpace(topic), Status: research.JobStatusPending}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubController) GetJob(ctx context.Context, id string) (research.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return research.Job{}, research.ErrNotFound
	}
	return job, nil
}

func (s *stubController) ListJobs(ctx context.Context, limit int) ([]research.Job, error) {
	var out []research.Job
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (s *stubController) Cancel(ctx context.Context, id string) (research.JobStatus, error) {
	job, ok := s.jobs[id]
	if !ok {
		return "", research.ErrNotFound
	}
	if !job.Status.Terminal() {
		job.Status = research.JobStatusCancelled
		s.jobs[id] = job
	}
	return job.Status, nil
}

type stubPublisher struct {
	published []interface{}
	err       error
}

func (p *stubPublisher) PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, payload)
	return "1-0", nil
}

func newJobsTestServer(ctrl *stubController, pub *stubPublisher) *echo.Echo {
	e := echo.New()
	h := &JobsHandler{Controller: ctrl, Publisher: pub, Cfg: config.JobsConfig{}.Normalize()}
	h.Register(e.Group("/api/jobs"))
	return e
}

func TestSubmitJobEndpoint(t *testing.T) {
	ctrl := &stubController{jobs: map[string]research.Job{}}
	pub := &stubPublisher{}
	e := newJobsTestServer(ctrl, pub)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"topic":"quantum batteries"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.JobID == "" || resp.Status != "pending" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(pub.published))
	}
}

func TestSubmitJobRejectsInvalidTopic(t *testing.T) {
	ctrl := &stubController{jobs: map[string]research.Job{}, submitErr: research.ErrInvalidInput}
	e := newJobsTestServer(ctrl, &stubPublisher{})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"topic":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitJobQueueOutage(t *testing.T) {
	ctrl := &stubController{jobs: map[string]research.Job{}}
	pub := &stubPublisher{err: context.DeadlineExceeded}
	e := newJobsTestServer(ctrl, pub)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{"topic":"t"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestStatusEndpointNotFound(t *testing.T) {
	ctrl := &stubController{jobs: map[string]research.Job{}}
	e := newJobsTestServer(ctrl, &stubPublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/ghost/status", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestResultEndpointWhileRunning(t *testing.T) {
	ctrl := &stubController{jobs: map[string]research.Job{
		"job-1": {ID: "job-1", Topic: "t", Status: research.JobStatusResearching, UpdatedAt: time.Now()},
	}}
	e := newJobsTestServer(ctrl, &stubPublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/result", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for running job, got %d", rec.Code)
	}
}

func TestResultEndpointCompleted(t *testing.T) {
	ctrl := &stubController{jobs: map[string]research.Job{
		"job-1": {ID: "job-1", Topic: "t", Status: research.JobStatusCompleted, Report: "# Report", ContextIDs: []string{"c1"}},
	}}
	e := newJobsTestServer(ctrl, &stubPublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/result", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp resultResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Report != "# Report" || len(resp.ContextIDs) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestResultEndpointFailed(t *testing.T) {
	ctrl := &stubController{jobs: map[string]research.Job{
		"job-1": {
			ID: "job-1", Topic: "t", Status: research.JobStatusFailed,
			FailedStage: "researching", ErrorKind: "research_failed",
			ErrorMessage: research.Summary("research_failed"),
		},
	}}
	e := newJobsTestServer(ctrl, &stubPublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/result", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp resultResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ErrorKind != "research_failed" || resp.Error == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCancelEndpoint(t *testing.T) {
	ctrl := &stubController{jobs: map[string]research.Job{
		"job-1": {ID: "job-1", Topic: "t", Status: research.JobStatusResearching},
	}}
	e := newJobsTestServer(ctrl, &stubPublisher{})

	req := httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ctrl.jobs["job-1"].Status != research.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", ctrl.jobs["job-1"].Status)
	}
}

func TestListEndpointRejectsBadLimit(t *testing.T) {
	ctrl := &stubController{jobs: map[string]research.Job{}}
	e := newJobsTestServer(ctrl, &stubPublisher{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs?limit=-1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
