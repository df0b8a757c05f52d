package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/crew"
	"github.com/cognito-ai/cognito/internal/memory"
	"github.com/cognito-ai/cognito/internal/research"
)

var (
	jobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cognito_jobs_submitted_total",
		Help: "Research jobs accepted for processing.",
	})
	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cognito_jobs_completed_total",
		Help: "Research jobs that produced a report.",
	})
	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cognito_jobs_failed_total",
		Help: "Research jobs that ended in failure, by error kind.",
	}, []string{"kind"})
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cognito_job_stage_seconds",
		Help:    "Wall time spent per pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})
)

// Store is the persistence the controller drives the job lifecycle through.
type Store interface {
	CreateJob(ctx context.Context, job research.Job) error
	GetJob(ctx context.Context, id string) (research.Job, error)
	ListJobs(ctx context.Context, limit int) ([]research.Job, error)
	SetJobStatus(ctx context.Context, id string, status research.JobStatus) error
	SaveJobContext(ctx context.Context, id string, contextIDs []string) error
	SaveJobFindings(ctx context.Context, id string, findings string) error
	SaveJobReport(ctx context.Context, id string, report string) error
	MarkJobFailed(ctx context.Context, id, stage, kind, message string) error
	MarkJobCancelled(ctx context.Context, id string) (research.JobStatus, error)
}

// Retriever supplies prior-knowledge context for a topic.
type Retriever interface {
	Retrieve(ctx context.Context, topic string) []research.ContextRecord
}

// Runner is the agent crew the controller delegates research and writing to.
type Runner interface {
	RunResearcher(ctx context.Context, jobID, topic, contextBlock string) (crew.ResearchResult, error)
	RunWriter(ctx context.Context, jobID, topic, findings, contextBlock string) (research.AgentTask, string, error)
}

// Indexer persists reports and sources into the vector index.
type Indexer interface {
	IndexReport(ctx context.Context, jobID, topic, report string) ([]string, error)
	IndexSources(ctx context.Context, jobID, topic string, sources []research.Source) (int, error)
}

// Controller owns the job state machine: it validates submissions and drives
// accepted jobs through retrieve, research, write, and re-index.
type Controller struct {
	store     Store
	retriever Retriever
	crew      Runner
	index     Indexer
	cfg       config.JobsConfig
	logger    *log.Logger
}

func NewController(store Store, retriever Retriever, runner Runner, index Indexer, cfg config.JobsConfig) *Controller {
	return &Controller{
		store:     store,
		retriever: retriever,
		crew:      runner,
		index:     index,
		cfg:       cfg.Normalize(),
		logger:    log.New(log.Writer(), "[JOBS] ", log.LstdFlags),
	}
}

// Submit validates the topic and persists a new pending job. It does not run
// the pipeline; workers pick the job up from the queue.
func (c *Controller) Submit(ctx context.Context, topic string) (research.Job, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return research.Job{}, fmt.Errorf("%w: topic is empty", research.ErrInvalidInput)
	}
	if len(topic) > c.cfg.MaxTopicChars {
		return research.Job{}, fmt.Errorf("%w: topic exceeds %d chars", research.ErrInvalidInput, c.cfg.MaxTopicChars)
	}
	job := research.Job{
		ID:     uuid.NewString(),
		Topic:  topic,
		Status: research.JobStatusPending,
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return research.Job{}, fmt.Errorf("create job: %w", err)
	}
	jobsSubmitted.Inc()
	c.logger.Printf("job %s submitted: %q", job.ID, topic)
	return job, nil
}

// Run drives one job through the pipeline to a terminal state. Already
// terminal jobs are a no-op, and stages whose artifacts were persisted by an
// earlier run are skipped, so Run is safe to call again after a crash.
func (c *Controller) Run(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		c.logger.Printf("job %s already %s, nothing to do", jobID, job.Status)
		return nil
	}

	findings := job.Findings
	topic := job.Topic
	var contextBlock string

	if findings == "" {
		// Retrieve stage. Retrieval failures degrade to empty context
		// inside the retriever, so this stage cannot fail the job.
		var records []research.ContextRecord
		if job.Status == research.JobStatusPending {
			if err := c.transition(ctx, jobID, research.JobStatusRetrieving); err != nil {
				return err
			}
		}
		_ = c.runStage(ctx, "retrieving", c.cfg.RetrieveTimeout, func(sctx context.Context) error {
			records = c.retriever.Retrieve(sctx, topic)
			return nil
		})
		contextBlock = memory.FormatContext(records)
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.ID)
		}
		if err := c.store.SaveJobContext(ctx, jobID, ids); err != nil {
			return err
		}
		if c.stopped(ctx, jobID) {
			return nil
		}

		// Research stage.
		if err := c.transition(ctx, jobID, research.JobStatusResearching); err != nil {
			return err
		}
		var result crew.ResearchResult
		stageErr := c.runStage(ctx, "researching", c.cfg.ResearchTimeout, func(sctx context.Context) error {
			var rErr error
			result, rErr = c.crew.RunResearcher(sctx, jobID, topic, contextBlock)
			return rErr
		})
		if stageErr != nil {
			return c.fail(ctx, jobID, stageErr)
		}
		findings = result.Findings
		if err := c.store.SaveJobFindings(ctx, jobID, findings); err != nil {
			return err
		}
		// Source capture is best effort.
		if n, err := c.index.IndexSources(ctx, jobID, topic, result.Sources); err != nil {
			c.logger.Printf("job %s: source indexing skipped: %v", jobID, err)
		} else if n > 0 {
			c.logger.Printf("job %s: captured %d sources", jobID, n)
		}
	} else {
		// Resuming past research: rebuild the context bundle for the writer.
		_ = c.runStage(ctx, "retrieving", c.cfg.RetrieveTimeout, func(sctx context.Context) error {
			contextBlock = memory.FormatContext(c.retriever.Retrieve(sctx, topic))
			return nil
		})
	}
	if c.stopped(ctx, jobID) {
		return nil
	}

	// Write stage.
	if err := c.transition(ctx, jobID, research.JobStatusWriting); err != nil {
		return err
	}
	var report string
	stageErr := c.runStage(ctx, "writing", c.cfg.WriteTimeout, func(sctx context.Context) error {
		var wErr error
		_, report, wErr = c.crew.RunWriter(sctx, jobID, topic, findings, contextBlock)
		return wErr
	})
	if stageErr != nil {
		return c.fail(ctx, jobID, stageErr)
	}
	if c.stopped(ctx, jobID) {
		return nil
	}

	// The report is persisted with the completed status before re-indexing,
	// so an index outage can never lose a finished report.
	if err := c.store.SaveJobReport(ctx, jobID, report); err != nil {
		return err
	}
	jobsCompleted.Inc()
	c.logger.Printf("job %s completed", jobID)

	_ = c.runStage(ctx, "indexing", c.cfg.IndexTimeout, func(sctx context.Context) error {
		if _, err := c.index.IndexReport(sctx, jobID, topic, report); err != nil {
			c.logger.Printf("job %s: report indexing failed, job stays completed: %v", jobID, err)
		}
		return nil
	})
	return nil
}

// Cancel requests cancellation. Terminal jobs keep their state; the returned
// status tells the caller which outcome won.
func (c *Controller) Cancel(ctx context.Context, jobID string) (research.JobStatus, error) {
	status, err := c.store.MarkJobCancelled(ctx, jobID)
	if err != nil {
		return "", err
	}
	if status == research.JobStatusCancelled {
		c.logger.Printf("job %s cancelled", jobID)
	}
	return status, nil
}

// GetJob returns the current state of a job.
func (c *Controller) GetJob(ctx context.Context, jobID string) (research.Job, error) {
	return c.store.GetJob(ctx, jobID)
}

// ListJobs returns recent jobs, newest first.
func (c *Controller) ListJobs(ctx context.Context, limit int) ([]research.Job, error) {
	return c.store.ListJobs(ctx, limit)
}

func (c *Controller) transition(ctx context.Context, jobID string, next research.JobStatus) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == next {
		return nil
	}
	if !job.Status.CanTransition(next) {
		return fmt.Errorf("job %s: illegal transition %s -> %s", jobID, job.Status, next)
	}
	return c.store.SetJobStatus(ctx, jobID, next)
}

// stopped reports whether the job was cancelled out from under the run.
func (c *Controller) stopped(ctx context.Context, jobID string) bool {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	if job.Status == research.JobStatusCancelled {
		c.logger.Printf("job %s cancelled, abandoning run", jobID)
		return true
	}
	return false
}

func (c *Controller) runStage(ctx context.Context, stage string, timeout time.Duration, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := fn(sctx)
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", research.ErrTimeout, err)
	}
	return &research.StageError{Stage: stage, Err: err}
}

func (c *Controller) fail(ctx context.Context, jobID string, err error) error {
	stage := "unknown"
	kind := research.ErrorKind(err)
	var stageErr *research.StageError
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
		kind = stageErr.Kind()
	}
	c.logger.Printf("job %s failed in %s (%s): %v", jobID, stage, kind, err)
	if mErr := c.store.MarkJobFailed(ctx, jobID, stage, kind, research.Summary(kind)); mErr != nil {
		return fmt.Errorf("mark failed: %w", mErr)
	}
	jobsFailed.WithLabelValues(kind).Inc()
	return err
}
