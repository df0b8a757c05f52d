package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cognito-ai/cognito/config"
	"github.com/cognito-ai/cognito/internal/queue/streams"
)

var (
	messagesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cognito_worker_messages_total",
		Help: "Queue messages consumed by the worker.",
	})
	messagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cognito_worker_message_failures_total",
		Help: "Queue messages whose job run returned an error.",
	})
	messagesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cognito_worker_messages_reclaimed_total",
		Help: "Pending queue messages claimed from dead consumers.",
	})
)

// JobRunner drives one job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Consumer is the queue read side the processor depends on.
type Consumer interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

// Processor consumes job.enqueued events and runs each job through the
// pipeline. Messages are acked after the run reaches a terminal state, so a
// crashed worker leaves the message pending for redelivery.
type Processor struct {
	consumer Consumer
	runner   JobRunner
	cfg      config.JobsConfig
	logger   *log.Logger
}

func NewProcessor(consumer Consumer, runner JobRunner, cfg config.JobsConfig) *Processor {
	return &Processor{
		consumer: consumer,
		runner:   runner,
		cfg:      cfg.Normalize(),
		logger:   log.New(log.Writer(), "[WORKER] ", log.LstdFlags),
	}
}

// ConsumerName derives a stable-enough consumer name for this process.
func ConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Run blocks consuming the job stream until the context is cancelled.
// Alongside new deliveries it periodically claims entries left pending by
// consumers that died before acking, so every enqueued job still reaches a
// terminal state.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Printf("consuming %s as group %s", p.cfg.Stream, p.cfg.ConsumerGroup)
	var lastReclaim time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if time.Since(lastReclaim) >= p.cfg.ReclaimInterval {
			p.reclaim(ctx)
			lastReclaim = time.Now()
		}
		msgs, err := p.consumer.Read(ctx, p.cfg.Stream,
			streams.WithBlock(5*time.Second),
			streams.WithCount(1),
		)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Printf("read error, backing off: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			p.handle(ctx, msg)
		}
	}
}

// reclaim drains pending entries whose consumer went idle past the configured
// threshold and runs them as if freshly delivered.
func (p *Processor) reclaim(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := p.consumer.AutoClaim(ctx, p.cfg.Stream, p.cfg.ReclaimMinIdle, start, 16)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Printf("reclaim error: %v", err)
			}
			return
		}
		for _, msg := range msgs {
			messagesReclaimed.Inc()
			p.logger.Printf("reclaimed pending message %s", msg.ID)
			p.handle(ctx, msg)
		}
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

func (p *Processor) handle(ctx context.Context, msg streams.Message) {
	messagesConsumed.Inc()

	var payload streams.JobEnqueuedPayload
	if err := json.Unmarshal(msg.Envelope.Data, &payload); err != nil || payload.JobID == "" {
		p.logger.Printf("dropping malformed payload on %s: %v", msg.ID, err)
		_ = p.consumer.Ack(ctx, p.cfg.Stream, msg.ID)
		return
	}

	p.logger.Printf("running job %s (%q)", payload.JobID, payload.Topic)
	if err := p.runner.Run(ctx, payload.JobID); err != nil {
		// The controller already persisted the failure on the job row;
		// the message is acked either way so the job is not re-run.
		messagesFailed.Inc()
		p.logger.Printf("job %s run finished with error: %v", payload.JobID, err)
	}
	if err := p.consumer.Ack(ctx, p.cfg.Stream, msg.ID); err != nil {
		p.logger.Printf("ack failed for %s: %v", msg.ID, err)
	}
}
