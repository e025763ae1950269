package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/metrics"
	"github.com/hortus-cognitor/backend/internal/notify"
	"github.com/hortus-cognitor/backend/pkg/queue"
)

// JobQueue is the part of queue.Queue the processor drives.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// EmailProcessor delivers queued email jobs through a sink, retrying failures and parking them in the DLQ.
type EmailProcessor struct {
	queue   JobQueue
	sink    notify.Sink
	metrics *metrics.Metrics
	backoff time.Duration
	logger  *zap.Logger
}

// NewEmailProcessor creates an email job processor. m may be nil.
func NewEmailProcessor(q JobQueue, sink notify.Sink, m *metrics.Metrics, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{queue: q, sink: sink, metrics: m, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one email job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeEmail(job)
	if err != nil {
		return err
	}
	if err := p.sink.Send(ctx, notify.FromPayload(payload)); err != nil {
		return fmt.Errorf("send %s: %w", payload.Template, err)
	}
	p.count(payload.Template, "sent")
	p.logger.Info("email job completed", zap.String("job_id", job.ID), zap.String("template", payload.Template))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			p.count("unknown", "retried")
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *EmailProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *EmailProcessor) count(template, outcome string) {
	if p.metrics != nil {
		p.metrics.EmailJobs.WithLabelValues(template, outcome).Inc()
	}
}
