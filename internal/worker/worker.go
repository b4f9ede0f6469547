// Package worker drains the playback event queue into Postgres.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/analytics"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/queue"
)

// EventProcessor consumes event batch jobs and persists them. Inserts are keyed
// on (session_id, sequence), so a job that is retried after a partial failure
// writes each event at most once.
type EventProcessor struct {
	events *analytics.Repository
	queue  *queue.Queue
	logger *zap.Logger
}

// NewEventProcessor creates an event batch processor.
func NewEventProcessor(events *analytics.Repository, q *queue.Queue, logger *zap.Logger) *EventProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventProcessor{events: events, queue: q, logger: logger}
}

// Process executes one event batch job.
func (p *EventProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEventBatch {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EventBatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if len(payload.Events) == 0 {
		return nil
	}

	if err := p.events.InsertBatch(ctx, payload.Events); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	p.logger.Debug("event batch stored",
		zap.String("session_id", payload.SessionID.String()),
		zap.Int("events", len(payload.Events)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EventProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("event worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
