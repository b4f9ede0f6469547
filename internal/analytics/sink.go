package analytics

import (
	"context"

	"github.com/google/uuid"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/queue"
)

// Sink receives ordered event batches. Acceptance is all-or-nothing: a nil return
// acknowledges the whole batch, an error leaves it owned by the caller.
type Sink interface {
	SubmitBatch(ctx context.Context, sessionID uuid.UUID, events []models.AnalyticsEvent) error
}

// QueueSink delivers batches to the Redis job queue; cmd/worker drains them into
// PostgreSQL. A batch is one job, so the all-or-nothing contract holds end to end.
type QueueSink struct {
	q *queue.Queue
}

// NewQueueSink creates a queue-backed sink.
func NewQueueSink(q *queue.Queue) *QueueSink {
	return &QueueSink{q: q}
}

// SubmitBatch enqueues the batch as a single job.
func (s *QueueSink) SubmitBatch(ctx context.Context, sessionID uuid.UUID, events []models.AnalyticsEvent) error {
	return s.q.EnqueueEventBatch(ctx, queue.EventBatchPayload{
		SessionID: sessionID,
		Events:    events,
	})
}
