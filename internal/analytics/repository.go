package analytics

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

// Repository persists playback events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a playback event repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertBatch writes one ordered batch. Idempotent on (session_id, sequence), so a
// redelivered batch after a retry collapses to the first write.
func (r *Repository) InsertBatch(ctx context.Context, events []models.AnalyticsEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `INSERT INTO playback_events (session_id, sequence, lesson_id, viewer_id, kind, position_sec, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, sequence) DO NOTHING`
	for _, ev := range events {
		batch.Queue(q, ev.SessionID, int64(ev.Sequence), ev.LessonID, ev.ViewerID, string(ev.Kind), ev.PositionSeconds, ev.OccurredAt, ev.Payload)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// EventCounts holds per-kind event counts for a lesson.
type EventCounts struct {
	BufferEvents int
	SeekEvents   int
	ErrorEvents  int
}

// CountByLesson returns buffer/seek/error event counts for a lesson.
func (r *Repository) CountByLesson(ctx context.Context, lessonID uuid.UUID) (*EventCounts, error) {
	const q = `SELECT
		COUNT(*) FILTER (WHERE kind = 'buffer_start'),
		COUNT(*) FILTER (WHERE kind = 'seek'),
		COUNT(*) FILTER (WHERE kind = 'error')
		FROM playback_events WHERE lesson_id = $1`
	var c EventCounts
	if err := r.pool.QueryRow(ctx, q, lessonID).Scan(&c.BufferEvents, &c.SeekEvents, &c.ErrorEvents); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListBySession returns the stored events of one session in sequence order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AnalyticsEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, sequence, lesson_id, viewer_id, kind, position_sec, occurred_at, payload
		 FROM playback_events WHERE session_id = $1 ORDER BY sequence`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AnalyticsEvent
	for rows.Next() {
		var ev models.AnalyticsEvent
		var seq int64
		var kind string
		if err := rows.Scan(&ev.SessionID, &seq, &ev.LessonID, &ev.ViewerID, &kind, &ev.PositionSeconds, &ev.OccurredAt, &ev.Payload); err != nil {
			return nil, err
		}
		ev.Sequence = uint64(seq)
		ev.Kind = models.EventKind(kind)
		list = append(list, ev)
	}
	return list, rows.Err()
}
