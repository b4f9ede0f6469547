// Package progress samples playback and checkpoints durable watch progress.
package progress

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

// Repository handles lesson_progress persistence. Writes are idempotent and
// last-write-wins per (lesson, viewer); percent_watched cannot decrease within one
// session and completed never reverts once true.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a progress repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the stored progress for (lesson, viewer), or nil when none exists.
func (r *Repository) Get(ctx context.Context, lessonID, viewerID uuid.UUID) (*models.LessonProgress, error) {
	const q = `SELECT lesson_id, viewer_id, last_position_sec, duration_sec, percent_watched, completed, time_spent_sec, session_id, device, created_at, updated_at
		FROM lesson_progress WHERE lesson_id = $1 AND viewer_id = $2`
	var p models.LessonProgress
	err := r.pool.QueryRow(ctx, q, lessonID, viewerID).Scan(
		&p.LessonID, &p.ViewerID, &p.LastPositionSec, &p.DurationSec, &p.PercentWatched,
		&p.Completed, &p.TimeSpentSec, &p.SessionID, &p.Device, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Upsert writes one checkpoint. Within the same session the stored percent_watched
// only ever rises; a checkpoint from a new session may lower it (fresh rewatch).
// completed latches true and time_spent_sec never decreases, so replaying an
// identical payload leaves the row unchanged.
func (r *Repository) Upsert(ctx context.Context, p models.LessonProgress) error {
	const q = `INSERT INTO lesson_progress
		(lesson_id, viewer_id, last_position_sec, duration_sec, percent_watched, completed, time_spent_sec, session_id, device, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (lesson_id, viewer_id) DO UPDATE SET
			last_position_sec = EXCLUDED.last_position_sec,
			duration_sec      = EXCLUDED.duration_sec,
			percent_watched   = CASE WHEN lesson_progress.session_id = EXCLUDED.session_id
				THEN GREATEST(lesson_progress.percent_watched, EXCLUDED.percent_watched)
				ELSE EXCLUDED.percent_watched END,
			completed         = lesson_progress.completed OR EXCLUDED.completed,
			time_spent_sec    = GREATEST(lesson_progress.time_spent_sec, EXCLUDED.time_spent_sec),
			session_id        = EXCLUDED.session_id,
			device            = EXCLUDED.device,
			updated_at        = NOW()`
	_, err := r.pool.Exec(ctx, q,
		p.LessonID, p.ViewerID, p.LastPositionSec, p.DurationSec, p.PercentWatched,
		p.Completed, p.TimeSpentSec, p.SessionID, p.Device)
	return err
}

// LessonAggregates holds per-lesson progress rollups for the analytics summary.
type LessonAggregates struct {
	Completions       int
	AvgPercentWatched float64
}

// AggregateByLesson returns completion count and mean percent watched across viewers.
func (r *Repository) AggregateByLesson(ctx context.Context, lessonID uuid.UUID) (*LessonAggregates, error) {
	const q = `SELECT COUNT(*) FILTER (WHERE completed), COALESCE(AVG(percent_watched), 0)
		FROM lesson_progress WHERE lesson_id = $1`
	var agg LessonAggregates
	if err := r.pool.QueryRow(ctx, q, lessonID).Scan(&agg.Completions, &agg.AvgPercentWatched); err != nil {
		return nil, err
	}
	return &agg, nil
}
