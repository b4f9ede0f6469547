// Package sessionlog persists one row per playback session: open/close bounds,
// final state and watch time. The analytics summary aggregates over these rows.
package sessionlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

// Repository handles playback_session_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogStart inserts a row when a playback session opens.
func (r *Repository) LogStart(ctx context.Context, sessionID, lessonID, viewerID uuid.UUID, device string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO playback_session_logs (session_id, lesson_id, viewer_id, started_at, device)
		 VALUES ($1, $2, $3, NOW(), $4)
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionID, lessonID, viewerID, device)
	return err
}

// LogEnd closes the row with the session's final state and accumulated watch time.
func (r *Repository) LogEnd(ctx context.Context, sessionID uuid.UUID, lastState models.State, watchSeconds int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE playback_session_logs SET ended_at = NOW(), last_state = $2, watch_seconds = $3
		 WHERE session_id = $1 AND ended_at IS NULL`,
		sessionID, string(lastState), watchSeconds)
	return err
}

// WatchAggregates holds per-lesson session aggregates for the analytics summary.
type WatchAggregates struct {
	TotalSessions     int
	UniqueViewers     int
	TotalWatchSeconds int64
}

// GetWatchAggregates returns session count, distinct viewers and total watch time for a lesson.
func (r *Repository) GetWatchAggregates(ctx context.Context, lessonID uuid.UUID) (*WatchAggregates, error) {
	const q = `SELECT COUNT(*), COUNT(DISTINCT viewer_id), COALESCE(SUM(watch_seconds), 0)
		FROM playback_session_logs WHERE lesson_id = $1`
	var agg WatchAggregates
	if err := r.pool.QueryRow(ctx, q, lessonID).Scan(&agg.TotalSessions, &agg.UniqueViewers, &agg.TotalWatchSeconds); err != nil {
		return nil, err
	}
	return &agg, nil
}

// ListByLesson returns recent session rows for a lesson.
func (r *Repository) ListByLesson(ctx context.Context, lessonID uuid.UUID, limit int) ([]models.PlaybackSessionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, lesson_id, viewer_id, started_at, ended_at, last_state, watch_seconds, device, created_at
		 FROM playback_session_logs WHERE lesson_id = $1 ORDER BY started_at DESC LIMIT $2`,
		lessonID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PlaybackSessionLog
	for rows.Next() {
		var row models.PlaybackSessionLog
		var lastState string
		var endedAt *time.Time
		if err := rows.Scan(&row.SessionID, &row.LessonID, &row.ViewerID, &row.StartedAt, &endedAt, &lastState, &row.WatchSeconds, &row.Device, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.EndedAt = endedAt
		row.LastState = models.State(lastState)
		list = append(list, row)
	}
	return list, rows.Err()
}
