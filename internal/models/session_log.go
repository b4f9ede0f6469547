package models

import (
	"time"

	"github.com/google/uuid"
)

// PlaybackSessionLog is one row per playback session: open/close bounds and watch time.
// Feeds the per-lesson analytics summary.
type PlaybackSessionLog struct {
	SessionID    uuid.UUID  `json:"session_id"`
	LessonID     uuid.UUID  `json:"lesson_id"`
	ViewerID     uuid.UUID  `json:"viewer_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	LastState    State      `json:"last_state"`
	WatchSeconds int64      `json:"watch_seconds"`
	Device       string     `json:"device,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// LessonAnalyticsSummary holds aggregated playback analytics for one lesson.
type LessonAnalyticsSummary struct {
	LessonID          uuid.UUID            `json:"lesson_id"`
	TotalSessions     int                  `json:"total_sessions"`
	UniqueViewers     int                  `json:"unique_viewers"`
	Completions       int                  `json:"completions"`
	AvgPercentWatched float64              `json:"avg_percent_watched"`
	TotalWatchSeconds int64                `json:"total_watch_seconds"`
	BufferEvents      int                  `json:"buffer_events"`
	SeekEvents        int                  `json:"seek_events"`
	ErrorEvents       int                  `json:"error_events"`
	RecentSessions    []PlaybackSessionLog `json:"recent_sessions"`
}
