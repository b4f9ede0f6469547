package models

import (
	"time"

	"github.com/google/uuid"
)

// LessonProgress is the durable watch-progress record, one per (lesson, viewer).
// Writes are last-write-wins; percent_watched never decreases within one session,
// and completed never reverts once true.
type LessonProgress struct {
	LessonID           uuid.UUID `json:"lesson_id"`
	ViewerID           uuid.UUID `json:"viewer_id"`
	LastPositionSec    float64   `json:"last_position_sec"`
	DurationSec        float64   `json:"duration_sec"`
	PercentWatched     float64   `json:"percent_watched"`
	Completed          bool      `json:"completed"`
	TimeSpentSec       int64     `json:"time_spent_sec"`
	SessionID          uuid.UUID `json:"session_id"`
	Device             string    `json:"device,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
