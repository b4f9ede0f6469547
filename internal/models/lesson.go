package models

import (
	"time"

	"github.com/google/uuid"
)

// Lesson is a catalog record for one piece of learning content.
// The catalog itself is maintained elsewhere; the playback engine reads it once at session start.
type Lesson struct {
	ID             uuid.UUID         `json:"id"`
	CourseID       uuid.UUID         `json:"course_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	DurationSec    float64           `json:"duration_sec"`
	// QualityKeys maps quality label ("240p".."1080p") to the S3 object key of that rendition's manifest.
	QualityKeys    map[string]string `json:"quality_keys"`
	QualityBitrate map[string]int    `json:"quality_bitrate_kbps"`
	ThumbnailKey   string            `json:"thumbnail_key"`
	Published      bool              `json:"published"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
