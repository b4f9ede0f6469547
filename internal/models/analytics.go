package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies one observable playback occurrence.
type EventKind string

const (
	EventPlay          EventKind = "play"
	EventPause         EventKind = "pause"
	EventSeek          EventKind = "seek"
	EventQualityChange EventKind = "quality_change"
	EventVolumeChange  EventKind = "volume_change"
	EventBufferStart   EventKind = "buffer_start"
	EventBufferEnd     EventKind = "buffer_end"
	EventComplete      EventKind = "complete"
	EventError         EventKind = "error"
)

// AnalyticsEvent is one immutable record in the per-session event stream.
// Sequence is assigned at creation and is strictly increasing and gapless per session,
// independent of delivery order.
type AnalyticsEvent struct {
	Sequence        uint64          `json:"sequence"`
	SessionID       uuid.UUID       `json:"session_id"`
	LessonID        uuid.UUID       `json:"lesson_id"`
	ViewerID        uuid.UUID       `json:"viewer_id"`
	Kind            EventKind       `json:"kind"`
	PositionSeconds float64         `json:"position_seconds"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// SeekPayload is the payload for seek events.
type SeekPayload struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// QualityChangePayload is the payload for quality change events.
type QualityChangePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// VolumeChangePayload is the payload for volume change events.
type VolumeChangePayload struct {
	Volume float64 `json:"volume"`
	Muted  bool    `json:"muted"`
}

// ErrorPayload carries the precise error kind on error events.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}
