package models

import (
	"time"

	"github.com/google/uuid"
)

// State is the authoritative playback state of one session.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateBuffering State = "buffering"
	StateEnded     State = "ended"
	StateErrored   State = "errored"
)

// ErrorKind classifies playback failures for diagnosis and recovery policy.
type ErrorKind string

const (
	ErrKindCredentialExpired     ErrorKind = "credential_expired"
	ErrKindCredentialFetchFailed ErrorKind = "credential_fetch_failed"
	ErrKindMediaLoadFailed       ErrorKind = "media_load_failed"
	ErrKindDecodeError           ErrorKind = "decode_error"
	ErrKindNetworkStall          ErrorKind = "network_stall"
	ErrKindProgressWriteFailed   ErrorKind = "progress_write_failed"
	ErrKindAnalyticsFlushFailed  ErrorKind = "analytics_flush_failed"
)

// PlaybackSnapshot is the read-only view of a live session exposed to the surrounding UI
// (controls bar, notes, Q&A). All mutation goes through the session's intent API.
type PlaybackSnapshot struct {
	SessionID       uuid.UUID `json:"session_id"`
	LessonID        uuid.UUID `json:"lesson_id"`
	ViewerID        uuid.UUID `json:"viewer_id"`
	State           State     `json:"state"`
	Quality         string    `json:"quality"`
	PositionSeconds float64   `json:"position_seconds"`
	DurationSeconds float64   `json:"duration_seconds"`
	Volume          float64   `json:"volume"`
	Muted           bool      `json:"muted"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"`
	Retryable       bool      `json:"retryable,omitempty"`
	StartedAt       time.Time `json:"started_at"`
}
