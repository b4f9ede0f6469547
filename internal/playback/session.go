// Package playback owns the authoritative state of one viewing session and
// validates every transition. All intents from the surrounding UI and all
// transport reports funnel through the Session; no other component mutates
// playback state.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/credentials"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

// Recorder captures one analytics event per observable transition, synchronously,
// before the transition is considered complete. Satisfied by *analytics.Pipeline.
type Recorder interface {
	Record(kind models.EventKind, positionSec float64, payload any) models.AnalyticsEvent
}

// Checkpointer persists a progress checkpoint on transition boundaries
// (pause, ended, quality change). Satisfied by *progress.Tracker.
type Checkpointer interface {
	Checkpoint(ctx context.Context)
}

// allowed is the transition table. Anything not listed is rejected.
var allowed = map[models.State][]models.State{
	models.StateIdle:      {models.StateLoading, models.StateErrored},
	models.StateLoading:   {models.StatePlaying, models.StatePaused, models.StateLoading, models.StateErrored},
	models.StatePlaying:   {models.StatePaused, models.StateBuffering, models.StateEnded, models.StateLoading, models.StateErrored},
	models.StatePaused:    {models.StatePlaying, models.StateBuffering, models.StateLoading, models.StateErrored},
	models.StateBuffering: {models.StatePlaying, models.StatePaused, models.StateLoading, models.StateErrored},
	models.StateEnded:     {models.StateLoading, models.StateErrored},
	models.StateErrored:   {models.StateLoading},
}

func canTransition(from, to models.State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is one live playback session. It owns the state machine, the position,
// volume and the accumulated watch time; everything else reads it via Snapshot.
type Session struct {
	id       uuid.UUID
	lessonID uuid.UUID
	viewerID uuid.UUID

	store    *credentials.Store
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	// refreshNow performs the single automatic credential refresh attempted on a
	// credential_expired media failure. Set by the manager (refresher.RefreshNow).
	refreshNow func(context.Context) error
	// checkpoint is invoked after pause/ended/quality-change transitions. Set by
	// the manager once the tracker exists (the tracker samples this session).
	checkpoint Checkpointer

	mu          sync.Mutex
	state       models.State
	stalledFrom models.State // state to restore when buffering resolves
	quality     string
	positionSec float64
	durationSec float64
	volume      float64
	muted       bool
	playIntent  bool // play requested while loading; MarkReady resolves it
	errKind     models.ErrorKind
	retryable   bool
	credRetried bool // the one automatic credential recovery was already spent
	startedAt   time.Time

	watchSec     time.Duration
	playingSince time.Time // zero unless state == playing
	closed       bool
}

// NewSession creates a session in the idle state.
func NewSession(id, lessonID, viewerID uuid.UUID, durationSec float64, initialQuality string, store *credentials.Store, recorder Recorder, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:          id,
		lessonID:    lessonID,
		viewerID:    viewerID,
		store:       store,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
		state:       models.StateIdle,
		quality:     initialQuality,
		durationSec: durationSec,
		volume:      1.0,
		startedAt:   time.Now(),
	}
}

// SetCheckpointer wires the progress tracker. Called once by the manager before playback starts.
func (s *Session) SetCheckpointer(c Checkpointer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = c
}

// SetRefreshFunc wires the forced credential refresh. Called once by the manager.
func (s *Session) SetRefreshFunc(fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshNow = fn
}

// SeedPosition sets the resume position before first load. Only valid while idle.
func (s *Session) SeedPosition(positionSec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == models.StateIdle {
		s.positionSec = s.clamp(positionSec)
	}
}

// BeginLoading moves idle -> loading once a valid credential for the selected
// quality exists. The manager calls it at session start.
func (s *Session) BeginLoading() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.store.Has(s.quality) {
		return ErrUnknownQuality
	}
	return s.setState(models.StateLoading)
}

// MarkReady reports that media for the current manifest is ready. The session
// resolves to playing when a play intent is pending, otherwise to paused
// (ready to play). Transport integration calls this after each (re)load.
func (s *Session) MarkReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != models.StateLoading {
		return invalidTransition(s.state, models.StatePlaying)
	}
	if s.playIntent {
		s.playIntent = false
		s.recorder.Record(models.EventPlay, s.positionSec, nil)
		return s.setState(models.StatePlaying)
	}
	return s.setState(models.StatePaused)
}

// Play requests playback. In paused it transitions immediately; while loading it
// records the intent for MarkReady; while buffering it retargets the post-stall
// state. Playing is a no-op.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.state {
	case models.StatePlaying:
		s.mu.Unlock()
		return nil
	case models.StateLoading:
		s.playIntent = true
		s.mu.Unlock()
		return nil
	case models.StatePaused:
		s.recorder.Record(models.EventPlay, s.positionSec, nil)
		err := s.setState(models.StatePlaying)
		s.mu.Unlock()
		return err
	case models.StateBuffering:
		if s.stalledFrom != models.StatePlaying {
			s.stalledFrom = models.StatePlaying
			s.recorder.Record(models.EventPlay, s.positionSec, nil)
		}
		s.mu.Unlock()
		return nil
	default:
		from := s.state
		s.mu.Unlock()
		return invalidTransition(from, models.StatePlaying)
	}
}

// Pause requests a pause. Mirrors Play.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.state {
	case models.StatePaused:
		s.mu.Unlock()
		return nil
	case models.StateLoading:
		s.playIntent = false
		s.mu.Unlock()
		return nil
	case models.StatePlaying:
		s.recorder.Record(models.EventPause, s.positionSec, nil)
		err := s.setState(models.StatePaused)
		s.mu.Unlock()
		s.checkpointNow(ctx)
		return err
	case models.StateBuffering:
		if s.stalledFrom != models.StatePaused {
			s.stalledFrom = models.StatePaused
			s.recorder.Record(models.EventPause, s.positionSec, nil)
		}
		s.mu.Unlock()
		return nil
	default:
		from := s.state
		s.mu.Unlock()
		return invalidTransition(from, models.StatePaused)
	}
}

// Seek moves the position optimistically and emits the seek event; it does not
// change state, except that a seek out of ended re-enters loading.
func (s *Session) Seek(ctx context.Context, toSec float64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.state {
	case models.StatePlaying, models.StatePaused, models.StateBuffering:
		from := s.positionSec
		s.positionSec = s.clamp(toSec)
		s.recorder.Record(models.EventSeek, s.positionSec, models.SeekPayload{From: from, To: s.positionSec})
		s.mu.Unlock()
		return nil
	case models.StateEnded:
		from := s.positionSec
		s.positionSec = s.clamp(toSec)
		s.recorder.Record(models.EventSeek, s.positionSec, models.SeekPayload{From: from, To: s.positionSec})
		err := s.setState(models.StateLoading)
		s.mu.Unlock()
		return err
	default:
		state := s.state
		s.mu.Unlock()
		return invalidTransition(state, state)
	}
}

// SetQuality switches rendition: validates the target against the credential
// store, re-enters loading at the new manifest and preserves position. The
// progress cadence keeps running across the switch.
func (s *Session) SetQuality(ctx context.Context, quality string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.store.Has(quality) {
		s.mu.Unlock()
		return ErrUnknownQuality
	}
	switch s.state {
	case models.StateLoading, models.StatePlaying, models.StatePaused, models.StateBuffering:
		if quality == s.quality {
			s.mu.Unlock()
			return nil
		}
		from := s.quality
		// Resume in the pre-switch mode once the new manifest is ready.
		s.playIntent = s.state == models.StatePlaying ||
			(s.state == models.StateBuffering && s.stalledFrom == models.StatePlaying)
		s.quality = quality
		s.recorder.Record(models.EventQualityChange, s.positionSec, models.QualityChangePayload{From: from, To: quality})
		err := s.setState(models.StateLoading)
		s.mu.Unlock()
		s.checkpointNow(ctx)
		return err
	default:
		state := s.state
		s.mu.Unlock()
		return invalidTransition(state, models.StateLoading)
	}
}

// SetVolume updates volume/muted and emits the volume event. No state change.
func (s *Session) SetVolume(volume float64, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	s.volume = volume
	s.muted = muted
	s.recorder.Record(models.EventVolumeChange, s.positionSec, models.VolumeChangePayload{Volume: volume, Muted: muted})
	return nil
}

// ReportStall reports a transport stall: playing/paused enter buffering and
// remember the state to restore. Buffering is always transient.
func (s *Session) ReportStall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	switch s.state {
	case models.StateBuffering:
		return nil
	case models.StatePlaying, models.StatePaused:
		s.stalledFrom = s.state
		s.recorder.Record(models.EventBufferStart, s.positionSec, nil)
		return s.setState(models.StateBuffering)
	default:
		return invalidTransition(s.state, models.StateBuffering)
	}
}

// ReportRecovered resolves buffering back to the pre-stall state.
func (s *Session) ReportRecovered() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != models.StateBuffering {
		return invalidTransition(s.state, s.state)
	}
	s.recorder.Record(models.EventBufferEnd, s.positionSec, nil)
	return s.setState(s.stalledFrom)
}

// AdvancePosition is the transport's position callback. Reaching the known
// duration while playing ends the session and emits the complete event.
func (s *Session) AdvancePosition(ctx context.Context, positionSec float64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.positionSec = s.clamp(positionSec)
	if s.state == models.StatePlaying && s.durationSec > 0 && s.positionSec >= s.durationSec {
		s.recorder.Record(models.EventComplete, s.positionSec, nil)
		err := s.setState(models.StateEnded)
		s.mu.Unlock()
		s.checkpointNow(ctx)
		return err
	}
	s.mu.Unlock()
	return nil
}

// ReportMediaError reports a transport/decode failure. network_stall maps to
// buffering; credential_expired gets one automatic refresh+reload attempt;
// everything else (and an unrecovered expiry) moves the session to errored with
// a retry affordance. The error event always carries the precise kind.
func (s *Session) ReportMediaError(ctx context.Context, kind models.ErrorKind, message string) error {
	if kind == models.ErrKindNetworkStall {
		return s.ReportStall()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	if kind == models.ErrKindCredentialExpired && !s.credRetried && s.refreshNow != nil {
		s.credRetried = true
		refresh := s.refreshNow
		s.playIntent = s.state == models.StatePlaying ||
			(s.state == models.StateBuffering && s.stalledFrom == models.StatePlaying)
		s.mu.Unlock()

		if err := refresh(ctx); err == nil {
			s.mu.Lock()
			err := s.setState(models.StateLoading)
			s.mu.Unlock()
			if err == nil {
				s.logger.Info("credential expiry recovered by automatic refresh",
					zap.String("session_id", s.id.String()))
				return nil
			}
		}
		s.mu.Lock()
	}

	s.errKind = kind
	s.retryable = true
	s.recorder.Record(models.EventError, s.positionSec, models.ErrorPayload{Kind: kind, Message: message})
	err := s.setState(models.StateErrored)
	s.mu.Unlock()
	return err
}

// Retry re-enters loading after an error. The automatic credential recovery
// budget resets so a later expiry gets its own attempt.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != models.StateErrored {
		return invalidTransition(s.state, models.StateLoading)
	}
	s.errKind = ""
	s.retryable = false
	s.credRetried = false
	return s.setState(models.StateLoading)
}

// Snapshot returns the read-only view exposed to the surrounding UI.
func (s *Session) Snapshot() models.PlaybackSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.PlaybackSnapshot{
		SessionID:       s.id,
		LessonID:        s.lessonID,
		ViewerID:        s.viewerID,
		State:           s.state,
		Quality:         s.quality,
		PositionSeconds: s.positionSec,
		DurationSeconds: s.durationSec,
		Volume:          s.volume,
		Muted:           s.muted,
		ErrorKind:       s.errKind,
		Retryable:       s.retryable,
		StartedAt:       s.startedAt,
	}
}

// WatchSeconds returns the accumulated playing time, including the live span.
func (s *Session) WatchSeconds() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.watchSec
	if !s.playingSince.IsZero() {
		total += s.now().Sub(s.playingSince)
	}
	return int64(total.Seconds())
}

// Close marks the session torn down and releases the media reference. Further
// intents fail with ErrSessionClosed. Returns the final state and watch time.
func (s *Session) Close() (models.State, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.accountWatch(s.state, s.state)
		s.playingSince = time.Time{}
		s.closed = true
	}
	total := int64(s.watchSec.Seconds())
	return s.state, total
}

// setState performs the validated transition. Callers hold s.mu.
func (s *Session) setState(to models.State) error {
	from := s.state
	if !canTransition(from, to) {
		return invalidTransition(from, to)
	}
	s.accountWatch(from, to)
	s.state = to
	s.logger.Debug("playback transition",
		zap.String("session_id", s.id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

// accountWatch maintains the watch-time clock across a from->to transition.
func (s *Session) accountWatch(from, to models.State) {
	now := s.now()
	if from == models.StatePlaying && !s.playingSince.IsZero() {
		s.watchSec += now.Sub(s.playingSince)
		s.playingSince = time.Time{}
	}
	if to == models.StatePlaying {
		s.playingSince = now
	}
}

func (s *Session) clamp(pos float64) float64 {
	if pos < 0 {
		return 0
	}
	if s.durationSec > 0 && pos > s.durationSec {
		return s.durationSec
	}
	return pos
}

func (s *Session) checkpointNow(ctx context.Context) {
	s.mu.Lock()
	c := s.checkpoint
	s.mu.Unlock()
	if c != nil {
		c.Checkpoint(ctx)
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// LessonID returns the lesson being played.
func (s *Session) LessonID() uuid.UUID { return s.lessonID }

// ViewerID returns the viewer.
func (s *Session) ViewerID() uuid.UUID { return s.viewerID }
