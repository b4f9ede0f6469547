package progress

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

// Sampler is the tracker's read-only view of the live playback session.
type Sampler interface {
	Snapshot() models.PlaybackSnapshot
	// WatchSeconds is the accumulated playing time of this session.
	WatchSeconds() int64
}

// Writer persists checkpoints. Satisfied by *Repository.
type Writer interface {
	Get(ctx context.Context, lessonID, viewerID uuid.UUID) (*models.LessonProgress, error)
	Upsert(ctx context.Context, p models.LessonProgress) error
}

// TrackerConfig bundles the tracker policy knobs.
type TrackerConfig struct {
	Interval time.Duration // checkpoint cadence while playing
	// CompletionPercent optionally marks a lesson completed once percent_watched
	// reaches it. 0 disables the threshold: completion then comes only from
	// playing through to the end.
	CompletionPercent float64
	Device            string
}

// Tracker checkpoints durable watch progress for one session: on a fixed cadence
// while playing, and on pause/ended/quality-change transitions. The cadence timer
// runs for the session's whole lifetime, so a quality switch never resets it.
type Tracker struct {
	sampler  Sampler
	writer   Writer
	lessonID uuid.UUID
	viewerID uuid.UUID
	cfg      TrackerConfig
	logger   *zap.Logger

	mu            sync.Mutex
	baseTimeSpent int64   // cumulative time from earlier sessions, loaded at seed
	maxPercent    float64 // high-water mark; a rewind never lowers percent_watched within a session
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewTracker creates a progress tracker for one session.
func NewTracker(sampler Sampler, writer Writer, lessonID, viewerID uuid.UUID, cfg TrackerConfig, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Tracker{
		sampler:  sampler,
		writer:   writer,
		lessonID: lessonID,
		viewerID: viewerID,
		cfg:      cfg,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Seed loads the stored progress and returns the position to resume from: the last
// checkpointed position for an unfinished watch, 0 for a first watch or a rewatch
// of a completed lesson. Cumulative time spent carries over either way.
func (t *Tracker) Seed(ctx context.Context) (float64, error) {
	stored, err := t.writer.Get(ctx, t.lessonID, t.viewerID)
	if err != nil {
		return 0, err
	}
	if stored == nil {
		return 0, nil
	}
	t.mu.Lock()
	t.baseTimeSpent = stored.TimeSpentSec
	t.mu.Unlock()
	if stored.Completed {
		return 0, nil
	}
	return stored.LastPositionSec, nil
}

// Start launches the cadence loop. Call Stop to end it with a final checkpoint.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()

	go t.run(ctx)
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.sampler.Snapshot().State == models.StatePlaying {
				t.Checkpoint(ctx)
			}
		}
	}
}

// Checkpoint writes one durable progress record from the current playback state.
// A failed write is logged and retried on the next checkpoint; it never reaches the viewer.
func (t *Tracker) Checkpoint(ctx context.Context) {
	snap := t.sampler.Snapshot()
	rec := t.record(snap)
	if err := t.writer.Upsert(ctx, rec); err != nil {
		t.logger.Warn("progress checkpoint failed, will retry",
			zap.String("session_id", snap.SessionID.String()),
			zap.String("kind", string(models.ErrKindProgressWriteFailed)),
			zap.Error(err))
	}
}

func (t *Tracker) record(snap models.PlaybackSnapshot) models.LessonProgress {
	percent := 0.0
	if snap.DurationSeconds > 0 {
		percent = math.Min(100, 100*snap.PositionSeconds/snap.DurationSeconds)
	}

	t.mu.Lock()
	if percent < t.maxPercent {
		percent = t.maxPercent
	} else {
		t.maxPercent = percent
	}
	base := t.baseTimeSpent
	t.mu.Unlock()

	completed := snap.State == models.StateEnded && snap.DurationSeconds > 0
	if t.cfg.CompletionPercent > 0 && percent >= t.cfg.CompletionPercent {
		completed = true
	}

	return models.LessonProgress{
		LessonID:        t.lessonID,
		ViewerID:        t.viewerID,
		LastPositionSec: snap.PositionSeconds,
		DurationSec:     snap.DurationSeconds,
		PercentWatched:  percent,
		Completed:       completed,
		TimeSpentSec:    base + t.sampler.WatchSeconds(),
		SessionID:       snap.SessionID,
		Device:          t.cfg.Device,
	}
}

// Stop ends the cadence loop and writes one final checkpoint. Idempotent.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-t.done
	t.Checkpoint(ctx)
}
