package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/quality"
)

type managerIssuer struct {
	mu     sync.Mutex
	issues int
}

func (f *managerIssuer) set(expiry time.Time) models.StreamingCredentialSet {
	return models.StreamingCredentialSet{
		IssuedAt: time.Now(),
		Qualities: map[string]models.QualityCredential{
			"480p":  {ManifestURL: "https://cdn.example.com/480p", BitrateKbps: 800, ExpiresAt: expiry},
			"720p":  {ManifestURL: "https://cdn.example.com/720p", BitrateKbps: 1500, ExpiresAt: expiry},
			"1080p": {ManifestURL: "https://cdn.example.com/1080p", BitrateKbps: 3000, ExpiresAt: expiry},
		},
	}
}

func (f *managerIssuer) Issue(ctx context.Context, lesson *models.Lesson, viewerID uuid.UUID, role string) (models.StreamingCredentialSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues++
	return f.set(time.Now().Add(30 * time.Minute)), nil
}

func (f *managerIssuer) Refresh(ctx context.Context, lesson *models.Lesson, viewerID uuid.UUID, role string, current models.StreamingCredentialSet) (models.StreamingCredentialSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues++
	return f.set(current.ExpiresAt().Add(30 * time.Minute)), nil
}

type managerWriter struct {
	mu     sync.Mutex
	stored *models.LessonProgress
	writes []models.LessonProgress
}

func (f *managerWriter) Get(ctx context.Context, lessonID, viewerID uuid.UUID) (*models.LessonProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stored, nil
}

func (f *managerWriter) Upsert(ctx context.Context, p models.LessonProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, p)
	return nil
}

type managerSessionLog struct {
	mu        sync.Mutex
	started   []uuid.UUID
	ended     []uuid.UUID
	lastState models.State
	lastWatch int64
}

func (f *managerSessionLog) LogStart(ctx context.Context, sessionID, lessonID, viewerID uuid.UUID, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, sessionID)
	return nil
}

func (f *managerSessionLog) LogEnd(ctx context.Context, sessionID uuid.UUID, lastState models.State, watchSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sessionID)
	f.lastState = lastState
	f.lastWatch = watchSeconds
	return nil
}

type managerSink struct {
	mu      sync.Mutex
	batches [][]models.AnalyticsEvent
}

func (f *managerSink) SubmitBatch(ctx context.Context, sessionID uuid.UUID, events []models.AnalyticsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]models.AnalyticsEvent, len(events))
	copy(batch, events)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *managerSink) events() []models.AnalyticsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.AnalyticsEvent
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func managerLesson() *models.Lesson {
	return &models.Lesson{
		ID:          uuid.New(),
		CourseID:    uuid.New(),
		Title:       "Raising Seed Capital",
		DurationSec: 600,
		QualityKeys: map[string]string{"480p": "k1", "720p": "k2", "1080p": "k3"},
		Published:   true,
	}
}

func newTestManager(writer *managerWriter, slog *managerSessionLog, sink *managerSink) *Manager {
	return NewManager(&managerIssuer{}, writer, slog, sink, ManagerConfig{
		GuestMaxQuality: "480p",
	}, nil)
}

func TestManagerStartOpensLoadingSession(t *testing.T) {
	slog := &managerSessionLog{}
	m := newTestManager(&managerWriter{}, slog, &managerSink{})

	handle, err := m.Start(context.Background(), managerLesson(), uuid.New(), "student", "web",
		quality.BandwidthProbe{DownlinkKbps: 2200})
	require.NoError(t, err)
	defer m.Close(context.Background(), handle.Session.ID())

	snap := handle.Session.Snapshot()
	assert.Equal(t, models.StateLoading, snap.State)
	assert.Equal(t, "720p", snap.Quality, "initial rendition honors the bandwidth budget")
	assert.Len(t, handle.Credentials.QualityLabels(), 3)
	assert.Equal(t, 1, m.ActiveCount())
	assert.Equal(t, []uuid.UUID{handle.Session.ID()}, slog.started)

	got, err := m.Get(handle.Session.ID())
	require.NoError(t, err)
	assert.Same(t, handle.Session, got)
}

func TestManagerGuestQualityCapped(t *testing.T) {
	m := newTestManager(&managerWriter{}, &managerSessionLog{}, &managerSink{})

	handle, err := m.Start(context.Background(), managerLesson(), uuid.New(), "guest", "web",
		quality.BandwidthProbe{DownlinkKbps: 50000})
	require.NoError(t, err)
	defer m.Close(context.Background(), handle.Session.ID())

	assert.Equal(t, "480p", handle.Session.Snapshot().Quality)
}

func TestManagerSeedsResumePosition(t *testing.T) {
	writer := &managerWriter{stored: &models.LessonProgress{
		LastPositionSec: 340,
		TimeSpentSec:    350,
	}}
	m := newTestManager(writer, &managerSessionLog{}, &managerSink{})

	handle, err := m.Start(context.Background(), managerLesson(), uuid.New(), "student", "web",
		quality.BandwidthProbe{})
	require.NoError(t, err)
	defer m.Close(context.Background(), handle.Session.ID())

	assert.Equal(t, 340.0, handle.Session.Snapshot().PositionSeconds)
}

func TestManagerCloseFlushesAndLogs(t *testing.T) {
	writer := &managerWriter{}
	slog := &managerSessionLog{}
	sink := &managerSink{}
	m := newTestManager(writer, slog, sink)
	ctx := context.Background()

	handle, err := m.Start(ctx, managerLesson(), uuid.New(), "student", "web", quality.BandwidthProbe{})
	require.NoError(t, err)
	session := handle.Session

	require.NoError(t, session.Play(ctx))
	require.NoError(t, session.MarkReady())
	require.NoError(t, session.AdvancePosition(ctx, 90))
	require.NoError(t, session.Pause(ctx))

	require.NoError(t, m.Close(ctx, session.ID()))

	assert.Zero(t, m.ActiveCount())
	assert.Equal(t, []uuid.UUID{session.ID()}, slog.ended)
	assert.Equal(t, models.StatePaused, slog.lastState)

	kinds := make([]models.EventKind, 0)
	for _, ev := range sink.events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []models.EventKind{models.EventPlay, models.EventPause}, kinds,
		"teardown flushes the buffered events")

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.NotEmpty(t, writer.writes, "teardown writes a final checkpoint")
	assert.Equal(t, 90.0, writer.writes[len(writer.writes)-1].LastPositionSec)

	_, err = m.Get(session.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	err = m.Close(ctx, session.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerCredentialListenerReceivesSwaps(t *testing.T) {
	m := newTestManager(&managerWriter{}, &managerSessionLog{}, &managerSink{})
	ctx := context.Background()

	handle, err := m.Start(ctx, managerLesson(), uuid.New(), "student", "web", quality.BandwidthProbe{})
	require.NoError(t, err)
	defer m.Close(ctx, handle.Session.ID())

	got := make(chan models.StreamingCredentialSet, 1)
	require.NoError(t, m.SetCredentialListener(handle.Session.ID(), func(set models.StreamingCredentialSet) {
		got <- set
	}))

	// Force an expiry failure; the automatic recovery refresh must notify the listener.
	require.NoError(t, handle.Session.Play(ctx))
	require.NoError(t, handle.Session.MarkReady())
	require.NoError(t, handle.Session.ReportMediaError(ctx, models.ErrKindCredentialExpired, "403"))

	select {
	case set := <-got:
		assert.True(t, set.ExpiresAt().After(handle.Credentials.ExpiresAt()))
	case <-time.After(time.Second):
		t.Fatal("credential swap was not pushed to the listener")
	}
	assert.Equal(t, models.StateLoading, handle.Session.Snapshot().State)

	cur, err := m.Credentials(handle.Session.ID())
	require.NoError(t, err)
	assert.True(t, cur.ExpiresAt().After(handle.Credentials.ExpiresAt()))
}
