package playback

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/analytics"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/credentials"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/progress"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/quality"
)

// SessionLogger records session open/close rows. Satisfied by *sessionlog.Repository.
type SessionLogger interface {
	LogStart(ctx context.Context, sessionID, lessonID, viewerID uuid.UUID, device string) error
	LogEnd(ctx context.Context, sessionID uuid.UUID, lastState models.State, watchSeconds int64) error
}

// ManagerConfig bundles the per-session policy passed down to the owned components.
type ManagerConfig struct {
	Refresher       credentials.RefresherConfig
	Tracker         progress.TrackerConfig
	Pipeline        analytics.PipelineConfig
	GuestMaxQuality string
}

// managed groups one session with the background components it owns.
type managed struct {
	session   *Session
	store     *credentials.Store
	refresher *credentials.Refresher
	tracker   *progress.Tracker
	pipeline  *analytics.Pipeline

	mu         sync.Mutex
	onCredSwap func(models.StreamingCredentialSet)
}

// Manager constructs, registers and tears down playback sessions. Sessions are
// fully independent of each other; the manager only maps IDs to live instances.
type Manager struct {
	issuer     credentials.Issuer
	progressDB progress.Writer
	sessionLog SessionLogger
	sink       analytics.Sink
	cfg        ManagerConfig
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*managed
}

// NewManager creates a session manager.
func NewManager(issuer credentials.Issuer, progressDB progress.Writer, sessionLog SessionLogger, sink analytics.Sink, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		issuer:     issuer,
		progressDB: progressDB,
		sessionLog: sessionLog,
		sink:       sink,
		cfg:        cfg,
		logger:     logger,
		sessions:   make(map[uuid.UUID]*managed),
	}
}

// Handle is what a freshly started session hands back to the transport layer.
type Handle struct {
	Session     *Session
	Credentials models.StreamingCredentialSet
}

// Start opens a new playback session for (lesson, viewer): issues credentials,
// picks the initial quality, seeds the resume position, starts the refresher,
// tracker and analytics pipeline, and enters loading.
func (m *Manager) Start(ctx context.Context, lesson *models.Lesson, viewerID uuid.UUID, role, device string, probe quality.BandwidthProbe) (*Handle, error) {
	set, err := m.issuer.Issue(ctx, lesson, viewerID, role)
	if err != nil {
		return nil, err
	}

	initial := quality.Pick(role, probe, availableBitrates(set), m.cfg.GuestMaxQuality)
	sessionID := uuid.New()
	store := credentials.NewStore(set)

	pipeline := analytics.NewPipeline(sessionID, lesson.ID, viewerID, m.sink, m.cfg.Pipeline, m.logger)
	session := NewSession(sessionID, lesson.ID, viewerID, lesson.DurationSec, initial, store, pipeline, m.logger)

	tracker := progress.NewTracker(session, m.progressDB, lesson.ID, viewerID, progress.TrackerConfig{
		Interval:          m.cfg.Tracker.Interval,
		CompletionPercent: m.cfg.Tracker.CompletionPercent,
		Device:            device,
	}, m.logger)
	session.SetCheckpointer(tracker)

	if pos, err := tracker.Seed(ctx); err != nil {
		m.logger.Warn("progress seed failed, starting from zero",
			zap.String("session_id", sessionID.String()), zap.Error(err))
	} else if pos > 0 {
		session.SeedPosition(pos)
	}

	refresher := credentials.NewRefresher(store, m.issuer, lesson, viewerID, role, m.cfg.Refresher, m.logger)
	session.SetRefreshFunc(refresher.RefreshNow)

	entry := &managed{
		session:   session,
		store:     store,
		refresher: refresher,
		tracker:   tracker,
		pipeline:  pipeline,
	}
	refresher.SetOnReplace(func(set models.StreamingCredentialSet) {
		entry.mu.Lock()
		fn := entry.onCredSwap
		entry.mu.Unlock()
		if fn != nil {
			fn(set)
		}
	})

	if err := session.BeginLoading(); err != nil {
		return nil, err
	}

	pipeline.Start()
	refresher.Start()
	tracker.Start()

	if err := m.sessionLog.LogStart(ctx, sessionID, lesson.ID, viewerID, device); err != nil {
		m.logger.Warn("session log start failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	}

	m.mu.Lock()
	m.sessions[sessionID] = entry
	m.mu.Unlock()

	m.logger.Info("playback session started",
		zap.String("session_id", sessionID.String()),
		zap.String("lesson_id", lesson.ID.String()),
		zap.String("viewer_id", viewerID.String()),
		zap.String("quality", initial))
	return &Handle{Session: session, Credentials: set}, nil
}

// Get returns a live session by ID.
func (m *Manager) Get(sessionID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.session, nil
}

// Credentials returns the current credential set of a live session.
func (m *Manager) Credentials(sessionID uuid.UUID) (models.StreamingCredentialSet, error) {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return models.StreamingCredentialSet{}, ErrSessionNotFound
	}
	return entry.store.Active(), nil
}

// SetCredentialListener registers the callback invoked when the refresher swaps in
// a new issuance (the WebSocket layer pushes it to the player).
func (m *Manager) SetCredentialListener(sessionID uuid.UUID, fn func(models.StreamingCredentialSet)) error {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	entry.mu.Lock()
	entry.onCredSwap = fn
	entry.mu.Unlock()
	return nil
}

// Close tears a session down: stop the refresh timer, stop the tracker with a
// final checkpoint, flush analytics with a bounded timeout, then release the
// media reference and close the session log. Each step runs regardless of the
// others failing.
func (m *Manager) Close(ctx context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	entry.refresher.Stop()
	entry.tracker.Stop(ctx)
	entry.pipeline.Close()
	lastState, watchSeconds := entry.session.Close()

	if err := m.sessionLog.LogEnd(ctx, sessionID, lastState, watchSeconds); err != nil {
		m.logger.Warn("session log end failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	}

	m.logger.Info("playback session closed",
		zap.String("session_id", sessionID.String()),
		zap.String("last_state", string(lastState)),
		zap.Int64("watch_seconds", watchSeconds))
	return nil
}

// CloseAll tears down every live session (server shutdown).
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Close(ctx, id)
	}
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func availableBitrates(set models.StreamingCredentialSet) map[string]int {
	out := make(map[string]int, len(set.Qualities))
	for label, q := range set.Qualities {
		out[label] = q.BitrateKbps
	}
	return out
}
