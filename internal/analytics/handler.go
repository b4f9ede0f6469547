package analytics

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/progress"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/sessionlog"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/response"
)

// recentSessionsLimit caps the session rows embedded in a lesson summary.
const recentSessionsLimit = 20

// EventReader supplies stored playback events. Satisfied by *Repository.
type EventReader interface {
	CountByLesson(ctx context.Context, lessonID uuid.UUID) (*EventCounts, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AnalyticsEvent, error)
}

// ProgressAggregator supplies per-lesson progress rollups. Satisfied by *progress.Repository.
type ProgressAggregator interface {
	AggregateByLesson(ctx context.Context, lessonID uuid.UUID) (*progress.LessonAggregates, error)
}

// SessionAggregator supplies per-lesson session rollups. Satisfied by *sessionlog.Repository.
type SessionAggregator interface {
	GetWatchAggregates(ctx context.Context, lessonID uuid.UUID) (*sessionlog.WatchAggregates, error)
	ListByLesson(ctx context.Context, lessonID uuid.UUID, limit int) ([]models.PlaybackSessionLog, error)
}

// Handler handles analytics HTTP endpoints.
type Handler struct {
	events   EventReader
	progress ProgressAggregator
	sessions SessionAggregator
	logger   *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(events EventReader, progress ProgressAggregator, sessions SessionAggregator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{events: events, progress: progress, sessions: sessions, logger: logger}
}

// LessonSummary handles GET /lessons/:id/analytics (mentor or admin).
func (h *Handler) LessonSummary(c *gin.Context) {
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lesson id")
		return
	}
	ctx := c.Request.Context()

	watch, err := h.sessions.GetWatchAggregates(ctx, lessonID)
	if err != nil {
		h.logger.Error("failed to aggregate sessions", zap.String("lesson_id", lessonID.String()), zap.Error(err))
		response.Internal(c, "failed to build summary")
		return
	}
	prog, err := h.progress.AggregateByLesson(ctx, lessonID)
	if err != nil {
		h.logger.Error("failed to aggregate progress", zap.String("lesson_id", lessonID.String()), zap.Error(err))
		response.Internal(c, "failed to build summary")
		return
	}
	counts, err := h.events.CountByLesson(ctx, lessonID)
	if err != nil {
		h.logger.Error("failed to count events", zap.String("lesson_id", lessonID.String()), zap.Error(err))
		response.Internal(c, "failed to build summary")
		return
	}
	recent, err := h.sessions.ListByLesson(ctx, lessonID, recentSessionsLimit)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.String("lesson_id", lessonID.String()), zap.Error(err))
		response.Internal(c, "failed to build summary")
		return
	}

	response.OK(c, models.LessonAnalyticsSummary{
		LessonID:          lessonID,
		TotalSessions:     watch.TotalSessions,
		UniqueViewers:     watch.UniqueViewers,
		Completions:       prog.Completions,
		AvgPercentWatched: prog.AvgPercentWatched,
		TotalWatchSeconds: watch.TotalWatchSeconds,
		BufferEvents:      counts.BufferEvents,
		SeekEvents:        counts.SeekEvents,
		ErrorEvents:       counts.ErrorEvents,
		RecentSessions:    recent,
	})
}

// SessionEvents handles GET /playback/:id/events (mentor or admin): the stored
// event stream of one session in sequence order.
func (h *Handler) SessionEvents(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	events, err := h.events.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list events")
		return
	}
	response.OK(c, events)
}
