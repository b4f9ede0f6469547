package playback

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/auth"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/middleware"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/quality"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/response"
)

// LessonSource loads catalog records at session start. Satisfied by *lessons.Repository.
type LessonSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Lesson, error)
}

// StartRequest is the body for POST /lessons/:id/playback.
type StartRequest struct {
	Device       string `json:"device"`
	DownlinkKbps int    `json:"downlink_kbps"`
}

// IntentRequest is the body for POST /playback/:id/intent. Exactly one intent
// per request; the fields used depend on the intent.
type IntentRequest struct {
	Intent      string  `json:"intent" binding:"required"`
	PositionSec float64 `json:"position_sec"`
	Quality     string  `json:"quality"`
	Volume      float64 `json:"volume"`
	Muted       bool    `json:"muted"`
	ErrorKind   string  `json:"error_kind"`
	Message     string  `json:"message"`
}

// StartResponse is the payload returned when a session opens.
type StartResponse struct {
	SessionID   uuid.UUID                     `json:"session_id"`
	Snapshot    models.PlaybackSnapshot       `json:"snapshot"`
	Credentials models.StreamingCredentialSet `json:"credentials"`
}

// CloseResponse summarizes a finished session.
type CloseResponse struct {
	SessionID    uuid.UUID    `json:"session_id"`
	LastState    models.State `json:"last_state"`
	WatchSeconds int64        `json:"watch_seconds"`
}

// Handler handles playback session HTTP endpoints.
type Handler struct {
	manager *Manager
	lessons LessonSource
	logger  *zap.Logger
}

// NewHandler creates a playback handler.
func NewHandler(manager *Manager, lessons LessonSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, lessons: lessons, logger: logger}
}

// Start handles POST /lessons/:id/playback.
func (h *Handler) Start(c *gin.Context) {
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lesson id")
		return
	}
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}

	viewerID := c.MustGet(middleware.ContextViewerID).(uuid.UUID)
	role := c.GetString(middleware.ContextViewerRole)

	lesson, err := h.lessons.GetByID(c.Request.Context(), lessonID)
	if err != nil {
		response.NotFound(c, "lesson not found")
		return
	}
	if !lesson.Published && role != auth.RoleAdmin && role != auth.RoleMentor {
		response.NotFound(c, "lesson not found")
		return
	}

	handle, err := h.manager.Start(c.Request.Context(), lesson, viewerID, role, req.Device,
		quality.BandwidthProbe{DownlinkKbps: req.DownlinkKbps})
	if err != nil {
		h.logger.Error("failed to start playback session",
			zap.String("lesson_id", lessonID.String()), zap.Error(err))
		response.Internal(c, "failed to start playback session")
		return
	}

	response.Created(c, StartResponse{
		SessionID:   handle.Session.ID(),
		Snapshot:    handle.Session.Snapshot(),
		Credentials: handle.Credentials,
	})
}

// Snapshot handles GET /playback/:id.
func (h *Handler) Snapshot(c *gin.Context) {
	session, ok := h.authorize(c)
	if !ok {
		return
	}
	response.OK(c, session.Snapshot())
}

// Intent handles POST /playback/:id/intent.
func (h *Handler) Intent(c *gin.Context) {
	session, ok := h.authorize(c)
	if !ok {
		return
	}
	var req IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	var err error
	switch req.Intent {
	case "play":
		err = session.Play(ctx)
	case "pause":
		err = session.Pause(ctx)
	case "seek":
		err = session.Seek(ctx, req.PositionSec)
	case "set_quality":
		err = session.SetQuality(ctx, req.Quality)
	case "set_volume":
		err = session.SetVolume(req.Volume, req.Muted)
	case "retry":
		err = session.Retry(ctx)
	case "ready":
		err = session.MarkReady()
	case "stall":
		err = session.ReportStall()
	case "recovered":
		err = session.ReportRecovered()
	case "position":
		err = session.AdvancePosition(ctx, req.PositionSec)
	case "media_error":
		err = session.ReportMediaError(ctx, models.ErrorKind(req.ErrorKind), req.Message)
	default:
		response.BadRequest(c, "unknown intent: "+req.Intent)
		return
	}

	switch {
	case err == nil:
		response.OK(c, session.Snapshot())
	case errors.Is(err, ErrUnknownQuality):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionClosed):
		response.Conflict(c, err.Error())
	default:
		response.Internal(c, "intent failed")
	}
}

// Close handles DELETE /playback/:id.
func (h *Handler) Close(c *gin.Context) {
	session, ok := h.authorize(c)
	if !ok {
		return
	}
	id := session.ID()
	watch := session.WatchSeconds()
	if err := h.manager.Close(c.Request.Context(), id); err != nil {
		response.NotFound(c, "playback session not found")
		return
	}
	snap := session.Snapshot()
	response.OK(c, CloseResponse{SessionID: id, LastState: snap.State, WatchSeconds: watch})
}

// authorize resolves the session from the path and checks the caller owns it.
func (h *Handler) authorize(c *gin.Context) (*Session, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	session, err := h.manager.Get(sessionID)
	if err != nil {
		response.NotFound(c, "playback session not found")
		return nil, false
	}
	viewerID := c.MustGet(middleware.ContextViewerID).(uuid.UUID)
	role := c.GetString(middleware.ContextViewerRole)
	if session.ViewerID() != viewerID && role != auth.RoleAdmin {
		response.Forbidden(c, "not your playback session")
		return nil, false
	}
	return session, true
}
