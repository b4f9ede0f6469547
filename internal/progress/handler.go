package progress

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/middleware"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/response"
)

// Handler handles progress HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a progress handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// GetMine handles GET /lessons/:id/progress: the caller's own saved progress.
func (h *Handler) GetMine(c *gin.Context) {
	lessonID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lesson id")
		return
	}
	viewerID := c.MustGet(middleware.ContextViewerID).(uuid.UUID)

	p, err := h.repo.Get(c.Request.Context(), lessonID, viewerID)
	if err != nil {
		response.Internal(c, "failed to load progress")
		return
	}
	if p == nil {
		response.NotFound(c, "no progress recorded")
		return
	}
	response.OK(c, p)
}
