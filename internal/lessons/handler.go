package lessons

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/auth"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/middleware"
	"github.com/Kalplaoffice/kalpla-platform-sub004/pkg/response"
)

// Handler handles lesson catalog HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a lesson handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// GetByID handles GET /lessons/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lesson id")
		return
	}
	lesson, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "lesson not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load lesson")
		return
	}
	role := c.GetString(middleware.ContextViewerRole)
	if !lesson.Published && role != auth.RoleAdmin && role != auth.RoleMentor {
		response.NotFound(c, "lesson not found")
		return
	}
	response.OK(c, lesson)
}

// ListByCourse handles GET /courses/:id/lessons.
func (h *Handler) ListByCourse(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	list, err := h.repo.ListByCourse(c.Request.Context(), courseID)
	if err != nil {
		response.Internal(c, "failed to list lessons")
		return
	}
	response.OK(c, list)
}
