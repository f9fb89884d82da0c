package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/membership"
	"github.com/crewdeck/crewdeck/internal/middleware"
	"github.com/crewdeck/crewdeck/internal/repository"
)

// LikeHandler serves project likes. Both directions are idempotent; only
// a first-time like publishes project.liked.
type LikeHandler struct {
	likes   repository.LikeRepository
	service *membership.Service
	events  membership.Publisher
	logger  *zap.Logger
}

func NewLikeHandler(likes repository.LikeRepository, service *membership.Service, events membership.Publisher, logger *zap.Logger) *LikeHandler {
	return &LikeHandler{likes: likes, service: service, events: events, logger: logger}
}

// Like handles PUT /v1/projects/:id/like.
func (h *LikeHandler) Like(c *gin.Context) {
	projectID, userID, ok := h.target(c)
	if !ok {
		return
	}

	liked, err := h.likes.Like(c.Request.Context(), projectID, userID)
	if err != nil {
		h.logger.Error("like failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to like project"})
		return
	}
	if liked {
		h.events.Publish(bus.TopicProjectLiked, bus.ProjectLiked{
			ProjectID: projectID,
			UserID:    userID,
		})
	}
	c.Status(http.StatusNoContent)
}

// Unlike handles DELETE /v1/projects/:id/like.
func (h *LikeHandler) Unlike(c *gin.Context) {
	projectID, userID, ok := h.target(c)
	if !ok {
		return
	}

	if _, err := h.likes.Unlike(c.Request.Context(), projectID, userID); err != nil {
		h.logger.Error("unlike failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unlike project"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LikeHandler) target(c *gin.Context) (projectID, userID uuid.UUID, ok bool) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return uuid.Nil, uuid.Nil, false
	}

	exists, err := h.service.ProjectExists(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, h.logger, err)
		return uuid.Nil, uuid.Nil, false
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return uuid.Nil, uuid.Nil, false
	}

	return projectID, middleware.GetUserID(c), true
}
