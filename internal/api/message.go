package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/errs"
	"github.com/crewdeck/crewdeck/internal/membership"
	"github.com/crewdeck/crewdeck/internal/middleware"
	"github.com/crewdeck/crewdeck/internal/repository"
)

// MessageHandler serves chat history. Writes happen only through the
// realtime path and the chathistory consumer; this handler is read-only.
type MessageHandler struct {
	messages repository.MessageRepository
	service  *membership.Service
	logger   *zap.Logger
}

func NewMessageHandler(messages repository.MessageRepository, service *membership.Service, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, service: service, logger: logger}
}

// List handles GET /v1/projects/:id/messages?before=123&limit=50.
// Members only — history is as private as the room.
func (h *MessageHandler) List(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	userID := middleware.GetUserID(c)
	member, err := h.service.UserInProject(c.Request.Context(), userID, projectID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !member {
		respondError(c, h.logger, errs.Unauthorized("user not in project"))
		return
	}

	var before int64
	if b := c.Query("before"); b != "" {
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return
		}
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		if limit > 100 {
			limit = 100
		}
	}

	messages, err := h.messages.ListByProject(c.Request.Context(), projectID, before, limit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, messages)
}
