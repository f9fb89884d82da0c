package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/middleware"
	"github.com/crewdeck/crewdeck/internal/repository"
)

// UserHandler serves profile reads.
type UserHandler struct {
	users  repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(users repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// Me handles GET /v1/users/me.
func (h *UserHandler) Me(c *gin.Context) {
	h.respondUser(c, middleware.GetUserID(c), true)
}

// GetByID handles GET /v1/users/:id. Returns the public view only.
func (h *UserHandler) GetByID(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	h.respondUser(c, userID, false)
}

func (h *UserHandler) respondUser(c *gin.Context, userID uuid.UUID, full bool) {
	u, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if full {
		c.JSON(http.StatusOK, u)
		return
	}
	c.JSON(http.StatusOK, u.View())
}
