package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdeck/crewdeck/internal/errs"
	"github.com/crewdeck/crewdeck/internal/membership"
	"github.com/crewdeck/crewdeck/internal/middleware"
)

// MembershipHandler exposes the join-request state machine over REST.
// These are thin wrappers: the same service operations back the realtime
// path, so behavior cannot diverge between the two surfaces.
type MembershipHandler struct {
	service *membership.Service
	logger  *zap.Logger
}

func NewMembershipHandler(service *membership.Service, logger *zap.Logger) *MembershipHandler {
	return &MembershipHandler{service: service, logger: logger}
}

// RequestJoin handles POST /v1/projects/:id/join — the caller asks to
// join the project.
func (h *MembershipHandler) RequestJoin(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.service.RequestJoin(c.Request.Context(), projectID, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// WithdrawJoin handles DELETE /v1/projects/:id/join — the caller takes
// back a pending request. Idempotent.
func (h *MembershipHandler) WithdrawJoin(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.service.WithdrawJoinRequest(c.Request.Context(), projectID, userID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type approveRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// Approve handles POST /v1/projects/:id/approve — the creator converts a
// pending request into membership.
func (h *MembershipHandler) Approve(c *gin.Context) {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Only the creator approves.
	callerID := middleware.GetUserID(c)
	p, err := h.service.GetProject(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if p.CreatorID != callerID {
		respondError(c, h.logger, errs.Unauthorized("you are not the creator of this project"))
		return
	}

	if err := h.service.ApproveJoinRequest(c.Request.Context(), projectID, req.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
