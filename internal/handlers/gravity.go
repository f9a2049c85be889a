package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/brains-backend/internal/gravity"
	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/logger"
)

type GravityHandler struct {
	log        *logger.Logger
	gravitySvc gravity.Service
	ids        identity.Service
}

func NewGravityHandler(log *logger.Logger, gsvc gravity.Service, ids identity.Service) *GravityHandler {
	return &GravityHandler{
		log:        log.With("handler", "GravityHandler"),
		gravitySvc: gsvc,
		ids:        ids,
	}
}

func (h *GravityHandler) canonical(c *gin.Context, aliasUID string) (string, string) {
	alias := strings.TrimSpace(aliasUID)
	if alias == "" {
		alias = "anon"
	}
	return h.ids.Canonical(c.Request.Context(), vantageParam(c), alias), alias
}

// POST /gravity/rebuild
// { user_id }
func (h *GravityHandler) RebuildGravity(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	userID, alias := h.canonical(c, req.UserID)

	weights, err := h.gravitySvc.RebuildGravity(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("gravity rebuild failed", "user_id", userID, "error", err)
		RespondError(c, http.StatusInternalServerError, "rebuild_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"status":        "ok",
		"user_id":       userID,
		"alias_user_id": alias,
		"weights":       weights,
		"note":          "gravity_profile updated",
	})
}

// POST /vb_desire/rebuild
// { user_id }
func (h *GravityHandler) RebuildDesire(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	userID, alias := h.canonical(c, req.UserID)

	profile, err := h.gravitySvc.RebuildDesireProfile(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("desire rebuild failed", "user_id", userID, "error", err)
		RespondError(c, http.StatusInternalServerError, "rebuild_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"status":        "ok",
		"user_id":       userID,
		"alias_user_id": alias,
		"card":          profile,
		"note":          "vb_desire_profile updated",
	})
}
