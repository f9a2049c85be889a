package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/profiles"
)

type ProfilesHandler struct {
	log        *logger.Logger
	profileSvc profiles.Service
}

func NewProfilesHandler(log *logger.Logger, psvc profiles.Service) *ProfilesHandler {
	return &ProfilesHandler{
		log:        log.With("handler", "ProfilesHandler"),
		profileSvc: psvc,
	}
}

// POST /profiles/upsert?vantage_id=
func (h *ProfilesHandler) Upsert(c *gin.Context) {
	var req profiles.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	out, err := h.profileSvc.Upsert(c.Request.Context(), vantageParam(c), req)
	if err != nil {
		if strings.Contains(err.Error(), "missing user_id") {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("profile upsert failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "profile_upsert_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "ok", "profile": out})
}

// GET /profiles/:user_id/default?vantage_id=
func (h *ProfilesHandler) GetDefault(c *gin.Context) {
	out, err := h.profileSvc.GetDefault(c.Request.Context(), vantageParam(c), c.Param("user_id"))
	if err != nil {
		if strings.Contains(err.Error(), "missing user_id") {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("profile read failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "profile_read_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "ok", "profile": out})
}
