package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/brains-backend/internal/chat"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
)

type ChatHandler struct {
	log     *logger.Logger
	chatSvc chat.Service
}

func NewChatHandler(log *logger.Logger, csvc chat.Service) *ChatHandler {
	return &ChatHandler{
		log:     log.With("handler", "ChatHandler"),
		chatSvc: csvc,
	}
}

func vantageParam(c *gin.Context) string {
	vid := c.Query("vantage_id")
	if vid == "" {
		vid = "default"
	}
	return vid
}

// vantageEndpointsEnabled gates the experimental surface: disabled means the
// routes pretend not to exist.
func vantageEndpointsEnabled() bool {
	return envutil.Bool("ENABLE_VANTAGE_ENDPOINTS", false)
}

// POST /rag/query
func (h *ChatHandler) RagQuery(c *gin.Context) {
	var req chat.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	req.VantageID = vantageParam(c)

	resp, err := h.chatSvc.Query(c.Request.Context(), req)
	if err != nil {
		h.log.Error("rag query failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "query_failed", err)
		return
	}
	RespondOK(c, resp)
}

// POST /rag/feedback
func (h *ChatHandler) RagFeedback(c *gin.Context) {
	var req chat.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	req.VantageID = vantageParam(c)

	resp, err := h.chatSvc.Feedback(c.Request.Context(), req)
	if err != nil {
		h.log.Error("rag feedback failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "feedback_failed", err)
		return
	}
	RespondOK(c, resp)
}

// POST /vantage/query
func (h *ChatHandler) VantageQuery(c *gin.Context) {
	if !vantageEndpointsEnabled() {
		c.Status(http.StatusNotFound)
		return
	}
	var req chat.VantageQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.VantageID == "" {
		req.VantageID = vantageParam(c)
	}

	resp, err := h.chatSvc.VantageQuery(c.Request.Context(), req)
	if err != nil {
		h.log.Error("vantage query failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "query_failed", err)
		return
	}
	RespondOK(c, resp)
}

// POST /vantage/feedback
func (h *ChatHandler) VantageFeedback(c *gin.Context) {
	if !vantageEndpointsEnabled() {
		c.Status(http.StatusNotFound)
		return
	}
	var req chat.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.VantageID == "" {
		req.VantageID = vantageParam(c)
	}

	resp, err := h.chatSvc.Feedback(c.Request.Context(), req)
	if err != nil {
		h.log.Error("vantage feedback failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "feedback_failed", err)
		return
	}
	RespondOK(c, resp)
}

// POST /memory_feedback
// { user_id, memory_id, signal, tag? }
func (h *ChatHandler) MemoryFeedback(c *gin.Context) {
	var req struct {
		UserID   string `json:"user_id"`
		MemoryID string `json:"memory_id"`
		Signal   string `json:"signal"`
		Tag      string `json:"tag"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.MemoryID == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("missing memory_id"))
		return
	}

	updated, err := h.chatSvc.ApplyMemoryFeedback(c.Request.Context(), req.UserID, req.MemoryID, req.Signal, req.Tag)
	if err != nil {
		h.log.Error("memory feedback failed", "memory_id", req.MemoryID, "error", err)
		RespondError(c, http.StatusInternalServerError, "feedback_failed", err)
		return
	}
	if !updated {
		RespondOK(c, gin.H{"status": "ok", "note": "point_not_found_or_mismatch"})
		return
	}
	RespondOK(c, gin.H{"status": "ok", "memory_id": req.MemoryID})
}

// GET /temporal/:user_id
func (h *ChatHandler) Temporal(c *gin.Context) {
	userID := c.Param("user_id")
	info := h.chatSvc.Temporal(c.Request.Context(), userID)
	RespondOK(c, gin.H{
		"user_id":                         userID,
		"seconds_since_last_user_message": info.SecondsSinceLastUserMessage,
		"bucket":                          info.Bucket,
	})
}
