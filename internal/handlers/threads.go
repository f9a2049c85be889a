package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/threads"
)

type ThreadsHandler struct {
	log       *logger.Logger
	threadSvc threads.Service
}

func NewThreadsHandler(log *logger.Logger, tsvc threads.Service) *ThreadsHandler {
	return &ThreadsHandler{
		log:       log.With("handler", "ThreadsHandler"),
		threadSvc: tsvc,
	}
}

// POST /threads/new
// { user_id, title?, vantage_id? }
func (h *ThreadsHandler) Create(c *gin.Context) {
	var req struct {
		UserID    string `json:"user_id"`
		Title     string `json:"title"`
		VantageID string `json:"vantage_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	out, err := h.threadSvc.Create(c.Request.Context(), req.UserID, req.Title, req.VantageID)
	if err != nil {
		h.log.Error("thread create failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "thread_create_failed", err)
		return
	}
	RespondOK(c, out)
}

// GET /threads/list/:user_id
func (h *ThreadsHandler) List(c *gin.Context) {
	out, err := h.threadSvc.List(c.Request.Context(), c.Param("user_id"), vantageParam(c))
	if err != nil {
		h.log.Error("thread list failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "thread_list_failed", err)
		return
	}
	RespondOK(c, out)
}

// GET /threads/:thread_id/messages?limit=
func (h *ThreadsHandler) Messages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	out, err := h.threadSvc.Messages(c.Request.Context(), c.Param("thread_id"), limit)
	if err != nil {
		if errors.Is(err, threads.ErrInvalidThreadID) {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("thread messages failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "thread_messages_failed", err)
		return
	}
	RespondOK(c, out)
}

// POST /threads/:thread_id/rename
// { title }
func (h *ThreadsHandler) Rename(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	threadID := c.Param("thread_id")
	title, err := h.threadSvc.Rename(c.Request.Context(), threadID, req.Title)
	if err != nil {
		if errors.Is(err, threads.ErrInvalidThreadID) {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("thread rename failed", "thread_id", threadID, "error", err)
		RespondError(c, http.StatusInternalServerError, "thread_rename_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "ok", "thread_id": threadID, "title": title})
}

// POST /threads/:thread_id/archive
func (h *ThreadsHandler) Archive(c *gin.Context) {
	threadID := c.Param("thread_id")
	if err := h.threadSvc.Archive(c.Request.Context(), threadID); err != nil {
		if errors.Is(err, threads.ErrInvalidThreadID) {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("thread archive failed", "thread_id", threadID, "error", err)
		RespondError(c, http.StatusInternalServerError, "thread_archive_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "ok", "thread_id": threadID, "archived": true})
}

// DELETE /threads/:thread_id
func (h *ThreadsHandler) Delete(c *gin.Context) {
	threadID := c.Param("thread_id")
	if err := h.threadSvc.Delete(c.Request.Context(), threadID); err != nil {
		if errors.Is(err, threads.ErrInvalidThreadID) {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("thread delete failed", "thread_id", threadID, "error", err)
		RespondError(c, http.StatusInternalServerError, "thread_delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "ok", "thread_id": threadID, "deleted": true})
}
