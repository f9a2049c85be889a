package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/brains-backend/internal/memlog"
	"github.com/yungbote/brains-backend/internal/middleware"
	"github.com/yungbote/brains-backend/internal/platform/logger"
)

type MemoryHandler struct {
	log    *logger.Logger
	memSvc memlog.Service
}

func NewMemoryHandler(log *logger.Logger, msvc memlog.Service) *MemoryHandler {
	return &MemoryHandler{
		log:    log.With("handler", "MemoryHandler"),
		memSvc: msvc,
	}
}

// POST /log
func (h *MemoryHandler) Log(c *gin.Context) {
	var req memlog.LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	req.RequestID = middleware.RequestID(c)

	resp, err := h.memSvc.Log(c.Request.Context(), req)
	if err != nil {
		h.log.Error("log failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "log_failed", err)
		return
	}
	RespondOK(c, resp)
}

// POST /retrieve
// { query, top_k?, score_threshold?, collection? }
func (h *MemoryHandler) Retrieve(c *gin.Context) {
	var req struct {
		Query          string   `json:"query"`
		TopK           int      `json:"top_k"`
		ScoreThreshold *float64 `json:"score_threshold"`
		Collection     string   `json:"collection"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("missing query"))
		return
	}

	hits, err := h.memSvc.Retrieve(c.Request.Context(), req.Query, req.Collection, req.TopK, req.ScoreThreshold)
	if err != nil {
		h.log.Error("retrieve failed", "error", err)
		RespondError(c, http.StatusBadGateway, "retrieve_failed", err)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = len(hits)
	}
	RespondOK(c, gin.H{"status": "ok", "top_k": topK, "results": hits})
}

// POST /retrieve_memory
// { query, user_id?, vantage_id?, top_k?, score_threshold? }
func (h *MemoryHandler) RetrieveMemory(c *gin.Context) {
	var req struct {
		Query          string   `json:"query"`
		UserID         string   `json:"user_id"`
		VantageID      string   `json:"vantage_id"`
		TopK           int      `json:"top_k"`
		ScoreThreshold *float64 `json:"score_threshold"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("missing query"))
		return
	}

	hits, err := h.memSvc.RetrieveMemory(c.Request.Context(), req.Query, req.UserID, req.VantageID, req.TopK, req.ScoreThreshold)
	if err != nil {
		h.log.Error("retrieve_memory failed", "error", err)
		RespondError(c, http.StatusBadGateway, "retrieve_failed", err)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}
	RespondOK(c, gin.H{"status": "ok", "top_k": topK, "results": hits})
}

// GET /cards/:user_id?kinds=a,b&limit=&vantage_id=
func (h *MemoryHandler) ListCards(c *gin.Context) {
	userID := c.Param("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var kinds []string
	if raw := strings.TrimSpace(c.Query("kinds")); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, k)
			}
		}
	}

	items, err := h.memSvc.ListCards(c.Request.Context(), userID, vantageParam(c), kinds, limit)
	if err != nil {
		h.log.Error("card list failed", "user_id", userID, "error", err)
		RespondError(c, http.StatusInternalServerError, "card_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "ok", "user_id": userID, "count": len(items), "items": items})
}

// POST /cards/:user_id
func (h *MemoryHandler) UpsertCard(c *gin.Context) {
	userID := c.Param("user_id")
	var req memlog.CardUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	out, err := h.memSvc.UpsertCard(c.Request.Context(), userID, vantageParam(c), req)
	if err != nil {
		var conflict *memlog.ConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, gin.H{
				"status":             "conflict",
				"detail":             "updated_at_mismatch",
				"card_id":            conflict.CardID,
				"current_updated_at": conflict.CurrentUpdatedAt,
			})
			return
		}
		if strings.Contains(err.Error(), "missing kind") {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("card upsert failed", "user_id", userID, "error", err)
		RespondError(c, http.StatusInternalServerError, "card_upsert_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"status":     "ok",
		"user_id":    out.UserID,
		"vantage_id": out.VantageID,
		"card_id":    out.CardID,
		"kind":       out.Kind,
		"topic_key":  out.TopicKey,
		"created_at": out.CreatedAt,
		"updated_at": out.UpdatedAt,
	})
}

// DELETE /cards/:user_id/:card_id
func (h *MemoryHandler) DeleteCard(c *gin.Context) {
	userID := c.Param("user_id")
	cardID := c.Param("card_id")

	deleted, err := h.memSvc.DeleteCard(c.Request.Context(), userID, vantageParam(c), cardID)
	switch {
	case errors.Is(err, memlog.ErrCardNotFound):
		RespondOK(c, gin.H{"status": "ok", "note": "not_found"})
	case errors.Is(err, memlog.ErrOwnerMismatch):
		RespondError(c, http.StatusBadRequest, "user_mismatch", err)
	case errors.Is(err, memlog.ErrSingletonLocked):
		c.JSON(http.StatusForbidden, gin.H{
			"status":  "forbidden",
			"detail":  "singleton_locked",
			"card_id": cardID,
		})
	case err != nil:
		h.log.Error("card delete failed", "card_id", cardID, "error", err)
		RespondError(c, http.StatusInternalServerError, "card_delete_failed", err)
	default:
		RespondOK(c, gin.H{"status": "ok", "deleted": deleted})
	}
}

// GET /user/:user_id/export?limit=
func (h *MemoryHandler) ExportUserData(c *gin.Context) {
	userID := c.Param("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20000"))
	if limit < 1 {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("limit must be >= 1"))
		return
	}

	bundle, err := h.memSvc.Export(c.Request.Context(), userID, limit)
	if err != nil {
		if strings.Contains(err.Error(), "limit too large") {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("export failed", "user_id", userID, "error", err)
		RespondError(c, http.StatusInternalServerError, "export_failed", err)
		return
	}

	filename := fmt.Sprintf("brains_export_%s.json", bundle.UserID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.JSON(http.StatusOK, bundle)
}

// DELETE /user/:user_id/data
func (h *MemoryHandler) DeleteUserData(c *gin.Context) {
	userID := c.Param("user_id")
	out, err := h.memSvc.DeleteUserData(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("user data delete failed", "user_id", userID, "error", err)
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	RespondOK(c, out)
}

// DELETE /user/:user_id/recent?minutes=
func (h *MemoryHandler) DeleteRecentUserData(c *gin.Context) {
	userID := c.Param("user_id")
	minutes, _ := strconv.Atoi(c.DefaultQuery("minutes", "60"))

	out, err := h.memSvc.DeleteRecent(c.Request.Context(), userID, minutes)
	if err != nil {
		if strings.Contains(err.Error(), "minutes") {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("recent delete failed", "user_id", userID, "error", err)
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	RespondOK(c, out)
}
