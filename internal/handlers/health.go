package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
)

type HealthHandler struct {
	log *logger.Logger
	db  *gorm.DB
}

func NewHealthHandler(log *logger.Logger, db *gorm.DB) *HealthHandler {
	return &HealthHandler{
		log: log.With("handler", "HealthHandler"),
		db:  db,
	}
}

// GET /healthz — liveness plus a config snapshot for quick diagnosis.
func (h *HealthHandler) Healthz(c *gin.Context) {
	RespondOK(c, gin.H{
		"status":             "ok",
		"time":               float64(time.Now().UnixNano()) / 1e9,
		"default_collection": envutil.String("RETRIEVAL_COLLECTION", "memory_raw"),
		"embed_model":        envutil.String("EMBED_MODEL", "text-embedding-3-small"),
		"qdrant_url":         envutil.String("QDRANT_URL", "http://localhost:6333"),
	})
}

// GET /readyz — readiness is Postgres connectivity only.
func (h *HealthHandler) Readyz(c *gin.Context) {
	var one int
	if err := h.db.WithContext(c.Request.Context()).Raw("select 1").Scan(&one).Error; err != nil || one != 1 {
		detail := "postgres select 1 failed"
		if err != nil {
			detail = err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "postgres": detail})
		return
	}
	RespondOK(c, gin.H{"ok": true, "postgres": true})
}
