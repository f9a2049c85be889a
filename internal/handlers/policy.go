package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/policy"
)

type PolicyHandler struct {
	log       *logger.Logger
	policySvc policy.Service
}

func NewPolicyHandler(log *logger.Logger, psvc policy.Service) *PolicyHandler {
	return &PolicyHandler{
		log:       log.With("handler", "PolicyHandler"),
		policySvc: psvc,
	}
}

// GET /vantage/rag_policy?vantage_id=
// Shows the env defaults, the stored override, and the effective merge.
func (h *PolicyHandler) Get(c *gin.Context) {
	vid := vantageParam(c)

	envPrimary := envutil.CSV("RAG_CORPUS_PRIMARY")
	envFallback := envutil.CSV("RAG_CORPUS_FALLBACK")

	dbPolicy, found, err := h.policySvc.Get(c.Request.Context(), vid)
	if err != nil {
		h.log.Error("rag policy read failed", "vantage_id", vid, "error", err)
		RespondError(c, http.StatusInternalServerError, "policy_read_failed", err)
		return
	}
	effective, err := h.policySvc.Effective(c.Request.Context(), vid)
	if err != nil {
		h.log.Error("rag policy merge failed", "vantage_id", vid, "error", err)
		RespondError(c, http.StatusInternalServerError, "policy_read_failed", err)
		return
	}

	var dbOut any = map[string]any{}
	if found && dbPolicy != nil {
		dbOut = dbPolicy
	}
	RespondOK(c, gin.H{
		"status":     "ok",
		"vantage_id": vid,
		"env": gin.H{
			"corpus_primary":  envPrimary,
			"corpus_fallback": envFallback,
		},
		"db_policy":        dbOut,
		"effective_policy": effective,
	})
}

// POST /vantage/rag_policy?vantage_id=
// { policy: { corpus_primary[], corpus_fallback[], ... } }
func (h *PolicyHandler) Upsert(c *gin.Context) {
	vid := vantageParam(c)

	var req struct {
		Policy json.RawMessage `json:"policy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	var pol policy.Policy
	if len(req.Policy) > 0 {
		if err := json.Unmarshal(req.Policy, &pol); err != nil {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
	}

	if err := h.policySvc.Upsert(c.Request.Context(), vid, &pol); err != nil {
		h.log.Error("rag policy upsert failed", "vantage_id", vid, "error", err)
		RespondError(c, http.StatusInternalServerError, "policy_upsert_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "ok", "vantage_id": vid, "policy": &pol})
}
