package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/openai"
)

type TTSHandler struct {
	log *logger.Logger
	ai  openai.Client
}

func NewTTSHandler(log *logger.Logger, ai openai.Client) *TTSHandler {
	return &TTSHandler{
		log: log.With("handler", "TTSHandler"),
		ai:  ai,
	}
}

// POST /tts
// Speech proxy: the provider key stays server-side.
func (h *TTSHandler) Speak(c *gin.Context) {
	var req struct {
		Text         string  `json:"text"`
		Voice        string  `json:"voice"`
		Model        string  `json:"model"`
		Speed        float64 `json:"speed"`
		Instructions string  `json:"instructions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.Text == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("missing text"))
		return
	}
	if req.Voice == "" {
		req.Voice = "sage"
	}
	if req.Speed == 0 {
		req.Speed = 1.0
	}

	audio, err := h.ai.Speech(c.Request.Context(), openai.SpeechRequest{
		Text:         req.Text,
		Voice:        req.Voice,
		Model:        req.Model,
		Speed:        req.Speed,
		Instructions: req.Instructions,
	})
	if err != nil {
		h.log.Error("tts upstream failed", "error", err)
		RespondError(c, http.StatusBadGateway, "tts_upstream_error", err)
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", audio)
}
