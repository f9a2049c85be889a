package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yungbote/brains-backend/internal/platform/logger"
)

const voiceUpstreamURL = "wss://api.x.ai/v1/realtime"

type VoiceHandler struct {
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewVoiceHandler(log *logger.Logger) *VoiceHandler {
	return &VoiceHandler{
		log: log.With("handler", "VoiceHandler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The token gate below is the access control; origin checks
			// would break native clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func wsSendError(conn *websocket.Conn, msg string) {
	_ = conn.WriteJSON(map[string]string{"type": "error", "error": msg})
}

// Relay bridges the client to the voice realtime API. The upstream key never
// leaves the server; the client speaks realtime-event JSON in both
// directions.
//
// GET /ws/voice?token=&voice=&instructions=&turn=&in_rate=&out_rate=
func (h *VoiceHandler) Relay(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if expected := os.Getenv("VOICE_WS_TOKEN"); expected != "" {
		if c.Query("token") != expected {
			wsSendError(conn, "unauthorized")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
				time.Now().Add(time.Second))
			return
		}
	}

	apiKey := os.Getenv("XAI_API_KEY")
	if apiKey == "" {
		wsSendError(conn, "XAI_API_KEY missing on server")
		return
	}

	voice := c.DefaultQuery("voice", "Ara")
	instructions := c.DefaultQuery("instructions", "You are a helpful assistant.")
	turn := c.DefaultQuery("turn", "none")
	inRate, _ := strconv.Atoi(c.DefaultQuery("in_rate", "24000"))
	outRate, _ := strconv.Atoi(c.DefaultQuery("out_rate", "24000"))

	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
	}
	upstream, _, err := dialer.DialContext(c.Request.Context(), voiceUpstreamURL,
		http.Header{"Authorization": []string{"Bearer " + apiKey}})
	if err != nil {
		h.log.Error("voice upstream dial failed", "error", err)
		wsSendError(conn, err.Error())
		return
	}
	defer upstream.Close()

	var turnDetection map[string]any
	if turn == "server_vad" {
		turnDetection = map[string]any{"type": "server_vad"}
	} else {
		turnDetection = map[string]any{"type": nil}
	}
	sessionUpdate := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions":   instructions,
			"voice":          voice,
			"turn_detection": turnDetection,
			"audio": map[string]any{
				"input":  map[string]any{"format": map[string]any{"type": "audio/pcm", "rate": inRate}},
				"output": map[string]any{"format": map[string]any{"type": "audio/pcm", "rate": outRate}},
			},
			"input_audio_transcription": map[string]any{"model": "default"},
		},
	}
	if err := upstream.WriteJSON(sessionUpdate); err != nil {
		wsSendError(conn, err.Error())
		return
	}

	done := make(chan struct{}, 2)

	// client → upstream: JSON text frames only, forwarded verbatim.
	go func() {
		defer func() { done <- struct{}{} }()
		for {
			msgType, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage || !json.Valid(raw) {
				wsSendError(conn, "client sent non-JSON message (expected realtime event JSON)")
				continue
			}
			if err := upstream.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}()

	// upstream → client: server events forwarded unchanged.
	go func() {
		defer func() { done <- struct{}{} }()
		for {
			_, raw, err := upstream.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}()

	<-done
}
