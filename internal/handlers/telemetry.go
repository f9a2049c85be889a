package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/brains-backend/internal/middleware"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/telemetry"
)

type TelemetryHandler struct {
	log          *logger.Logger
	telemetrySvc telemetry.Service
}

func NewTelemetryHandler(log *logger.Logger, tsvc telemetry.Service) *TelemetryHandler {
	return &TelemetryHandler{
		log:          log.With("handler", "TelemetryHandler"),
		telemetrySvc: tsvc,
	}
}

// actorUserID scopes reads and writes to the acting user; the header is the
// only source so clients cannot spoof each other via the body.
func actorUserID(c *gin.Context) string {
	return c.GetHeader("x-vs-actor-user-id")
}

// POST /telemetry/event
// { events: [...] } or a single event object.
func (h *TelemetryHandler) Event(c *gin.Context) {
	var req struct {
		Events []telemetry.EventInput `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	out, err := h.telemetrySvc.Ingest(c.Request.Context(), req.Events, actorUserID(c), middleware.RequestID(c))
	if err != nil {
		h.log.Error("telemetry ingest failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "ingest_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"status":   "ok",
		"accepted": out.Accepted,
		"rejected": out.Rejected,
		"errors":   out.Errors,
	})
}

// GET /metrics/timeseries?metric_key=&subject_type=&subject_id=&from=&to=&bucket=&target_model_id=
func (h *TelemetryHandler) Timeseries(c *gin.Context) {
	metricKey := c.Query("metric_key")
	subjectType := c.Query("subject_type")
	subjectID := c.Query("subject_id")
	if metricKey == "" || subjectType == "" || subjectID == "" {
		RespondError(c, http.StatusBadRequest, "bad_request",
			fmt.Errorf("metric_key, subject_type and subject_id are required"))
		return
	}

	from, ok := telemetry.ParseTimestamp(c.Query("from"))
	if !ok {
		from = time.Now().UTC().AddDate(0, 0, -30)
	}
	to, ok := telemetry.ParseTimestamp(c.Query("to"))
	if !ok {
		to = time.Now().UTC()
	}

	out, err := h.telemetrySvc.Timeseries(c.Request.Context(), telemetry.TimeseriesRequest{
		MetricKey:     metricKey,
		SubjectType:   subjectType,
		SubjectID:     subjectID,
		From:          from,
		To:            to,
		Bucket:        c.DefaultQuery("bucket", "day"),
		TargetModelID: c.Query("target_model_id"),
		ActorUserID:   actorUserID(c),
	})
	if err != nil {
		if isBadMetricRequest(err) {
			RespondError(c, http.StatusBadRequest, "bad_request", err)
			return
		}
		h.log.Error("timeseries query failed", "metric_key", metricKey, "error", err)
		RespondError(c, http.StatusInternalServerError, "timeseries_failed", err)
		return
	}
	RespondOK(c, out)
}

func isBadMetricRequest(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown metric_key") ||
		strings.HasPrefix(msg, "bucket must be")
}
