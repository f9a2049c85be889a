// Package telemetry is the evaluation sink: idempotent event ingestion and
// bucketed metric aggregation with a condition-phase overlay.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

const responseEventFilter = "event_type IN ('probe.response','chat.response')"

// metricDefs is the whitelist of aggregatable metrics. The expressions run
// against the JSONB payload column; anything outside this map is rejected.
var metricDefs = map[string]string{
	"probe_overall": "NULLIF(payload->'scores'->>'overall','')::double precision",
	"style_drift":   "NULLIF(payload->'scores'->>'style_drift','')::double precision",
	"hallucination_rate": "CASE WHEN (payload->'flags'->>'hallucination')='true' THEN 1.0 " +
		"WHEN (payload->'flags'->>'hallucination')='false' THEN 0.0 ELSE NULL END",
	"concession_rate": "CASE WHEN (payload->'flags'->>'concession')='true' THEN 1.0 " +
		"WHEN (payload->'flags'->>'concession')='false' THEN 0.0 ELSE NULL END",
	"clarification_rate": "CASE WHEN (payload->'flags'->>'clarification')='true' THEN 1.0 " +
		"WHEN (payload->'flags'->>'clarification')='false' THEN 0.0 ELSE NULL END",
	"refusal_rate": "CASE WHEN (payload->'flags'->>'refusal')='true' THEN 1.0 " +
		"WHEN (payload->'flags'->>'refusal')='false' THEN 0.0 ELSE NULL END",
}

// EventInput is one event in a POST /telemetry/event batch.
type EventInput struct {
	EventID            string         `json:"event_id"`
	EventType          string         `json:"event_type"`
	SubjectType        string         `json:"subject_type"`
	SubjectID          string         `json:"subject_id"`
	TargetModelID      string         `json:"target_model_id"`
	TargetModelVersion string         `json:"target_model_version"`
	JudgeModelID       string         `json:"judge_model_id"`
	JudgeModelVersion  string         `json:"judge_model_version"`
	VantageID          string         `json:"vantage_id"`
	ConditionID        string         `json:"condition_id"`
	ThreadID           string         `json:"thread_id"`
	TurnID             string         `json:"turn_id"`
	Payload            map[string]any `json:"payload"`
	OccurredAt         string         `json:"occurred_at"`
	CreatedAt          string         `json:"created_at"`
}

type IngestError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type IngestResult struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors"`
}

type TimeseriesRequest struct {
	MetricKey     string
	SubjectType   string
	SubjectID     string
	From          time.Time
	To            time.Time
	Bucket        string
	TargetModelID string
	ActorUserID   string
}

type TimeseriesPointOut struct {
	T    string         `json:"t"`
	V    *float64       `json:"v"`
	N    int64          `json:"n"`
	Meta map[string]any `json:"meta"`
}

type Phase struct {
	ConditionID string  `json:"condition_id"`
	Label       string  `json:"label"`
	StartTS     string  `json:"start_ts"`
	EndTS       *string `json:"end_ts"`
}

type TimeseriesResult struct {
	MetricKey string               `json:"metric_key"`
	Subject   map[string]string    `json:"subject"`
	Points    []TimeseriesPointOut `json:"points"`
	Phases    []Phase              `json:"phases"`
}

type Service interface {
	// Ingest validates and writes a batch; events that fail validation are
	// reported per index, never the whole batch.
	Ingest(ctx context.Context, events []EventInput, actorUserID, requestID string) (*IngestResult, error)
	Timeseries(ctx context.Context, req TimeseriesRequest) (*TimeseriesResult, error)
}

type service struct {
	events repos.TelemetryRepo
	log    *logger.Logger
}

func NewService(events repos.TelemetryRepo, baseLog *logger.Logger) Service {
	return &service{
		events: events,
		log:    baseLog.With("service", "TelemetryService"),
	}
}

// ParseTimestamp accepts RFC3339 with or without a trailing Z; naive
// timestamps are taken as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func (s *service) Ingest(ctx context.Context, events []EventInput, actorUserID, requestID string) (*IngestResult, error) {
	out := &IngestResult{Errors: []IngestError{}}
	actorUserID = strings.TrimSpace(actorUserID)
	if len(actorUserID) > 128 {
		actorUserID = actorUserID[:128]
	}

	for i, e := range events {
		eventID := strings.TrimSpace(e.EventID)
		if _, err := uuid.Parse(eventID); err != nil {
			out.Rejected++
			out.Errors = append(out.Errors, IngestError{Index: i, Reason: "invalid/missing event_id (uuid)"})
			continue
		}

		eventType := strings.TrimSpace(e.EventType)
		subjectType := strings.TrimSpace(e.SubjectType)
		subjectID := strings.TrimSpace(e.SubjectID)
		if eventType == "" || subjectType == "" || subjectID == "" {
			out.Rejected++
			out.Errors = append(out.Errors, IngestError{Index: i, Reason: "missing event_type/subject_type/subject_id"})
			continue
		}

		occurredAt, ok := ParseTimestamp(e.OccurredAt)
		if !ok {
			occurredAt, ok = ParseTimestamp(e.CreatedAt)
		}
		if !ok {
			occurredAt = time.Now().UTC()
		}

		payload := e.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		if requestID != "" {
			if _, exists := payload["request_id"]; !exists {
				payload["request_id"] = requestID
			}
		}
		rawPayload, err := json.Marshal(payload)
		if err != nil {
			out.Rejected++
			out.Errors = append(out.Errors, IngestError{Index: i, Reason: "payload not serializable"})
			continue
		}

		_, err = s.events.Insert(ctx, nil, &types.TelemetryEvent{
			EventID:            eventID,
			EventType:          eventType,
			SubjectType:        subjectType,
			SubjectID:          subjectID,
			TargetModelID:      strings.TrimSpace(e.TargetModelID),
			TargetModelVersion: strings.TrimSpace(e.TargetModelVersion),
			JudgeModelID:       strings.TrimSpace(e.JudgeModelID),
			JudgeModelVersion:  strings.TrimSpace(e.JudgeModelVersion),
			VantageID:          strings.TrimSpace(e.VantageID),
			ConditionID:        strings.TrimSpace(e.ConditionID),
			ThreadID:           strings.TrimSpace(e.ThreadID),
			TurnID:             strings.TrimSpace(e.TurnID),
			ActorUserID:        actorUserID,
			Payload:            rawPayload,
			OccurredAt:         occurredAt,
		})
		if err != nil {
			return nil, err
		}
		out.Accepted++
	}
	return out, nil
}

func (s *service) Timeseries(ctx context.Context, req TimeseriesRequest) (*TimeseriesResult, error) {
	bucket := strings.ToLower(strings.TrimSpace(req.Bucket))
	if bucket == "" {
		bucket = "day"
	}
	if bucket != "hour" && bucket != "day" {
		return nil, fmt.Errorf("bucket must be 'hour' or 'day'")
	}
	expr, ok := metricDefs[req.MetricKey]
	if !ok {
		return nil, fmt.Errorf("unknown metric_key %q", req.MetricKey)
	}

	actorUserID := strings.TrimSpace(req.ActorUserID)
	if len(actorUserID) > 128 {
		actorUserID = actorUserID[:128]
	}

	points, err := s.events.Timeseries(ctx, nil, repos.TimeseriesFilter{
		SubjectType:   req.SubjectType,
		SubjectID:     req.SubjectID,
		ValueExpr:     expr,
		EventFilter:   responseEventFilter,
		Bucket:        bucket,
		From:          req.From,
		To:            req.To,
		TargetModelID: strings.TrimSpace(req.TargetModelID),
		ActorUserID:   actorUserID,
	})
	if err != nil {
		return nil, err
	}

	out := &TimeseriesResult{
		MetricKey: req.MetricKey,
		Subject:   map[string]string{"subject_type": req.SubjectType, "subject_id": req.SubjectID},
		Points:    make([]TimeseriesPointOut, 0, len(points)),
		Phases:    []Phase{},
	}
	for _, p := range points {
		out.Points = append(out.Points, TimeseriesPointOut{
			T:    p.Bucket.UTC().Format(time.RFC3339),
			V:    p.Value,
			N:    p.Count,
			Meta: map[string]any{"method": "v0_jsonb_expr"},
		})
	}

	sets, err := s.events.ConditionSets(ctx, nil, req.SubjectType, req.SubjectID, actorUserID, req.From, req.To)
	if err != nil {
		s.log.Warn("condition phase lookup failed", "error", err)
		return out, nil
	}
	for idx, row := range sets {
		label := row.ConditionID
		var payload map[string]any
		if err := json.Unmarshal(row.Payload, &payload); err == nil {
			if v, _ := payload["label"].(string); v != "" {
				label = v
			} else if v, _ := payload["phase"].(string); v != "" {
				label = v
			}
		}
		var end *string
		if idx+1 < len(sets) {
			ts := sets[idx+1].OccurredAt.UTC().Format(time.RFC3339)
			end = &ts
		}
		out.Phases = append(out.Phases, Phase{
			ConditionID: row.ConditionID,
			Label:       label,
			StartTS:     row.OccurredAt.UTC().Format(time.RFC3339),
			EndTS:       end,
		})
	}
	return out, nil
}
