package telemetry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

type fakeTelemetryRepo struct {
	inserted   []*types.TelemetryEvent
	points     []repos.TimeseriesPoint
	conditions []*types.TelemetryEvent
	lastFilter repos.TimeseriesFilter
}

func (f *fakeTelemetryRepo) Insert(_ context.Context, _ *gorm.DB, e *types.TelemetryEvent) (bool, error) {
	f.inserted = append(f.inserted, e)
	return true, nil
}

func (f *fakeTelemetryRepo) ListBySubject(context.Context, *gorm.DB, string, string, int) ([]*types.TelemetryEvent, error) {
	return nil, nil
}

func (f *fakeTelemetryRepo) Timeseries(_ context.Context, _ *gorm.DB, filter repos.TimeseriesFilter) ([]repos.TimeseriesPoint, error) {
	f.lastFilter = filter
	return f.points, nil
}

func (f *fakeTelemetryRepo) ConditionSets(context.Context, *gorm.DB, string, string, string, time.Time, time.Time) ([]*types.TelemetryEvent, error) {
	return f.conditions, nil
}

func (f *fakeTelemetryRepo) DeleteByActor(context.Context, *gorm.DB, string) (int64, error) {
	return 0, nil
}

func newTestService(t *testing.T) (Service, *fakeTelemetryRepo) {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	repo := &fakeTelemetryRepo{}
	return NewService(repo, log), repo
}

func TestParseTimestamp(t *testing.T) {
	for _, raw := range []string{
		"2026-08-24T10:00:00Z",
		"2026-08-24T10:00:00.123456Z",
		"2026-08-24T10:00:00",
		"2026-08-24",
	} {
		ts, ok := ParseTimestamp(raw)
		require.True(t, ok, "ParseTimestamp(%q)", raw)
		require.Equal(t, time.UTC, ts.Location())
	}

	for _, raw := range []string{"", "  ", "not a time", "24/08/2026"} {
		_, ok := ParseTimestamp(raw)
		require.False(t, ok, "ParseTimestamp(%q)", raw)
	}
}

func TestIngestValidatesPerEvent(t *testing.T) {
	svc, repo := newTestService(t)

	events := []EventInput{
		{EventID: "not-a-uuid", EventType: "probe.response", SubjectType: "vantage", SubjectID: "default"},
		{EventID: "6a0f0cde-51d5-4f34-9ad1-0c8e6b1f0001", EventType: "", SubjectType: "vantage", SubjectID: "default"},
		{
			EventID:     "6a0f0cde-51d5-4f34-9ad1-0c8e6b1f0002",
			EventType:   "probe.response",
			SubjectType: "vantage",
			SubjectID:   "default",
			OccurredAt:  "2026-08-24T10:00:00Z",
			Payload:     map[string]any{"scores": map[string]any{"overall": 0.9}},
		},
	}

	out, err := svc.Ingest(context.Background(), events, "actor-1", "req-1")
	require.NoError(t, err)
	require.Equal(t, 1, out.Accepted)
	require.Equal(t, 2, out.Rejected)
	require.Len(t, out.Errors, 2)
	require.Equal(t, 0, out.Errors[0].Index)
	require.Contains(t, out.Errors[0].Reason, "event_id")
	require.Equal(t, 1, out.Errors[1].Index)
	require.Contains(t, out.Errors[1].Reason, "event_type")

	require.Len(t, repo.inserted, 1)
	row := repo.inserted[0]
	require.Equal(t, "actor-1", row.ActorUserID)
	require.Equal(t, time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC), row.OccurredAt)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(row.Payload, &payload))
	require.Equal(t, "req-1", payload["request_id"])
}

func TestIngestTruncatesActor(t *testing.T) {
	svc, repo := newTestService(t)

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	_, err := svc.Ingest(context.Background(), []EventInput{{
		EventID:     "6a0f0cde-51d5-4f34-9ad1-0c8e6b1f0003",
		EventType:   "chat.response",
		SubjectType: "user",
		SubjectID:   "u1",
	}}, string(long), "")
	require.NoError(t, err)
	require.Len(t, repo.inserted, 1)
	require.Len(t, repo.inserted[0].ActorUserID, 128)
}

func TestTimeseriesRejectsUnknownMetric(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Timeseries(context.Background(), TimeseriesRequest{
		MetricKey: "payload->>'anything'", SubjectType: "vantage", SubjectID: "default",
	})
	require.ErrorContains(t, err, "unknown metric_key")

	_, err = svc.Timeseries(context.Background(), TimeseriesRequest{
		MetricKey: "probe_overall", Bucket: "week",
	})
	require.ErrorContains(t, err, "bucket must be")
}

func TestTimeseriesShapesPointsAndPhases(t *testing.T) {
	svc, repo := newTestService(t)

	v := 0.75
	repo.points = []repos.TimeseriesPoint{
		{Bucket: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), Value: &v, Count: 4},
		{Bucket: time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC), Value: nil, Count: 0},
	}
	repo.conditions = []*types.TelemetryEvent{
		{
			ConditionID: "c1",
			OccurredAt:  time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC),
			Payload:     []byte(`{"label":"baseline"}`),
		},
		{
			ConditionID: "c2",
			OccurredAt:  time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
			Payload:     []byte(`{}`),
		},
	}

	out, err := svc.Timeseries(context.Background(), TimeseriesRequest{
		MetricKey:   "probe_overall",
		SubjectType: "vantage",
		SubjectID:   "default",
		From:        time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// The value expression comes from the whitelist, not from the request.
	require.Equal(t, metricDefs["probe_overall"], repo.lastFilter.ValueExpr)
	require.Equal(t, "day", repo.lastFilter.Bucket)

	require.Len(t, out.Points, 2)
	require.Equal(t, "2026-08-20T00:00:00Z", out.Points[0].T)
	require.NotNil(t, out.Points[0].V)
	require.Equal(t, int64(4), out.Points[0].N)
	require.Nil(t, out.Points[1].V)

	require.Len(t, out.Phases, 2)
	require.Equal(t, "baseline", out.Phases[0].Label)
	require.NotNil(t, out.Phases[0].EndTS)
	require.Equal(t, "2026-08-21T00:00:00Z", *out.Phases[0].EndTS)
	// Missing label falls back to the condition id; the last phase is open.
	require.Equal(t, "c2", out.Phases[1].Label)
	require.Nil(t, out.Phases[1].EndTS)
}
