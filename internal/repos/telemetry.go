package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

type TimeseriesPoint struct {
	Bucket time.Time `json:"bucket"`
	Value  *float64  `json:"value"`
	Count  int64     `json:"count"`
}

// TimeseriesFilter scopes a metric aggregation. ValueExpr and EventFilter
// are SQL fragments chosen from the telemetry service's whitelist, never
// caller input.
type TimeseriesFilter struct {
	SubjectType   string
	SubjectID     string
	ValueExpr     string
	EventFilter   string
	Bucket        string // "hour" or "day"
	From          time.Time
	To            time.Time
	TargetModelID string
	ActorUserID   string
}

type TelemetryRepo interface {
	// Insert is idempotent on event_id: replayed batches are absorbed silently.
	Insert(ctx context.Context, tx *gorm.DB, event *types.TelemetryEvent) (bool, error)
	ListBySubject(ctx context.Context, tx *gorm.DB, subjectType, subjectID string, limit int) ([]*types.TelemetryEvent, error)
	Timeseries(ctx context.Context, tx *gorm.DB, f TimeseriesFilter) ([]TimeseriesPoint, error)
	// ConditionSets returns the last condition.set before the window plus all
	// within it, oldest first, for the phase overlay.
	ConditionSets(ctx context.Context, tx *gorm.DB, subjectType, subjectID, actorUserID string, from, to time.Time) ([]*types.TelemetryEvent, error)
	DeleteByActor(ctx context.Context, tx *gorm.DB, actorUserID string) (int64, error)
}

type telemetryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTelemetryRepo(db *gorm.DB, baseLog *logger.Logger) TelemetryRepo {
	return &telemetryRepo{
		db:  db,
		log: baseLog.With("repo", "TelemetryRepo"),
	}
}

func (r *telemetryRepo) Insert(ctx context.Context, tx *gorm.DB, event *types.TelemetryEvent) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if event == nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *telemetryRepo) ListBySubject(ctx context.Context, tx *gorm.DB, subjectType, subjectID string, limit int) ([]*types.TelemetryEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.TelemetryEvent
	q := transaction.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).
		Order("occurred_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *telemetryRepo) Timeseries(ctx context.Context, tx *gorm.DB, f TimeseriesFilter) ([]TimeseriesPoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	trunc := "hour"
	if f.Bucket == "day" {
		trunc = "day"
	}

	where := "subject_type = ? AND subject_id = ? AND occurred_at >= ? AND occurred_at < ?"
	args := []any{f.SubjectType, f.SubjectID, f.From, f.To}
	if f.EventFilter != "" {
		where += " AND (" + f.EventFilter + ")"
	}
	if f.TargetModelID != "" {
		where += " AND target_model_id = ?"
		args = append(args, f.TargetModelID)
	}
	if f.ActorUserID != "" {
		where += " AND actor_user_id = ?"
		args = append(args, f.ActorUserID)
	}

	// COUNT over the expression counts only rows where the metric resolves.
	query := `
		SELECT date_trunc('` + trunc + `', occurred_at) AS bucket,
		       AVG(` + f.ValueExpr + `) AS value,
		       COUNT(` + f.ValueExpr + `) AS count
		FROM telemetry_event
		WHERE ` + where + `
		GROUP BY 1
		ORDER BY 1 ASC`

	var out []TimeseriesPoint
	if err := transaction.WithContext(ctx).Raw(query, args...).Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *telemetryRepo) ConditionSets(ctx context.Context, tx *gorm.DB, subjectType, subjectID, actorUserID string, from, to time.Time) ([]*types.TelemetryEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	base := transaction.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ? AND event_type = ?", subjectType, subjectID, "condition.set")
	if actorUserID != "" {
		base = base.Where("actor_user_id = ?", actorUserID)
	}

	var before types.TelemetryEvent
	var out []*types.TelemetryEvent
	err := base.Session(&gorm.Session{}).
		Where("occurred_at < ?", from).
		Order("occurred_at DESC").
		First(&before).Error
	if err == nil {
		out = append(out, &before)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var within []*types.TelemetryEvent
	if err := base.Session(&gorm.Session{}).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Order("occurred_at ASC").
		Find(&within).Error; err != nil {
		return nil, err
	}
	return append(out, within...), nil
}

func (r *telemetryRepo) DeleteByActor(ctx context.Context, tx *gorm.DB, actorUserID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if actorUserID == "" {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("actor_user_id = ?", actorUserID).
		Delete(&types.TelemetryEvent{})
	return res.RowsAffected, res.Error
}
