package types

import (
	"time"

	"gorm.io/datatypes"
)

// TelemetryEvent is the write-only evaluation sink. event_id is caller
// supplied so replayed batches dedupe instead of double counting.
type TelemetryEvent struct {
	EventID            string         `gorm:"type:text;primaryKey" json:"event_id"`
	EventType          string         `gorm:"column:event_type;not null;index" json:"event_type"`
	SubjectType        string         `gorm:"column:subject_type;index" json:"subject_type"`
	SubjectID          string         `gorm:"column:subject_id;index" json:"subject_id"`
	TargetModelID      string         `gorm:"column:target_model_id" json:"target_model_id"`
	TargetModelVersion string         `gorm:"column:target_model_version" json:"target_model_version"`
	JudgeModelID       string         `gorm:"column:judge_model_id" json:"judge_model_id"`
	JudgeModelVersion  string         `gorm:"column:judge_model_version" json:"judge_model_version"`
	VantageID          string         `gorm:"column:vantage_id" json:"vantage_id"`
	ConditionID        string         `gorm:"column:condition_id" json:"condition_id"`
	ThreadID           string         `gorm:"column:thread_id" json:"thread_id"`
	TurnID             string         `gorm:"column:turn_id" json:"turn_id"`
	ActorUserID        string         `gorm:"column:actor_user_id;index" json:"actor_user_id"`
	Payload            datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	OccurredAt         time.Time      `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
	ReceivedAt         time.Time      `gorm:"column:received_at;not null;default:now()" json:"received_at"`
}

func (TelemetryEvent) TableName() string { return "telemetry_event" }
