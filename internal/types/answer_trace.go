package types

import (
	"time"

	"gorm.io/datatypes"
)

// AnswerTrace is the durable record behind every generated answer. Feedback
// resolves against this row first, before any in-memory cache.
type AnswerTrace struct {
	AnswerID       string         `gorm:"type:text;primaryKey" json:"answer_id"`
	UserID         string         `gorm:"type:text;not null;index" json:"user_id"`
	ThreadID       string         `gorm:"type:text;column:thread_id;index" json:"thread_id"`
	VantageID      string         `gorm:"column:vantage_id;index" json:"vantage_id"`
	ModelID        string         `gorm:"column:model_id" json:"model_id"`
	AnswerTextHash string         `gorm:"column:answer_text_hash" json:"answer_text_hash"`
	AnswerTextLen  int            `gorm:"column:answer_text_len" json:"answer_text_len"`
	MemoryIDs      datatypes.JSON `gorm:"type:jsonb;column:memory_ids" json:"memory_ids"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (AnswerTrace) TableName() string { return "vantage_answer_trace" }
