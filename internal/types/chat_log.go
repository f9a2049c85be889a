package types

import (
	"time"

	"gorm.io/datatypes"
)

// ChatLog rows are immutable after insert. The same id keys the embedded
// point in the memory_raw collection.
type ChatLog struct {
	ID          string         `gorm:"type:text;primaryKey" json:"id"`
	UserID      string         `gorm:"type:text;not null;index" json:"user_id"`
	UserIDAlias string         `gorm:"column:user_id_alias" json:"user_id_alias"`
	Source      string         `gorm:"column:source;not null;index" json:"source"`
	Text        string         `gorm:"column:text;not null" json:"text"`
	Tags        datatypes.JSON `gorm:"type:jsonb;column:tags" json:"tags"`
	ThreadID    *string        `gorm:"type:text;column:thread_id;index" json:"thread_id,omitempty"`
	VantageID   string         `gorm:"column:vantage_id;index" json:"vantage_id"`
	RequestID   string         `gorm:"column:request_id" json:"request_id"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (ChatLog) TableName() string { return "chat_log" }
