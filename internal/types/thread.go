package types

import (
	"time"
)

type Thread struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	UserID    string    `gorm:"type:text;not null;index" json:"user_id"`
	Title     string    `gorm:"column:title" json:"title"`
	VantageID string    `gorm:"column:vantage_id;index" json:"vantage_id"`
	Archived  bool      `gorm:"column:archived;not null;default:false" json:"archived"`
	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Thread) TableName() string { return "threads" }
