package types

import (
	"time"

	"gorm.io/datatypes"
)

// UserAlias maps (vantage_id, alias_user_id) to the canonical user id.
type UserAlias struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	VantageID       string    `gorm:"column:vantage_id;not null;uniqueIndex:uniq_alias_per_vantage" json:"vantage_id"`
	AliasUserID     string    `gorm:"column:alias_user_id;not null;uniqueIndex:uniq_alias_per_vantage" json:"alias_user_id"`
	CanonicalUserID string    `gorm:"column:canonical_user_id;not null;index" json:"canonical_user_id"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (UserAlias) TableName() string { return "vantage_identity.user_alias" }

// RagPolicy is the per-vantage retrieval policy override. The JSON document
// carries corpus_primary, corpus_fallback and passthrough extras.
type RagPolicy struct {
	VantageID string         `gorm:"column:vantage_id;primaryKey" json:"vantage_id"`
	Policy    datatypes.JSON `gorm:"type:jsonb;column:policy;not null" json:"policy"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (RagPolicy) TableName() string { return "vantage_identity.rag_policy" }
