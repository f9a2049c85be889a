package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	CardStatusActive  = "active"
	CardStatusRetired = "retired"

	// SingletonTopicKey marks per-user singleton cards. They are delete-locked
	// against user requests; only the owning daemon rewrites them.
	SingletonTopicKey = "__singleton__"
)

// CardHead is the mutable tip of a card. UpdatedAt is the content timestamp:
// decay adjusts strength/confidence without touching it.
type CardHead struct {
	CardID     string         `gorm:"type:text;primaryKey;column:card_id" json:"card_id"`
	VantageID  string         `gorm:"column:vantage_id;not null;uniqueIndex:uniq_card_topic" json:"vantage_id"`
	Kind       string         `gorm:"column:kind;not null;uniqueIndex:uniq_card_topic" json:"kind"`
	TopicKey   string         `gorm:"column:topic_key;not null;uniqueIndex:uniq_card_topic" json:"topic_key"`
	Summary    string         `gorm:"column:summary" json:"summary"`
	Payload    datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Strength   float64        `gorm:"column:strength;not null;default:0.5" json:"strength"`
	Confidence float64        `gorm:"column:confidence;not null;default:0.5" json:"confidence"`
	Status     string         `gorm:"column:status;not null;index" json:"status"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
}

func (CardHead) TableName() string { return "vantage_card.card_head" }

type CardRevision struct {
	RevisionID     uuid.UUID      `gorm:"type:uuid;primaryKey;column:revision_id" json:"revision_id"`
	CardID         string         `gorm:"type:text;column:card_id;not null;index" json:"card_id"`
	PrevRevisionID *uuid.UUID     `gorm:"type:uuid;column:prev_revision_id" json:"prev_revision_id,omitempty"`
	Summary        string         `gorm:"column:summary" json:"summary"`
	Payload        datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Reason         string         `gorm:"column:reason" json:"reason"`
	Delta          datatypes.JSON `gorm:"type:jsonb;column:delta" json:"delta"`
	CreatedAt      time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (CardRevision) TableName() string { return "vantage_card.card_revision" }

type CardLink struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CardID    string    `gorm:"type:text;column:card_id;not null;uniqueIndex:uniq_card_link" json:"card_id"`
	LinkType  string    `gorm:"column:link_type;not null;uniqueIndex:uniq_card_link" json:"link_type"`
	RefID     string    `gorm:"column:ref_id;not null;uniqueIndex:uniq_card_link" json:"ref_id"`
	Note      string    `gorm:"column:note" json:"note"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (CardLink) TableName() string { return "vantage_card.card_link" }

const (
	SignalReward     = "reward"
	SignalPunish     = "punish"
	SignalCorrection = "correction"
	SignalUse        = "use"
)

type CardSignal struct {
	SignalID   uuid.UUID `gorm:"type:uuid;primaryKey;column:signal_id" json:"signal_id"`
	CardID     string    `gorm:"type:text;column:card_id;not null;index" json:"card_id"`
	SignalType string    `gorm:"column:signal_type;not null;index" json:"signal_type"`
	Magnitude  float64   `gorm:"column:magnitude;not null;default:1" json:"magnitude"`
	CreatedAt  time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (CardSignal) TableName() string { return "vantage_card.card_signal" }
