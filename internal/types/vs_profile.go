package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// VSProfile stores server-persisted client defaults. At most one profile per
// user is marked default.
type VSProfile struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"type:text;not null;index" json:"user_id"`
	Name      string         `gorm:"column:name;not null" json:"name"`
	IsDefault bool           `gorm:"column:is_default;not null;default:false;index" json:"is_default"`
	Profile   datatypes.JSON `gorm:"type:jsonb;column:profile" json:"profile"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (VSProfile) TableName() string { return "vs_profiles" }
