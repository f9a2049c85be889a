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

type RagPolicyRepo interface {
	Get(ctx context.Context, tx *gorm.DB, vantageID string) (*types.RagPolicy, error)
	Upsert(ctx context.Context, tx *gorm.DB, policy *types.RagPolicy) error
}

type ragPolicyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRagPolicyRepo(db *gorm.DB, baseLog *logger.Logger) RagPolicyRepo {
	return &ragPolicyRepo{
		db:  db,
		log: baseLog.With("repo", "RagPolicyRepo"),
	}
}

func (r *ragPolicyRepo) Get(ctx context.Context, tx *gorm.DB, vantageID string) (*types.RagPolicy, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if vantageID == "" {
		return nil, nil
	}
	var policy types.RagPolicy
	err := transaction.WithContext(ctx).
		Where("vantage_id = ?", vantageID).
		First(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *ragPolicyRepo) Upsert(ctx context.Context, tx *gorm.DB, policy *types.RagPolicy) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if policy == nil {
		return nil
	}
	policy.UpdatedAt = time.Now().UTC()
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vantage_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"policy", "updated_at"}),
		}).
		Create(policy).Error
}
