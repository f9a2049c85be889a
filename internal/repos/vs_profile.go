package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

type VSProfileRepo interface {
	// Upsert matches by (user_id, name). Marking a profile default clears the
	// flag on the user's other profiles in the same transaction.
	Upsert(ctx context.Context, tx *gorm.DB, profile *types.VSProfile) (*types.VSProfile, error)
	GetDefault(ctx context.Context, tx *gorm.DB, userID string) (*types.VSProfile, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.VSProfile, error)
	Delete(ctx context.Context, tx *gorm.DB, userID string, id uuid.UUID) (int64, error)
	DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
}

type vsProfileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVSProfileRepo(db *gorm.DB, baseLog *logger.Logger) VSProfileRepo {
	return &vsProfileRepo{
		db:  db,
		log: baseLog.With("repo", "VSProfileRepo"),
	}
}

func (r *vsProfileRepo) Upsert(ctx context.Context, tx *gorm.DB, profile *types.VSProfile) (*types.VSProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if profile == nil {
		return nil, nil
	}
	now := time.Now().UTC()

	var out *types.VSProfile
	err := transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		var existing types.VSProfile
		err := inner.
			Where("user_id = ? AND name = ?", profile.UserID, profile.Name).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if profile.ID == uuid.Nil {
				profile.ID = uuid.New()
			}
			profile.CreatedAt = now
			profile.UpdatedAt = now
			if err := inner.Create(profile).Error; err != nil {
				return err
			}
			out = profile
		case err != nil:
			return err
		default:
			updates := map[string]interface{}{
				"profile":    profile.Profile,
				"is_default": profile.IsDefault,
				"updated_at": now,
			}
			if err := inner.Model(&types.VSProfile{}).
				Where("id = ?", existing.ID).
				Updates(updates).Error; err != nil {
				return err
			}
			existing.Profile = profile.Profile
			existing.IsDefault = profile.IsDefault
			existing.UpdatedAt = now
			out = &existing
		}
		if out.IsDefault {
			return inner.Model(&types.VSProfile{}).
				Where("user_id = ? AND id <> ?", out.UserID, out.ID).
				Update("is_default", false).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *vsProfileRepo) GetDefault(ctx context.Context, tx *gorm.DB, userID string) (*types.VSProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == "" {
		return nil, nil
	}
	var profile types.VSProfile
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND is_default = ?", userID, true).
		Order("updated_at DESC").
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *vsProfileRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string) ([]*types.VSProfile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.VSProfile
	if userID == "" {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *vsProfileRepo) Delete(ctx context.Context, tx *gorm.DB, userID string, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&types.VSProfile{})
	return res.RowsAffected, res.Error
}

func (r *vsProfileRepo) DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == "" {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.VSProfile{})
	return res.RowsAffected, res.Error
}
