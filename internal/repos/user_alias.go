package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

type UserAliasRepo interface {
	GetCanonical(ctx context.Context, tx *gorm.DB, vantageID, aliasUserID string) (string, error)
	Upsert(ctx context.Context, tx *gorm.DB, alias *types.UserAlias) error
	ListByCanonical(ctx context.Context, tx *gorm.DB, canonicalUserID string) ([]*types.UserAlias, error)
	DeleteByCanonical(ctx context.Context, tx *gorm.DB, canonicalUserID string) (int64, error)
}

type userAliasRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserAliasRepo(db *gorm.DB, baseLog *logger.Logger) UserAliasRepo {
	return &userAliasRepo{
		db:  db,
		log: baseLog.With("repo", "UserAliasRepo"),
	}
}

// GetCanonical returns the canonical user id for the alias, or "" when no
// mapping exists. Callers treat "" (and errors) as "use the alias as-is".
func (r *userAliasRepo) GetCanonical(ctx context.Context, tx *gorm.DB, vantageID, aliasUserID string) (string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if aliasUserID == "" {
		return "", nil
	}
	var alias types.UserAlias
	err := transaction.WithContext(ctx).
		Where("vantage_id = ? AND alias_user_id = ?", vantageID, aliasUserID).
		First(&alias).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return alias.CanonicalUserID, nil
}

func (r *userAliasRepo) Upsert(ctx context.Context, tx *gorm.DB, alias *types.UserAlias) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if alias == nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vantage_id"}, {Name: "alias_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"canonical_user_id"}),
		}).
		Create(alias).Error
}

func (r *userAliasRepo) ListByCanonical(ctx context.Context, tx *gorm.DB, canonicalUserID string) ([]*types.UserAlias, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.UserAlias
	if canonicalUserID == "" {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("canonical_user_id = ?", canonicalUserID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *userAliasRepo) DeleteByCanonical(ctx context.Context, tx *gorm.DB, canonicalUserID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if canonicalUserID == "" {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("canonical_user_id = ?", canonicalUserID).
		Delete(&types.UserAlias{})
	return res.RowsAffected, res.Error
}
