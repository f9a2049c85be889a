package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

type EntityRepo interface {
	GetOrCreate(ctx context.Context, tx *gorm.DB, entityType, canonicalName string) (*types.Entity, error)
	GetByID(ctx context.Context, tx *gorm.DB, entityID uuid.UUID) (*types.Entity, error)
	GetByName(ctx context.Context, tx *gorm.DB, entityType, canonicalName string) (*types.Entity, error)
	EnsurePredicate(ctx context.Context, tx *gorm.DB, predicate *types.Predicate) error
	GetPredicate(ctx context.Context, tx *gorm.DB, predicate string) (*types.Predicate, error)
	ListCardinalityOnePredicates(ctx context.Context, tx *gorm.DB) ([]string, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type entityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEntityRepo(db *gorm.DB, baseLog *logger.Logger) EntityRepo {
	return &entityRepo{
		db:  db,
		log: baseLog.With("repo", "EntityRepo"),
	}
}

func (r *entityRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, entityType, canonicalName string) (*types.Entity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var entity types.Entity
	err := transaction.WithContext(ctx).
		Where("entity_type = ? AND canonical_name = ?", entityType, canonicalName).
		First(&entity).Error
	if err == nil {
		return &entity, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	entity = types.Entity{
		EntityID:      uuid.New(),
		EntityType:    entityType,
		CanonicalName: canonicalName,
	}
	// Concurrent creators race on the unique index; on conflict re-read the
	// winning row.
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "canonical_name"}},
			DoNothing: true,
		}).
		Create(&entity)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if err := transaction.WithContext(ctx).
			Where("entity_type = ? AND canonical_name = ?", entityType, canonicalName).
			First(&entity).Error; err != nil {
			return nil, err
		}
	}
	return &entity, nil
}

func (r *entityRepo) GetByID(ctx context.Context, tx *gorm.DB, entityID uuid.UUID) (*types.Entity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var entity types.Entity
	err := transaction.WithContext(ctx).
		Where("entity_id = ?", entityID).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *entityRepo) GetByName(ctx context.Context, tx *gorm.DB, entityType, canonicalName string) (*types.Entity, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var entity types.Entity
	err := transaction.WithContext(ctx).
		Where("entity_type = ? AND canonical_name = ?", entityType, canonicalName).
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *entityRepo) EnsurePredicate(ctx context.Context, tx *gorm.DB, predicate *types.Predicate) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if predicate == nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "predicate"}},
			DoNothing: true,
		}).
		Create(predicate).Error
}

func (r *entityRepo) GetPredicate(ctx context.Context, tx *gorm.DB, predicate string) (*types.Predicate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if predicate == "" {
		return nil, nil
	}
	var row types.Predicate
	err := transaction.WithContext(ctx).
		Where("predicate = ?", predicate).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *entityRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Entity{}).
		Count(&count).Error
	return count, err
}

func (r *entityRepo) ListCardinalityOnePredicates(ctx context.Context, tx *gorm.DB) ([]string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []string
	err := transaction.WithContext(ctx).
		Model(&types.Predicate{}).
		Where("arg_schema->>'cardinality' = ?", "one").
		Pluck("predicate", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
