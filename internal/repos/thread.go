package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

type ThreadRepo interface {
	Create(ctx context.Context, tx *gorm.DB, thread *types.Thread) (*types.Thread, error)
	GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Thread, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID string, includeArchived bool) ([]*types.Thread, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error
	SetOwner(ctx context.Context, tx *gorm.DB, id string, userID string) error
	Delete(ctx context.Context, tx *gorm.DB, id string) error
	DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
}

type threadRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewThreadRepo(db *gorm.DB, baseLog *logger.Logger) ThreadRepo {
	return &threadRepo{
		db:  db,
		log: baseLog.With("repo", "ThreadRepo"),
	}
}

func (r *threadRepo) Create(ctx context.Context, tx *gorm.DB, thread *types.Thread) (*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if thread == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(thread).Error; err != nil {
		return nil, err
	}
	return thread, nil
}

func (r *threadRepo) GetByID(ctx context.Context, tx *gorm.DB, id string) (*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return nil, nil
	}
	var thread types.Thread
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (r *threadRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string, includeArchived bool) ([]*types.Thread, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Thread
	if userID == "" {
		return out, nil
	}
	q := transaction.WithContext(ctx).Where("user_id = ?", userID)
	if !includeArchived {
		q = q.Where("archived = ?", false)
	}
	if err := q.Order("updated_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *threadRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return transaction.WithContext(ctx).
		Model(&types.Thread{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *threadRepo) SetOwner(ctx context.Context, tx *gorm.DB, id string, userID string) error {
	return r.UpdateFields(ctx, tx, id, map[string]interface{}{"user_id": userID})
}

func (r *threadRepo) Delete(ctx context.Context, tx *gorm.DB, id string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == "" {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Thread{}).Error
}

func (r *threadRepo) DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == "" {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.Thread{})
	return res.RowsAffected, res.Error
}
