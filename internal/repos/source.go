package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

type SourceRepo interface {
	// Insert is idempotent on external_id and reports whether a row was added.
	Insert(ctx context.Context, tx *gorm.DB, source *types.Source) (bool, error)
	GetByID(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*types.Source, error)
	GetByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*types.Source, error)
	// ClaimPending flips up to limit pending sources to processing and returns
	// them, oldest first. Row locks keep concurrent extractors apart.
	ClaimPending(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Source, error)
	ListByStatus(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.Source, error)
	// ListDoneUnlinked returns finished chat-log sources not yet marked on the
	// given cursor card, newest first.
	ListDoneUnlinked(ctx context.Context, tx *gorm.DB, cursorCardID string, limit int) ([]*types.Source, error)
	CountByStatus(ctx context.Context, tx *gorm.DB, status string) (int64, error)
	CountDoneChatLog(ctx context.Context, tx *gorm.DB) (int64, error)
	MarkDone(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, contentSHA256 string) error
	MarkError(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) error
}

type sourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceRepo(db *gorm.DB, baseLog *logger.Logger) SourceRepo {
	return &sourceRepo{
		db:  db,
		log: baseLog.With("repo", "SourceRepo"),
	}
}

func (r *sourceRepo) Insert(ctx context.Context, tx *gorm.DB, source *types.Source) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if source == nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(source)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *sourceRepo) GetByID(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (*types.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var source types.Source
	err := transaction.WithContext(ctx).
		Where("source_id = ?", sourceID).
		First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *sourceRepo) GetByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*types.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if externalID == "" {
		return nil, nil
	}
	var source types.Source
	err := transaction.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *sourceRepo) ClaimPending(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 10
	}
	var out []*types.Source
	err := transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		if err := inner.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", types.SourceStatusPending).
			Order("created_at ASC").
			Limit(limit).
			Find(&out).Error; err != nil {
			return err
		}
		if len(out) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(out))
		for _, s := range out {
			ids = append(ids, s.SourceID)
			s.Status = types.SourceStatusProcessing
		}
		return inner.Model(&types.Source{}).
			Where("source_id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     types.SourceStatusProcessing,
				"updated_at": time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sourceRepo) ListByStatus(ctx context.Context, tx *gorm.DB, status string, limit int) ([]*types.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Source
	q := transaction.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sourceRepo) ListDoneUnlinked(ctx context.Context, tx *gorm.DB, cursorCardID string, limit int) ([]*types.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 10
	}
	var out []*types.Source
	err := transaction.WithContext(ctx).
		Where("status = ? AND source_type = ?", types.SourceStatusDone, "chat_log").
		Where(`NOT EXISTS (
			SELECT 1 FROM vantage_card.card_link l
			WHERE l.card_id = ? AND l.link_type = 'source' AND l.ref_id = source.source_id::text
		)`, cursorCardID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sourceRepo) CountDoneChatLog(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Source{}).
		Where("status = ? AND source_type = ?", types.SourceStatusDone, "chat_log").
		Count(&count).Error
	return count, err
}

func (r *sourceRepo) CountByStatus(ctx context.Context, tx *gorm.DB, status string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Source{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func (r *sourceRepo) MarkDone(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID, contentSHA256 string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&types.Source{}).
		Where("source_id = ?", sourceID).
		Updates(map[string]interface{}{
			"status":         types.SourceStatusDone,
			"content_sha256": contentSHA256,
			"processed_at":   now,
			"updated_at":     now,
		}).Error
}

func (r *sourceRepo) MarkError(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Source{}).
		Where("source_id = ?", sourceID).
		Updates(map[string]interface{}{
			"status":     types.SourceStatusError,
			"updated_at": time.Now().UTC(),
		}).Error
}
