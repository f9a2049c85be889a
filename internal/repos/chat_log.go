package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

type ChatLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.ChatLog) (*types.ChatLog, error)
	ListByThread(ctx context.Context, tx *gorm.DB, threadID string, limit int) ([]*types.ChatLog, error)
	// ListTailByThread returns the newest rows for a thread, newest first.
	ListTailByThread(ctx context.Context, tx *gorm.DB, threadID string, limit int) ([]*types.ChatLog, error)
	LastUserMessageAt(ctx context.Context, tx *gorm.DB, userID string) (*time.Time, error)
	// ListByUser returns the user's transcript oldest first, for export.
	ListByUser(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]*types.ChatLog, error)
	ListRecentByUser(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]*types.ChatLog, error)
	ListUnseeded(ctx context.Context, tx *gorm.DB, vantageID string, limit int) ([]*types.ChatLog, error)
	DeleteByThread(ctx context.Context, tx *gorm.DB, threadID string) (int64, error)
	DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
	DeleteRecent(ctx context.Context, tx *gorm.DB, userID string, minutes int) ([]string, error)
}

type chatLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatLogRepo(db *gorm.DB, baseLog *logger.Logger) ChatLogRepo {
	return &chatLogRepo{
		db:  db,
		log: baseLog.With("repo", "ChatLogRepo"),
	}
}

func (r *chatLogRepo) Create(ctx context.Context, tx *gorm.DB, row *types.ChatLog) (*types.ChatLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if row == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *chatLogRepo) ListByThread(ctx context.Context, tx *gorm.DB, threadID string, limit int) ([]*types.ChatLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ChatLog
	if threadID == "" {
		return out, nil
	}
	q := transaction.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatLogRepo) ListTailByThread(ctx context.Context, tx *gorm.DB, threadID string, limit int) ([]*types.ChatLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ChatLog
	if threadID == "" || limit <= 0 {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatLogRepo) LastUserMessageAt(ctx context.Context, tx *gorm.DB, userID string) (*time.Time, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == "" {
		return nil, nil
	}
	var row types.ChatLog
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND source = ?", userID, "frontend/chat:user").
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts := row.CreatedAt
	return &ts, nil
}

func (r *chatLogRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]*types.ChatLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ChatLog
	if userID == "" {
		return out, nil
	}
	q := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatLogRepo) ListRecentByUser(ctx context.Context, tx *gorm.DB, userID string, limit int) ([]*types.ChatLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ChatLog
	if userID == "" {
		return out, nil
	}
	q := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListUnseeded returns user-role chat rows that have no fact source yet,
// newest first so seeding tracks ongoing work rather than backfilling
// history. The join key matches the external_id convention "chat_log:<id>".
// Rows must carry at least one "Key: Value" line, since the extractor yields
// nothing otherwise.
func (r *chatLogRepo) ListUnseeded(ctx context.Context, tx *gorm.DB, vantageID string, limit int) ([]*types.ChatLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ChatLog
	q := transaction.WithContext(ctx).
		Where("source = ?", "frontend/chat:user").
		Where("length(text) > 0 AND length(text) <= 8000").
		Where(`text ~ '(^|\n)[[:space:]]*[A-Za-z][A-Za-z0-9 _]*[[:space:]]*:[[:space:]]*[^\n]+'`).
		Where(`NOT EXISTS (
			SELECT 1 FROM vantage_fact.source s
			WHERE s.external_id = 'chat_log:' || chat_log.id
		)`)
	if vantageID == "default" {
		q = q.Where("vantage_id = ? OR vantage_id IS NULL OR vantage_id = ''", vantageID)
	} else {
		q = q.Where("vantage_id = ?", vantageID)
	}
	q = q.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatLogRepo) DeleteByThread(ctx context.Context, tx *gorm.DB, threadID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if threadID == "" {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Delete(&types.ChatLog{})
	return res.RowsAffected, res.Error
}

func (r *chatLogRepo) DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == "" {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.ChatLog{})
	return res.RowsAffected, res.Error
}

// DeleteRecent removes the user's rows newer than the cutoff and returns the
// deleted ids so the caller can purge the matching vector points.
func (r *chatLogRepo) DeleteRecent(ctx context.Context, tx *gorm.DB, userID string, minutes int) ([]string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == "" || minutes <= 0 {
		return nil, nil
	}
	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	var ids []string
	err := transaction.WithContext(ctx).
		Model(&types.ChatLog{}).
		Where("user_id = ? AND created_at >= ?", userID, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.ChatLog{}).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
