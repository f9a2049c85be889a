package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

type AnswerTraceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, trace *types.AnswerTrace) (*types.AnswerTrace, error)
	GetByAnswerID(ctx context.Context, tx *gorm.DB, answerID string) (*types.AnswerTrace, error)
	// GetLatest falls back through narrowing scopes: exact thread match first,
	// then the user's most recent trace for the vantage.
	GetLatest(ctx context.Context, tx *gorm.DB, userID, threadID, vantageID string) (*types.AnswerTrace, error)
	DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error)
}

type answerTraceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnswerTraceRepo(db *gorm.DB, baseLog *logger.Logger) AnswerTraceRepo {
	return &answerTraceRepo{
		db:  db,
		log: baseLog.With("repo", "AnswerTraceRepo"),
	}
}

func (r *answerTraceRepo) Create(ctx context.Context, tx *gorm.DB, trace *types.AnswerTrace) (*types.AnswerTrace, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if trace == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(trace).Error; err != nil {
		return nil, err
	}
	return trace, nil
}

func (r *answerTraceRepo) GetByAnswerID(ctx context.Context, tx *gorm.DB, answerID string) (*types.AnswerTrace, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if answerID == "" {
		return nil, nil
	}
	var trace types.AnswerTrace
	err := transaction.WithContext(ctx).
		Where("answer_id = ?", answerID).
		First(&trace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trace, nil
}

func (r *answerTraceRepo) GetLatest(ctx context.Context, tx *gorm.DB, userID, threadID, vantageID string) (*types.AnswerTrace, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == "" {
		return nil, nil
	}
	if threadID != "" {
		var trace types.AnswerTrace
		err := transaction.WithContext(ctx).
			Where("user_id = ? AND thread_id = ? AND vantage_id = ?", userID, threadID, vantageID).
			Order("created_at DESC").
			First(&trace).Error
		if err == nil {
			return &trace, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	var trace types.AnswerTrace
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND vantage_id = ?", userID, vantageID).
		Order("created_at DESC").
		First(&trace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trace, nil
}

func (r *answerTraceRepo) DeleteByUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == "" {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.AnswerTrace{})
	return res.RowsAffected, res.Error
}
