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

// CardinalityViolation names a (subject, predicate) pair holding more than one
// distinct active value under a cardinality-one predicate.
type CardinalityViolation struct {
	SubjectEntityID uuid.UUID
	Predicate       string
	DistinctValues  int64
}

type ContradictionRepo interface {
	// FindCardinalityViolations scans active claims under cardinality-one
	// predicates for subjects with >1 distinct object values.
	FindCardinalityViolations(ctx context.Context, tx *gorm.DB) ([]CardinalityViolation, error)
	// EnsureOpen returns the open contradiction for (subject, predicate),
	// creating one when absent.
	EnsureOpen(ctx context.Context, tx *gorm.DB, subjectEntityID uuid.UUID, predicate, qualifierKey string) (*types.Contradiction, error)
	AddMember(ctx context.Context, tx *gorm.DB, contradictionID, claimID uuid.UUID) (bool, error)
	ListMembers(ctx context.Context, tx *gorm.DB, contradictionID uuid.UUID) ([]*types.ContradictionMember, error)
	ListOpen(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Contradiction, error)
	CountOpen(ctx context.Context, tx *gorm.DB) (int64, error)
	Resolve(ctx context.Context, tx *gorm.DB, contradictionID uuid.UUID) error
}

type contradictionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContradictionRepo(db *gorm.DB, baseLog *logger.Logger) ContradictionRepo {
	return &contradictionRepo{
		db:  db,
		log: baseLog.With("repo", "ContradictionRepo"),
	}
}

func (r *contradictionRepo) FindCardinalityViolations(ctx context.Context, tx *gorm.DB) ([]CardinalityViolation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []CardinalityViolation
	query := `
		SELECT c.subject_entity_id, c.predicate, COUNT(DISTINCT c.object_literal::text) AS distinct_values
		FROM vantage_fact.claim c
		JOIN vantage_fact.predicate p ON p.predicate = c.predicate
		WHERE c.status = 'active'
		  AND p.arg_schema->>'cardinality' = 'one'
		GROUP BY c.subject_entity_id, c.predicate
		HAVING COUNT(DISTINCT c.object_literal::text) > 1`
	if err := transaction.WithContext(ctx).Raw(query).Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contradictionRepo) EnsureOpen(ctx context.Context, tx *gorm.DB, subjectEntityID uuid.UUID, predicate, qualifierKey string) (*types.Contradiction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.Contradiction
	err := transaction.WithContext(ctx).
		Where("subject_entity_id = ? AND predicate = ? AND qualifier_key = ? AND status = ?",
			subjectEntityID, predicate, qualifierKey, types.ContradictionStatusOpen).
		First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	row = types.Contradiction{
		ContradictionID: uuid.New(),
		SubjectEntityID: subjectEntityID,
		Predicate:       predicate,
		QualifierKey:    qualifierKey,
		Status:          types.ContradictionStatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := transaction.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *contradictionRepo) AddMember(ctx context.Context, tx *gorm.DB, contradictionID, claimID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	member := types.ContradictionMember{
		ContradictionID: contradictionID,
		ClaimID:         claimID,
		CreatedAt:       time.Now().UTC(),
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contradiction_id"}, {Name: "claim_id"}},
			DoNothing: true,
		}).
		Create(&member)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *contradictionRepo) ListMembers(ctx context.Context, tx *gorm.DB, contradictionID uuid.UUID) ([]*types.ContradictionMember, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ContradictionMember
	err := transaction.WithContext(ctx).
		Where("contradiction_id = ?", contradictionID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contradictionRepo) ListOpen(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Contradiction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Contradiction
	q := transaction.WithContext(ctx).
		Where("status = ?", types.ContradictionStatusOpen).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contradictionRepo) CountOpen(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Contradiction{}).
		Where("status = ?", types.ContradictionStatusOpen).
		Count(&count).Error
	return count, err
}

func (r *contradictionRepo) Resolve(ctx context.Context, tx *gorm.DB, contradictionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Contradiction{}).
		Where("contradiction_id = ?", contradictionID).
		Updates(map[string]interface{}{
			"status":     types.ContradictionStatusResolved,
			"updated_at": time.Now().UTC(),
		}).Error
}
