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

type ClaimRepo interface {
	// Upsert inserts by canonical_key or, for an existing row, refreshes
	// confidence/status. Reports whether the row was newly created.
	Upsert(ctx context.Context, tx *gorm.DB, claim *types.Claim) (*types.Claim, bool, error)
	GetByCanonicalKey(ctx context.Context, tx *gorm.DB, canonicalKey string) (*types.Claim, error)
	GetByID(ctx context.Context, tx *gorm.DB, claimID uuid.UUID) (*types.Claim, error)
	ListActive(ctx context.Context, tx *gorm.DB, subjectEntityID uuid.UUID, predicate string) ([]*types.Claim, error)
	ListActiveByPredicatePrefix(ctx context.Context, tx *gorm.DB, subjectEntityID uuid.UUID, prefix string) ([]*types.Claim, error)
	ListBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) ([]*types.Claim, error)
	Retract(ctx context.Context, tx *gorm.DB, claimID uuid.UUID) error
	AddEvidence(ctx context.Context, tx *gorm.DB, evidence *types.Evidence) error
	ListEvidence(ctx context.Context, tx *gorm.DB, claimID uuid.UUID) ([]*types.Evidence, error)
	CountEvidenceBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int64, error)
	CountActive(ctx context.Context, tx *gorm.DB) (int64, error)
	CountActiveBelowConfidence(ctx context.Context, tx *gorm.DB, threshold float64) (int64, error)
}

type claimRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClaimRepo(db *gorm.DB, baseLog *logger.Logger) ClaimRepo {
	return &claimRepo{
		db:  db,
		log: baseLog.With("repo", "ClaimRepo"),
	}
}

func (r *claimRepo) Upsert(ctx context.Context, tx *gorm.DB, claim *types.Claim) (*types.Claim, bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if claim == nil {
		return nil, false, nil
	}
	now := time.Now().UTC()

	var existing types.Claim
	err := transaction.WithContext(ctx).
		Where("canonical_key = ?", claim.CanonicalKey).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if claim.ClaimID == uuid.Nil {
			claim.ClaimID = uuid.New()
		}
		claim.CreatedAt = now
		claim.UpdatedAt = now
		res := transaction.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "canonical_key"}},
				DoNothing: true,
			}).
			Create(claim)
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected == 0 {
			// lost the race; fall through to the winner
			if err := transaction.WithContext(ctx).
				Where("canonical_key = ?", claim.CanonicalKey).
				First(&existing).Error; err != nil {
				return nil, false, err
			}
			return &existing, false, nil
		}
		return claim, true, nil
	case err != nil:
		return nil, false, err
	}

	updates := map[string]interface{}{
		"updated_at": now,
	}
	if claim.Confidence > existing.Confidence {
		updates["confidence"] = claim.Confidence
		existing.Confidence = claim.Confidence
	}
	if existing.Status != types.ClaimStatusActive {
		updates["status"] = types.ClaimStatusActive
		existing.Status = types.ClaimStatusActive
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Claim{}).
		Where("claim_id = ?", existing.ClaimID).
		Updates(updates).Error; err != nil {
		return nil, false, err
	}
	existing.UpdatedAt = now
	return &existing, false, nil
}

func (r *claimRepo) GetByCanonicalKey(ctx context.Context, tx *gorm.DB, canonicalKey string) (*types.Claim, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if canonicalKey == "" {
		return nil, nil
	}
	var claim types.Claim
	err := transaction.WithContext(ctx).
		Where("canonical_key = ?", canonicalKey).
		First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepo) GetByID(ctx context.Context, tx *gorm.DB, claimID uuid.UUID) (*types.Claim, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var claim types.Claim
	err := transaction.WithContext(ctx).
		Where("claim_id = ?", claimID).
		First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepo) ListActive(ctx context.Context, tx *gorm.DB, subjectEntityID uuid.UUID, predicate string) ([]*types.Claim, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Claim
	err := transaction.WithContext(ctx).
		Where("subject_entity_id = ? AND predicate = ? AND status = ?",
			subjectEntityID, predicate, types.ClaimStatusActive).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *claimRepo) ListActiveByPredicatePrefix(ctx context.Context, tx *gorm.DB, subjectEntityID uuid.UUID, prefix string) ([]*types.Claim, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Claim
	err := transaction.WithContext(ctx).
		Where("subject_entity_id = ? AND status = ? AND predicate LIKE ?",
			subjectEntityID, types.ClaimStatusActive, prefix+"%").
		Order("predicate ASC, created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *claimRepo) ListBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) ([]*types.Claim, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Claim
	err := transaction.WithContext(ctx).
		Where(`claim_id IN (
			SELECT claim_id FROM vantage_fact.evidence WHERE source_id = ?
		)`, sourceID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *claimRepo) Retract(ctx context.Context, tx *gorm.DB, claimID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Claim{}).
		Where("claim_id = ?", claimID).
		Updates(map[string]interface{}{
			"status":     types.ClaimStatusRetracted,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *claimRepo) AddEvidence(ctx context.Context, tx *gorm.DB, evidence *types.Evidence) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if evidence == nil {
		return nil
	}
	if evidence.EvidenceID == uuid.Nil {
		evidence.EvidenceID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(evidence).Error
}

func (r *claimRepo) ListEvidence(ctx context.Context, tx *gorm.DB, claimID uuid.UUID) ([]*types.Evidence, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Evidence
	err := transaction.WithContext(ctx).
		Where("claim_id = ?", claimID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *claimRepo) CountEvidenceBySource(ctx context.Context, tx *gorm.DB, sourceID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Evidence{}).
		Where("source_id = ?", sourceID).
		Count(&count).Error
	return count, err
}

func (r *claimRepo) CountActive(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Claim{}).
		Where("status = ?", types.ClaimStatusActive).
		Count(&count).Error
	return count, err
}

func (r *claimRepo) CountActiveBelowConfidence(ctx context.Context, tx *gorm.DB, threshold float64) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Claim{}).
		Where("status = ? AND confidence < ?", types.ClaimStatusActive, threshold).
		Count(&count).Error
	return count, err
}
