package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

// CardWrite is the content mutation applied to a head together with its
// appended revision. The head's updated_at moves; score-only writes go
// through UpdateScores instead.
type CardWrite struct {
	Summary    string
	Payload    datatypes.JSON
	Reason     string
	Delta      datatypes.JSON
	Strength   *float64
	Confidence *float64
}

type CardRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, cardID string) (*types.CardHead, error)
	GetByTopic(ctx context.Context, tx *gorm.DB, vantageID, kind, topicKey string) (*types.CardHead, error)
	// UpsertContent creates or rewrites the head and appends a revision in one
	// transaction. cardID is honored on create; on update the existing head id
	// wins.
	UpsertContent(ctx context.Context, tx *gorm.DB, cardID, vantageID, kind, topicKey string, write CardWrite) (*types.CardHead, error)
	// UpdateScores writes strength/confidence (and optionally payload) without
	// touching updated_at. Used by decay.
	UpdateScores(ctx context.Context, tx *gorm.DB, cardID string, strength, confidence float64, payload datatypes.JSON) error
	ListForDecay(ctx context.Context, tx *gorm.DB, vantageID string, limit int) ([]*types.CardHead, error)
	ListByTopicPrefix(ctx context.Context, tx *gorm.DB, vantageID, kind, topicPrefix string, limit int) ([]*types.CardHead, error)
	AddLink(ctx context.Context, tx *gorm.DB, cardID, linkType, refID, note string) (bool, error)
	HasLink(ctx context.Context, tx *gorm.DB, cardID, linkType, refID string) (bool, error)
	ListLinks(ctx context.Context, tx *gorm.DB, cardID, linkType string) ([]*types.CardLink, error)
	// LinkNoteCounts groups a card's links of one type by note, for cursor
	// observability.
	LinkNoteCounts(ctx context.Context, tx *gorm.DB, cardID, linkType string) (map[string]int64, error)
	AddSignal(ctx context.Context, tx *gorm.DB, cardID, signalType string, magnitude float64) error
	SignalTotalsSince(ctx context.Context, tx *gorm.DB, cardID string, since time.Time) (map[string]float64, error)
	ListRevisions(ctx context.Context, tx *gorm.DB, cardID string, limit int) ([]*types.CardRevision, error)
	Retire(ctx context.Context, tx *gorm.DB, cardID string) error
	Delete(ctx context.Context, tx *gorm.DB, cardID string) error
	DeleteByTopicPrefix(ctx context.Context, tx *gorm.DB, vantageID, topicPrefix string) (int64, error)
}

type cardRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCardRepo(db *gorm.DB, baseLog *logger.Logger) CardRepo {
	return &cardRepo{
		db:  db,
		log: baseLog.With("repo", "CardRepo"),
	}
}

func (r *cardRepo) GetByID(ctx context.Context, tx *gorm.DB, cardID string) (*types.CardHead, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cardID == "" {
		return nil, nil
	}
	var head types.CardHead
	err := transaction.WithContext(ctx).
		Where("card_id = ?", cardID).
		First(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &head, nil
}

func (r *cardRepo) GetByTopic(ctx context.Context, tx *gorm.DB, vantageID, kind, topicKey string) (*types.CardHead, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var head types.CardHead
	err := transaction.WithContext(ctx).
		Where("vantage_id = ? AND kind = ? AND topic_key = ?", vantageID, kind, topicKey).
		First(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &head, nil
}

func (r *cardRepo) UpsertContent(ctx context.Context, tx *gorm.DB, cardID, vantageID, kind, topicKey string, write CardWrite) (*types.CardHead, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()

	var out *types.CardHead
	err := transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		var head types.CardHead
		err := inner.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("vantage_id = ? AND kind = ? AND topic_key = ?", vantageID, kind, topicKey).
			First(&head).Error
		created := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !created {
			return err
		}

		if created {
			if cardID == "" {
				cardID = uuid.New().String()
			}
			head = types.CardHead{
				CardID:     cardID,
				VantageID:  vantageID,
				Kind:       kind,
				TopicKey:   topicKey,
				Summary:    write.Summary,
				Payload:    write.Payload,
				Strength:   0.5,
				Confidence: 0.5,
				Status:     types.CardStatusActive,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if write.Strength != nil {
				head.Strength = *write.Strength
			}
			if write.Confidence != nil {
				head.Confidence = *write.Confidence
			}
			if err := inner.Create(&head).Error; err != nil {
				return err
			}
		} else {
			updates := map[string]interface{}{
				"summary":    write.Summary,
				"payload":    write.Payload,
				"status":     types.CardStatusActive,
				"updated_at": now,
			}
			if write.Strength != nil {
				updates["strength"] = *write.Strength
			}
			if write.Confidence != nil {
				updates["confidence"] = *write.Confidence
			}
			if err := inner.Model(&types.CardHead{}).
				Where("card_id = ?", head.CardID).
				Updates(updates).Error; err != nil {
				return err
			}
			head.Summary = write.Summary
			head.Payload = write.Payload
			head.Status = types.CardStatusActive
			head.UpdatedAt = now
			if write.Strength != nil {
				head.Strength = *write.Strength
			}
			if write.Confidence != nil {
				head.Confidence = *write.Confidence
			}
		}

		var prevID *uuid.UUID
		if !created {
			var prev types.CardRevision
			err := inner.
				Where("card_id = ?", head.CardID).
				Order("created_at DESC").
				First(&prev).Error
			if err == nil {
				id := prev.RevisionID
				prevID = &id
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		revision := types.CardRevision{
			RevisionID:     uuid.New(),
			CardID:         head.CardID,
			PrevRevisionID: prevID,
			Summary:        write.Summary,
			Payload:        write.Payload,
			Reason:         write.Reason,
			Delta:          write.Delta,
			CreatedAt:      now,
		}
		if err := inner.Create(&revision).Error; err != nil {
			return err
		}
		out = &head
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cardRepo) UpdateScores(ctx context.Context, tx *gorm.DB, cardID string, strength, confidence float64, payload datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cardID == "" {
		return nil
	}
	updates := map[string]interface{}{
		"strength":   strength,
		"confidence": confidence,
	}
	if payload != nil {
		updates["payload"] = payload
	}
	// UpdateColumns skips gorm's updated_at tracking: decay must not look
	// like a content write.
	return transaction.WithContext(ctx).
		Model(&types.CardHead{}).
		Where("card_id = ?", cardID).
		UpdateColumns(updates).Error
}

func (r *cardRepo) ListForDecay(ctx context.Context, tx *gorm.DB, vantageID string, limit int) ([]*types.CardHead, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.CardHead
	q := transaction.WithContext(ctx).
		Where("vantage_id = ? AND status = ? AND kind <> ?", vantageID, types.CardStatusActive, "system").
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cardRepo) ListByTopicPrefix(ctx context.Context, tx *gorm.DB, vantageID, kind, topicPrefix string, limit int) ([]*types.CardHead, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.CardHead
	q := transaction.WithContext(ctx).
		Where("vantage_id = ? AND topic_key LIKE ?", vantageID, topicPrefix+"%").
		Order("updated_at DESC")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cardRepo) AddLink(ctx context.Context, tx *gorm.DB, cardID, linkType, refID, note string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cardID == "" || linkType == "" || refID == "" {
		return false, nil
	}
	link := types.CardLink{
		CardID:    cardID,
		LinkType:  linkType,
		RefID:     refID,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	res := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "card_id"}, {Name: "link_type"}, {Name: "ref_id"}},
			DoNothing: true,
		}).
		Create(&link)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *cardRepo) HasLink(ctx context.Context, tx *gorm.DB, cardID, linkType, refID string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.CardLink{}).
		Where("card_id = ? AND link_type = ? AND ref_id = ?", cardID, linkType, refID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *cardRepo) ListLinks(ctx context.Context, tx *gorm.DB, cardID, linkType string) ([]*types.CardLink, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.CardLink
	q := transaction.WithContext(ctx).Where("card_id = ?", cardID)
	if linkType != "" {
		q = q.Where("link_type = ?", linkType)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *cardRepo) LinkNoteCounts(ctx context.Context, tx *gorm.DB, cardID, linkType string) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Note string
		N    int64
	}
	var rows []row
	err := transaction.WithContext(ctx).
		Model(&types.CardLink{}).
		Select("note, COUNT(*) AS n").
		Where("card_id = ? AND link_type = ?", cardID, linkType).
		Group("note").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Note] = r.N
	}
	return out, nil
}

func (r *cardRepo) AddSignal(ctx context.Context, tx *gorm.DB, cardID, signalType string, magnitude float64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cardID == "" || signalType == "" {
		return nil
	}
	signal := types.CardSignal{
		SignalID:   uuid.New(),
		CardID:     cardID,
		SignalType: signalType,
		Magnitude:  magnitude,
		CreatedAt:  time.Now().UTC(),
	}
	return transaction.WithContext(ctx).Create(&signal).Error
}

func (r *cardRepo) SignalTotalsSince(ctx context.Context, tx *gorm.DB, cardID string, since time.Time) (map[string]float64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		SignalType string
		Total      float64
	}
	var rows []row
	q := transaction.WithContext(ctx).
		Model(&types.CardSignal{}).
		Select("signal_type, COALESCE(SUM(magnitude), 0) AS total").
		Where("card_id = ?", cardID).
		Group("signal_type")
	if !since.IsZero() {
		q = q.Where("created_at > ?", since)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.SignalType] = r.Total
	}
	return out, nil
}

func (r *cardRepo) ListRevisions(ctx context.Context, tx *gorm.DB, cardID string, limit int) ([]*types.CardRevision, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.CardRevision
	q := transaction.WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Retire flips status without deleting revisions or links.
func (r *cardRepo) Retire(ctx context.Context, tx *gorm.DB, cardID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cardID == "" {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.CardHead{}).
		Where("card_id = ?", cardID).
		Updates(map[string]interface{}{
			"status":     types.CardStatusRetired,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *cardRepo) Delete(ctx context.Context, tx *gorm.DB, cardID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if cardID == "" {
		return nil
	}
	return transaction.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		if err := inner.Where("card_id = ?", cardID).Delete(&types.CardSignal{}).Error; err != nil {
			return err
		}
		if err := inner.Where("card_id = ?", cardID).Delete(&types.CardLink{}).Error; err != nil {
			return err
		}
		if err := inner.Where("card_id = ?", cardID).Delete(&types.CardRevision{}).Error; err != nil {
			return err
		}
		return inner.Where("card_id = ?", cardID).Delete(&types.CardHead{}).Error
	})
}

func (r *cardRepo) DeleteByTopicPrefix(ctx context.Context, tx *gorm.DB, vantageID, topicPrefix string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []string
	err := transaction.WithContext(ctx).
		Model(&types.CardHead{}).
		Where("vantage_id = ? AND topic_key LIKE ?", vantageID, topicPrefix+"%").
		Pluck("card_id", &ids).Error
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := r.Delete(ctx, transaction, id); err != nil {
			return 0, err
		}
	}
	return int64(len(ids)), nil
}
