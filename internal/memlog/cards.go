package memlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
)

var (
	ErrCardNotFound    = errors.New("card not found")
	ErrOwnerMismatch   = errors.New("card owner mismatch")
	ErrSingletonLocked = errors.New("singleton card is system-managed")
)

// ConflictError reports an optimistic-concurrency failure on card upsert.
type ConflictError struct {
	CardID           string
	CurrentUpdatedAt string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("card %s updated_at mismatch (current %s)", e.CardID, e.CurrentUpdatedAt)
}

// defaultCardKinds is the card console's kind filter when the caller does
// not name kinds explicitly.
var defaultCardKinds = []string{
	"user_identity",
	"assistant_identity",
	"user_instructions",
	"style",
	"style_mode",
	"preference",
	"gravity_profile",
	"vb_desire_profile",
	"persona_profile",
	"preference_profile",
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadTags(payload map[string]any) []string {
	var out []string
	switch tv := payload["tags"].(type) {
	case []string:
		out = append(out, tv...)
	case []any:
		for _, t := range tv {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// vantageMatches enforces the per-vantage namespace: points without a
// vantage_id belong to the default vantage only.
func vantageMatches(payload map[string]any, vid string) bool {
	pv, present := payload["vantage_id"]
	if !present || pv == nil {
		return vid == "default"
	}
	sv, ok := pv.(string)
	if !ok {
		return false
	}
	if sv == "" {
		return vid == "default"
	}
	return sv == vid
}

func (s *service) ListCards(ctx context.Context, userID, vantageID string, kinds []string, limit int) ([]CardListItem, error) {
	vid := normVantage(vantageID)
	uid := s.ids.Canonical(ctx, vid, strings.TrimSpace(userID))
	if uid == "" {
		uid = "anon"
	}
	if limit <= 0 {
		limit = 50
	}
	klist := kinds
	if len(klist) == 0 {
		klist = defaultCardKinds
	}

	scanLimit := limit * 8
	if scanLimit < 256 {
		scanLimit = 256
	}
	kindsAny := make([]any, 0, len(klist))
	for _, k := range klist {
		kindsAny = append(kindsAny, k)
	}

	points, _, err := s.store.Scroll(ctx, s.collection, qdrant.ScrollOptions{
		Filter: map[string]any{
			"user_id": uid,
			"kind":    map[string]any{"$in": kindsAny},
		},
		Limit:       scanLimit,
		WithPayload: true,
	})
	if err != nil {
		return nil, err
	}

	items := make([]CardListItem, 0, len(points))
	for _, p := range points {
		payload := p.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		if !vantageMatches(payload, vid) {
			continue
		}
		items = append(items, CardListItem{
			ID:        p.ID,
			Kind:      payloadString(payload, "kind"),
			Source:    payloadString(payload, "source"),
			Tags:      payloadTags(payload),
			CreatedAt: payloadString(payload, "created_at"),
			UpdatedAt: payloadString(payload, "updated_at"),
			Text:      payloadString(payload, "text"),
			Payload:   payload,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		ti := items[i].UpdatedAt
		if ti == "" {
			ti = items[i].CreatedAt
		}
		tj := items[j].UpdatedAt
		if tj == "" {
			tj = items[j].CreatedAt
		}
		return ti > tj
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *service) UpsertCard(ctx context.Context, userID, vantageID string, req CardUpsertRequest) (*CardUpsertResult, error) {
	vid := normVantage(vantageID)
	uid := s.ids.Canonical(ctx, vid, strings.TrimSpace(userID))
	if uid == "" {
		uid = "anon"
	}
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		return nil, fmt.Errorf("missing kind")
	}
	topicKey := strings.TrimSpace(req.TopicKey)
	if topicKey == "" {
		topicKey = "__singleton__"
	}
	cardID := identity.SingletonCardID(uid, kind, topicKey)

	var old map[string]any
	if points, err := s.store.Retrieve(ctx, s.collection, []string{cardID}, false); err == nil && len(points) > 0 {
		old = points[0].Payload
	}
	if old == nil {
		old = map[string]any{}
	}

	oldUpdatedAt := payloadString(old, "updated_at")
	if req.IfMatchUpdatedAt != "" && oldUpdatedAt != "" && req.IfMatchUpdatedAt != oldUpdatedAt {
		return nil, &ConflictError{CardID: cardID, CurrentUpdatedAt: oldUpdatedAt}
	}

	now := isoNow()
	created := payloadString(old, "created_at")
	if created == "" {
		created = now
	}

	tags := req.Tags
	if tags == nil {
		tags = payloadTags(old)
		if len(tags) == 0 {
			tags = []string{"card", kind}
		}
	}
	baseImportance := 0.7
	if req.BaseImportance != nil {
		baseImportance = *req.BaseImportance
	} else if v, ok := old["base_importance"].(float64); ok {
		baseImportance = v
	}
	text := ""
	if req.Text != nil {
		text = *req.Text
	} else {
		text = payloadString(old, "text")
	}

	payload := map[string]any{
		"user_id":         uid,
		"vantage_id":      vid,
		"kind":            kind,
		"topic_key":       topicKey,
		"source":          "memory_card",
		"tags":            tags,
		"base_importance": baseImportance,
		"created_at":      created,
		"updated_at":      now,
		"text":            text,
	}
	// Extra fields merge in without clobbering identity keys.
	for k, v := range req.Payload {
		switch k {
		case "user_id", "kind", "topic_key", "source", "created_at":
			continue
		}
		payload[k] = v
	}

	embedText := text
	if embedText == "" {
		embedText = fmt.Sprintf("%s card for %s", kind, uid)
	}
	vectors, err := s.ai.Embed(ctx, []string{embedText})
	if err != nil {
		return nil, err
	}
	if err := s.store.Upsert(ctx, s.collection, []qdrant.Point{{
		ID:      cardID,
		Vector:  vectors[0],
		Payload: payload,
	}}); err != nil {
		return nil, err
	}

	return &CardUpsertResult{
		CardID:    cardID,
		UserID:    uid,
		VantageID: vid,
		Kind:      kind,
		TopicKey:  topicKey,
		CreatedAt: created,
		UpdatedAt: now,
	}, nil
}

func (s *service) DeleteCard(ctx context.Context, userID, vantageID, cardID string) (string, error) {
	vid := normVantage(vantageID)
	uid := s.ids.Canonical(ctx, vid, strings.TrimSpace(userID))
	if uid == "" {
		uid = "anon"
	}

	points, err := s.store.Retrieve(ctx, s.collection, []string{cardID}, false)
	if err != nil {
		return "", err
	}
	if len(points) == 0 {
		return "", ErrCardNotFound
	}
	payload := points[0].Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if strings.TrimSpace(payloadString(payload, "user_id")) != uid {
		return "", ErrOwnerMismatch
	}
	if strings.TrimSpace(payloadString(payload, "topic_key")) == "__singleton__" {
		return "", ErrSingletonLocked
	}

	if err := s.store.DeleteByIDs(ctx, s.collection, []string{cardID}); err != nil {
		return "", err
	}
	return cardID, nil
}
