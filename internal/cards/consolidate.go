// Package cards maintains the evolving per-user topic cards: consolidation
// folds extracted attribute claims into stable cards, and decay ages
// strength/confidence between reinforcements.
package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

const (
	CursorTopicKey     = "consolidate_kv_v2_cursor"
	consolidateReason  = "consolidate_kv_v2"
	consolidateMode    = "card_consolidate_kv_v2"
	cursorMode         = "consolidate_kv_v2_cursor"
	linkNoteOK         = "ok"
	linkNoteNoDoc      = "skip:no_doc_entity"
	linkNoteNoClaims   = "skip:no_attr_claims"
	linkNoteIgnored    = "skip:ignored_attr_keys"
	topValueHistoryLen = 5
)

// Harness/test attribute keys never become preference cards. "audit" is not
// here: it maps to its own card kind instead.
var ignoredAttrKeys = map[string]bool{
	"return_exactly": true,
	"say_exactly":    true,
	"seedmemory":     true,
	"seed_note":      true,
	"threadctx":      true,
}

func attrIgnored(key string) bool {
	return ignoredAttrKeys[key]
}

type ConsolidateResult struct {
	UpdatedCards int      `json:"updated_cards"`
	CardIDs      []string `json:"card_ids"`
	LimitSources int      `json:"limit_sources"`
}

type Service interface {
	// ConsolidateFromKV folds attribute claims from finished sources into
	// per-user topic cards, advancing the cursor card as it goes.
	ConsolidateFromKV(ctx context.Context, vantageID string, limitSources int) (*ConsolidateResult, error)
	Decay(ctx context.Context, vantageID string, opts DecayOptions) (*DecayResult, error)
}

type service struct {
	db       *gorm.DB
	cards    repos.CardRepo
	sources  repos.SourceRepo
	entities repos.EntityRepo
	claims   repos.ClaimRepo
	identity identity.Service
	log      *logger.Logger
}

func NewService(
	db *gorm.DB,
	cards repos.CardRepo,
	sources repos.SourceRepo,
	entities repos.EntityRepo,
	claims repos.ClaimRepo,
	ids identity.Service,
	baseLog *logger.Logger,
) Service {
	return &service{
		db:       db,
		cards:    cards,
		sources:  sources,
		entities: entities,
		claims:   claims,
		identity: ids,
		log:      baseLog.With("service", "CardService"),
	}
}

func decodeJSONMap(raw datatypes.JSON) map[string]any {
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

func encodeJSONMap(m map[string]any) datatypes.JSON {
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

func (s *service) ensureCard(ctx context.Context, tx *gorm.DB, vantageID, kind, topicKey string) (*types.CardHead, error) {
	head, err := s.cards.GetByTopic(ctx, tx, vantageID, kind, topicKey)
	if err != nil {
		return nil, err
	}
	if head != nil {
		return head, nil
	}
	return s.cards.UpsertContent(ctx, tx, "", vantageID, kind, topicKey, repos.CardWrite{
		Summary: "",
		Payload: datatypes.JSON("{}"),
		Reason:  "create",
	})
}

func (s *service) ConsolidateFromKV(ctx context.Context, vantageID string, limitSources int) (*ConsolidateResult, error) {
	if vantageID == "" {
		vantageID = "default"
	}
	if limitSources <= 0 {
		return &ConsolidateResult{LimitSources: limitSources}, nil
	}
	out := &ConsolidateResult{LimitSources: limitSources}

	cursor, err := s.ensureCard(ctx, nil, vantageID, "system", CursorTopicKey)
	if err != nil {
		return nil, err
	}

	sources, err := s.sources.ListDoneUnlinked(ctx, nil, cursor.CardID, limitSources)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return out, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, src := range sources {
			if err := s.consolidateSource(ctx, tx, vantageID, cursor.CardID, src, out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.updateCursor(ctx, vantageID, cursor.CardID, sources, limitSources); err != nil {
		s.log.Warn("cursor update failed", "vantage_id", vantageID, "error", err)
	}
	if len(out.CardIDs) > 50 {
		out.CardIDs = out.CardIDs[:50]
	}
	return out, nil
}

func (s *service) consolidateSource(ctx context.Context, tx *gorm.DB, vantageID, cursorCardID string, src *types.Source, out *ConsolidateResult) error {
	meta := decodeJSONMap(src.Metadata)
	chatLogID, _ := meta["chat_log_id"].(string)
	aliasUserID, _ := meta["user_id"].(string)
	if aliasUserID == "" {
		aliasUserID = "unknown"
	}
	userID := s.identity.Canonical(ctx, vantageID, aliasUserID)
	if userID == "" {
		userID = aliasUserID
	}

	title := strings.TrimSpace(src.Title)
	if title == "" {
		title = "source:" + src.SourceID.String()
	}
	docEntity, err := s.entities.GetByName(ctx, tx, "document", title)
	if err != nil {
		return err
	}
	if docEntity == nil {
		_, err := s.cards.AddLink(ctx, tx, cursorCardID, "source", src.SourceID.String(), linkNoteNoDoc)
		return err
	}

	claims, err := s.claims.ListActiveByPredicatePrefix(ctx, tx, docEntity.EntityID, "attr.")
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		_, err := s.cards.AddLink(ctx, tx, cursorCardID, "source", src.SourceID.String(), linkNoteNoClaims)
		return err
	}

	hasEffective := false
	for _, c := range claims {
		key := strings.TrimPrefix(c.Predicate, "attr.")
		if !attrIgnored(key) && key != "audit" {
			hasEffective = true
			break
		}
	}
	note := linkNoteOK
	if !hasEffective {
		note = linkNoteIgnored
	}
	if _, err := s.cards.AddLink(ctx, tx, cursorCardID, "source", src.SourceID.String(), note); err != nil {
		return err
	}

	for _, c := range claims {
		attrKey := strings.TrimPrefix(c.Predicate, "attr.")
		if attrIgnored(attrKey) {
			continue
		}
		obj := decodeJSONMap(c.ObjectLiteral)
		val, _ := obj["v"].(string)
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}

		kind := "pref"
		if attrKey == "audit" {
			kind = "audit"
		}
		topicKey := fmt.Sprintf("user/%s/%s/%s", userID, kind, attrKey)

		if err := s.applyClaim(ctx, tx, vantageID, kind, topicKey, attrKey, val, userID, aliasUserID, chatLogID, src, c, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) applyClaim(ctx context.Context, tx *gorm.DB, vantageID, kind, topicKey, attrKey, val, userID, aliasUserID, chatLogID string, src *types.Source, claim *types.Claim, out *ConsolidateResult) error {
	head, err := s.ensureCard(ctx, tx, vantageID, kind, topicKey)
	if err != nil {
		return err
	}

	payload := decodeJSONMap(head.Payload)
	prevValue, _ := payload["current_value"].(string)

	counts := map[string]int{}
	if raw, ok := payload["value_counts"].(map[string]any); ok {
		for k, v := range raw {
			if f, ok := v.(float64); ok {
				counts[k] = int(f)
			}
		}
	}
	counts[val]++

	payload["mode"] = consolidateMode
	payload["source_id_last"] = src.SourceID.String()
	payload["chat_log_id_last"] = chatLogID
	payload["user_id"] = userID
	payload["user_id_alias"] = aliasUserID
	payload["attr_key"] = attrKey
	payload["current_value"] = val
	payload["value_counts"] = counts
	payload["last_seen_at"] = src.CreatedAt.UTC().Format(time.RFC3339)

	summary := fmt.Sprintf("%s/%s: %s\nseen: %s", kind, attrKey, val, valueHistory(counts))

	if _, err := s.cards.UpsertContent(ctx, tx, head.CardID, vantageID, kind, topicKey, repos.CardWrite{
		Summary: summary,
		Payload: encodeJSONMap(payload),
		Reason:  consolidateReason,
	}); err != nil {
		return err
	}

	newStrength, newConfidence := evidenceScores(head.Strength, head.Confidence, counts, prevValue, val)
	if roundScore(newStrength) != roundScore(head.Strength) || roundScore(newConfidence) != roundScore(head.Confidence) {
		if err := s.cards.UpdateScores(ctx, tx, head.CardID, roundScore(newStrength), roundScore(newConfidence), nil); err != nil {
			return err
		}
	}

	if _, err := s.cards.AddLink(ctx, tx, head.CardID, "source", src.SourceID.String(), "vantage_fact.source"); err != nil {
		return err
	}
	if chatLogID != "" {
		if _, err := s.cards.AddLink(ctx, tx, head.CardID, "chat_log", chatLogID, "public.chat_log"); err != nil {
			return err
		}
	}
	if _, err := s.cards.AddLink(ctx, tx, head.CardID, "claim", claim.ClaimID.String(), "vantage_fact.claim"); err != nil {
		return err
	}

	out.UpdatedCards++
	out.CardIDs = append(out.CardIDs, head.CardID)
	return nil
}

// valueHistory renders the top observed values as "value×count" pairs.
func valueHistory(counts map[string]int) string {
	type kv struct {
		k string
		n int
	}
	rows := make([]kv, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, kv{k, n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].k < rows[j].k
	})
	if len(rows) > topValueHistoryLen {
		rows = rows[:topValueHistoryLen]
	}
	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		parts = append(parts, fmt.Sprintf("%s×%d", r.k, r.n))
	}
	return strings.Join(parts, ", ")
}

// evidenceScores moves strength monotonically with evidence volume and
// blends confidence toward a target driven by value agreement. A value flip
// dents confidence.
func evidenceScores(curStrength, curConfidence float64, counts map[string]int, prevValue, val string) (float64, float64) {
	totalN, topN := 0, 0
	for _, n := range counts {
		if n < 0 {
			continue
		}
		totalN += n
		if n > topN {
			topN = n
		}
	}
	if totalN <= 0 {
		totalN, topN = 1, 1
	}
	pTop := float64(topN) / float64(totalN)

	strengthTarget := clamp01(0.50 + 0.35*minF(1.0, maxF(0.0, float64(totalN-1)/10.0)))
	newStrength := maxF(curStrength, strengthTarget)

	confTarget := clamp01(0.30 + 0.40*pTop + 0.30*minF(1.0, maxF(0.0, float64(totalN-1)/5.0)))
	newConfidence := clamp01(0.7*curConfidence + 0.3*confTarget)

	if prevValue != "" && strings.TrimSpace(prevValue) != val {
		newConfidence = clamp01(minF(newConfidence, curConfidence*0.85))
	}
	return newStrength, newConfidence
}

func (s *service) updateCursor(ctx context.Context, vantageID, cursorCardID string, batch []*types.Source, limitSources int) error {
	noteCounts, err := s.cards.LinkNoteCounts(ctx, nil, cursorCardID, "source")
	if err != nil {
		return err
	}
	var totalLinks, okN int64
	for note, n := range noteCounts {
		totalLinks += n
		if note == linkNoteOK {
			okN = n
		}
	}
	doneN, err := s.sources.CountDoneChatLog(ctx, nil)
	if err != nil {
		return err
	}

	head, err := s.cards.GetByID(ctx, nil, cursorCardID)
	if err != nil || head == nil {
		return err
	}
	payload := decodeJSONMap(head.Payload)

	lastSourceID := ""
	if len(batch) > 0 {
		lastSourceID = batch[0].SourceID.String()
	}
	payload["mode"] = cursorMode
	payload["cursor_updated_at"] = time.Now().UTC().Format(time.RFC3339)
	payload["cursor_done_chatlog_sources"] = doneN
	payload["cursor_link_sources"] = totalLinks
	payload["cursor_note_counts"] = noteCounts
	payload["cursor_last_batch"] = map[string]any{
		"processed":      len(batch),
		"last_source_id": lastSourceID,
		"limit_sources":  limitSources,
	}

	summary := fmt.Sprintf("cursor: done=%d linked=%d ok=%d skip=%d last_source_id=%s",
		doneN, totalLinks, okN, totalLinks-okN, lastSourceID)

	_, err = s.cards.UpsertContent(ctx, nil, cursorCardID, vantageID, "system", CursorTopicKey, repos.CardWrite{
		Summary: summary,
		Payload: encodeJSONMap(payload),
		Reason:  "cursor",
	})
	return err
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
