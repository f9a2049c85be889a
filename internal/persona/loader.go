// Package persona assembles the persistent system-prompt blocks for a user:
// the static base, identity/style/preference cards scoped to the active
// vantage, and the global user-instructions card.
package persona

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/openai"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
)

// BasePersona is the static seed every persona block starts with.
const BasePersona = "Respond in a way that is consistent with the user's past preferences, feedback,\nand memory. Do not assume personal details or emotions unless they are stated.\nAdapt your style through reinforcement over time."

const personaScanLimit = 256

type Service interface {
	// BuildPersonaBlock composes the full persona for the user: base seed
	// plus identity, style, style-mode, preference and instruction cards.
	BuildPersonaBlock(ctx context.Context, userID, vantageID string) string

	// BuildUserInstructionsBlock returns only the global-instructions block,
	// for callers that disable full persona injection.
	BuildUserInstructionsBlock(ctx context.Context, userID, vantageID string) string

	// QuickRefresh scans recent raw messages for surface-level style
	// complaints and rewrites the deterministic style card.
	QuickRefresh(ctx context.Context, userID string, limit int) (*RefreshResult, error)
}

type RefreshResult struct {
	Status string `json:"status"`
	CardID string `json:"card_id,omitempty"`
	Text   string `json:"text,omitempty"`
}

type service struct {
	store      qdrant.MemoryStore
	ai         openai.Client
	collection string
	log        *logger.Logger
}

func NewService(store qdrant.MemoryStore, ai openai.Client, baseLog *logger.Logger) Service {
	return &service{
		store:      store,
		ai:         ai,
		collection: envutil.String("RETRIEVAL_COLLECTION", "memory_raw"),
		log:        baseLog.With("service", "PersonaService"),
	}
}

// loadPersonaPoints fetches memory_card points for the user, hard-enforcing
// the vantage namespace on our side: a point belongs to the active vantage,
// or has no vantage at all while "default" is active.
func (s *service) loadPersonaPoints(ctx context.Context, userID, vantageID string) []qdrant.Point {
	vid := strings.TrimSpace(vantageID)
	if vid == "" {
		vid = "default"
	}
	points, _, err := s.store.Scroll(ctx, s.collection, qdrant.ScrollOptions{
		Filter: map[string]any{
			"user_id": userID,
			"source":  "memory_card",
		},
		Limit:       personaScanLimit,
		WithPayload: true,
	})
	if err != nil {
		s.log.Warn("persona card scroll failed", "user_id", userID, "error", err)
		return nil
	}
	out := make([]qdrant.Point, 0, len(points))
	for _, p := range points {
		pv, present := p.Payload["vantage_id"]
		pvs, _ := pv.(string)
		if pvs == vid || ((!present || pvs == "") && vid == "default") {
			out = append(out, p)
		}
	}
	return out
}

// scorePersonaPoint ranks a card by base_importance plus feedback, bounded
// to [0, 1.5].
func scorePersonaPoint(payload map[string]any) float64 {
	base := 0.7
	if v, ok := payload["base_importance"].(float64); ok {
		base = v
	}
	fb, _ := payload["feedback"].(map[string]any)
	pos := intField(fb, "positive_signals")
	neg := intField(fb, "negative_signals")

	score := base + 0.1*float64(pos-neg)
	if score < 0 {
		score = 0
	}
	if score > 1.5 {
		score = 1.5
	}
	return score
}

func intField(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

// pickTopTexts returns up to max card texts of the given kind, preferring
// explicitly-namespaced cards over legacy ones, then score, then recency.
func pickTopTexts(points []qdrant.Point, kind string, max int) []string {
	type ranked struct {
		hasVID bool
		score  float64
		ts     string
		text   string
	}
	var rows []ranked
	for _, p := range points {
		if stringField(p.Payload, "kind") != kind {
			continue
		}
		ts := stringField(p.Payload, "updated_at")
		if ts == "" {
			ts = stringField(p.Payload, "created_at")
		}
		rows = append(rows, ranked{
			hasVID: stringField(p.Payload, "vantage_id") != "",
			score:  scorePersonaPoint(p.Payload),
			ts:     ts,
			text:   strings.TrimSpace(stringField(p.Payload, "text")),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].hasVID != rows[j].hasVID {
			return rows[i].hasVID
		}
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].ts > rows[j].ts
	})
	var texts []string
	for _, r := range rows {
		if r.text == "" {
			continue
		}
		texts = append(texts, r.text)
		if len(texts) >= max {
			break
		}
	}
	return texts
}

func bulletBlock(header string, texts []string) string {
	lines := make([]string, 0, len(texts)+1)
	lines = append(lines, header)
	for _, t := range texts {
		lines = append(lines, "- "+t)
	}
	return strings.Join(lines, "\n")
}

func (s *service) BuildPersonaBlock(ctx context.Context, userID, vantageID string) string {
	pieces := []string{BasePersona}
	points := s.loadPersonaPoints(ctx, userID, vantageID)
	if len(points) == 0 {
		return BasePersona
	}

	if texts := pickTopTexts(points, "user_identity", 1); len(texts) > 0 {
		pieces = append(pieces, bulletBlock("[User Identity]", texts))
	}
	if texts := pickTopTexts(points, "assistant_identity", 1); len(texts) > 0 {
		pieces = append(pieces, bulletBlock("[Assistant Identity]", texts))
	}
	if texts := pickTopTexts(points, "style", 3); len(texts) > 0 {
		pieces = append(pieces, bulletBlock("[User-Specific Style]", texts))
	}
	if texts := pickTopTexts(points, "style_mode", 3); len(texts) > 0 {
		pieces = append(pieces, bulletBlock("[Style Modes]", texts))
	}
	if texts := pickTopTexts(points, "preference", 5); len(texts) > 0 {
		pieces = append(pieces, bulletBlock("[User Preferences]", texts))
	}
	if texts := pickTopTexts(points, "user_instructions", 1); len(texts) > 0 && texts[0] != "" {
		pieces = append(pieces, "[USER INSTRUCTIONS — GLOBAL]\n"+texts[0])
	}

	return strings.Join(pieces, "\n\n")
}

func (s *service) BuildUserInstructionsBlock(ctx context.Context, userID, vantageID string) string {
	points := s.loadPersonaPoints(ctx, userID, vantageID)
	texts := pickTopTexts(points, "user_instructions", 1)
	if len(texts) == 0 || texts[0] == "" {
		return ""
	}
	return "[USER INSTRUCTIONS — GLOBAL]\n" + texts[0]
}

const baselineStyle = "Prefers short, dense responses. Dislikes bullet points and lists; prefers flowing paragraphs. Prefers concrete examples and applications."

func (s *service) QuickRefresh(ctx context.Context, userID string, limit int) (*RefreshResult, error) {
	if limit <= 0 {
		limit = 100
	}
	points, _, err := s.store.Scroll(ctx, s.collection, qdrant.ScrollOptions{
		Filter:      map[string]any{"user_id": userID},
		Limit:       limit,
		WithPayload: true,
	})
	if err != nil {
		return nil, err
	}

	var texts []string
	for _, p := range points {
		if t := strings.ToLower(strings.TrimSpace(stringField(p.Payload, "text"))); t != "" {
			texts = append(texts, t)
		}
	}

	contains := func(subs ...string) bool {
		for _, t := range texts {
			for _, sub := range subs {
				if strings.Contains(t, sub) {
					return true
				}
			}
		}
		return false
	}

	var prefs []string
	if contains("too long", "shorter") {
		prefs = append(prefs, "Prefers short, dense responses.")
	}
	if contains("no bullet", "no lists") {
		prefs = append(prefs, "Dislikes bullet points and lists; prefers flowing paragraphs.")
	}
	if contains("more concrete") {
		prefs = append(prefs, "Prefers concrete examples and applications.")
	}
	if contains("more philosophy") {
		prefs = append(prefs, "Prefers more philosophical framing.")
	}
	if contains("less philosophy") {
		prefs = append(prefs, "Prefers minimal philosophical framing.")
	}

	cardID := identity.SingletonCardID(userID, "style", "__singleton__")

	if len(prefs) == 0 {
		// Self-heal: recreate the baseline style card if it went missing.
		existing, err := s.store.Retrieve(ctx, s.collection, []string{cardID}, false)
		if err == nil && len(existing) > 0 {
			return &RefreshResult{Status: "no_changes"}, nil
		}
		if err := s.writeStyleCard(ctx, userID, cardID, baselineStyle); err != nil {
			s.log.Warn("baseline style recreate failed", "user_id", userID, "error", err)
			return &RefreshResult{Status: "no_changes"}, nil
		}
		return &RefreshResult{Status: "recreated_baseline", CardID: cardID, Text: baselineStyle}, nil
	}

	text := strings.Join(prefs, " ")
	if err := s.writeStyleCard(ctx, userID, cardID, text); err != nil {
		return nil, err
	}
	return &RefreshResult{Status: "updated", CardID: cardID, Text: text}, nil
}

func (s *service) writeStyleCard(ctx context.Context, userID, cardID, text string) error {
	vectors, err := s.ai.Embed(ctx, []string{text})
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return s.store.Upsert(ctx, s.collection, []qdrant.Point{{
		ID:     cardID,
		Vector: vectors[0],
		Payload: map[string]any{
			"user_id":         userID,
			"text":            text,
			"source":          "memory_card",
			"tags":            []string{"summary", "card", "style"},
			"kind":            "style",
			"topic_key":       "__singleton__",
			"base_importance": 0.7,
			"created_at":      now,
			"updated_at":      now,
		},
	}})
}
