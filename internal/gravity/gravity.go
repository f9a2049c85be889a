// Package gravity builds the per-user preference profiles that steer
// retrieval: the gravity tag-weight map and the VB desire profile. Both are
// written as deterministic singleton points in the personal memory
// collection.
package gravity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/openai"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
)

const (
	KindGravityProfile  = "gravity_profile"
	KindVBDesireProfile = "vb_desire_profile"

	scrollPageSize = 256
	memoryScanCap  = 20000
)

type Service interface {
	// ComputeGravity aggregates the user's memory points into a tag→weight
	// map. Deterministic for a fixed memory set.
	ComputeGravity(ctx context.Context, userID string) (map[string]float64, error)
	LoadGravity(ctx context.Context, userID string) map[string]float64
	RebuildGravity(ctx context.Context, userID string) (map[string]float64, error)

	BuildDesireProfile(ctx context.Context, userID string) (*DesireProfile, error)
	LoadDesireProfile(ctx context.Context, userID string) *DesireProfile
	RebuildDesireProfile(ctx context.Context, userID string) (*DesireProfile, error)
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
		log:        baseLog.With("service", "GravityService"),
	}
}

// loadMemories pulls every payload for the user, ordered as stored. Vectors
// are not needed for profile computation.
func (s *service) loadMemories(ctx context.Context, userID string) ([]map[string]any, error) {
	var out []map[string]any
	offset := ""
	for len(out) < memoryScanCap {
		points, next, err := s.store.Scroll(ctx, s.collection, qdrant.ScrollOptions{
			Filter:      map[string]any{"user_id": userID},
			Limit:       scrollPageSize,
			Offset:      offset,
			WithPayload: true,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			if p.Payload != nil {
				out = append(out, p.Payload)
			}
		}
		if next == "" {
			break
		}
		offset = next
	}
	return out, nil
}

func payloadTags(payload map[string]any) []string {
	raw, _ := payload["tags"].([]any)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func feedbackCounts(payload map[string]any) (int, int) {
	fb, _ := payload["feedback"].(map[string]any)
	return intField(fb, "positive_signals"), intField(fb, "negative_signals")
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
	case int64:
		return int(v)
	default:
		return 0
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Identity core: style_mode cards at 0.6, preference-kind cards at 0.4,
// long-term ontology/stance counts, and a light long-term tag frequency.
func identityCore(memories []map[string]any) map[string]float64 {
	weights := map[string]float64{}

	for _, mem := range memories {
		if stringField(mem, "kind") == "style_mode" {
			for _, t := range payloadTags(mem) {
				weights[t] += 0.6
			}
		}
	}

	for _, mem := range memories {
		switch stringField(mem, "kind") {
		case "user_preference", "assistant_identity", "preference":
			for _, t := range payloadTags(mem) {
				weights[t] += 0.4
			}
		}
	}

	vbCounts := map[string]int{}
	for _, mem := range memories {
		for _, t := range payloadTags(mem) {
			if strings.HasPrefix(t, "vb_ontology:") || strings.HasPrefix(t, "vb_stance:") {
				vbCounts[t]++
			}
		}
	}
	for t, c := range vbCounts {
		if strings.HasPrefix(t, "vb_ontology:") {
			weights[t] = minF(0.5, 0.1*float64(c))
		} else {
			weights[t] = minF(0.3, 0.05*float64(c))
		}
	}

	counts := map[string]int{}
	total := 0
	for _, mem := range memories {
		for _, t := range payloadTags(mem) {
			counts[t]++
			total++
		}
	}
	if total > 0 {
		for t, c := range counts {
			weights[t] = float64(c) / float64(total) * 0.2
		}
	}
	return weights
}

// Reinforced patterns: ±0.05 per feedback signal per tag plus +0.08 per
// vb_desire tag occurrence, bounded to ±0.3.
func reinforcedPatterns(memories []map[string]any) map[string]float64 {
	weights := map[string]float64{}
	for _, mem := range memories {
		tags := payloadTags(mem)
		pos, neg := feedbackCounts(mem)
		if pos != 0 || neg != 0 {
			delta := 0.05 * float64(pos-neg)
			for _, t := range tags {
				weights[t] += delta
			}
		}
		for _, t := range tags {
			if strings.HasPrefix(t, "vb_desire:") {
				weights[t] += 0.08
			}
		}
	}
	for t := range weights {
		weights[t] = clampF(weights[t], -0.3, 0.3)
	}
	return weights
}

// Recent statistical behavior: last-200 tag frequencies capped at ±0.15.
func statisticalBehavior(memories []map[string]any) map[string]float64 {
	if len(memories) == 0 {
		return map[string]float64{}
	}
	recent := memories
	if len(recent) > 200 {
		recent = recent[len(recent)-200:]
	}
	counts := map[string]int{}
	total := 0
	for _, mem := range recent {
		for _, t := range payloadTags(mem) {
			counts[t]++
			total++
		}
	}
	weights := map[string]float64{}
	if total == 0 {
		return weights
	}
	for t, c := range counts {
		weights[t] = float64(c) / float64(total) * 0.15
	}
	return weights
}

func (s *service) ComputeGravity(ctx context.Context, userID string) (map[string]float64, error) {
	memories, err := s.loadMemories(ctx, userID)
	if err != nil {
		return nil, err
	}

	gravity := map[string]float64{}
	for _, part := range []struct {
		weights map[string]float64
		factor  float64
	}{
		{identityCore(memories), 0.55},
		{reinforcedPatterns(memories), 0.30},
		{statisticalBehavior(memories), 0.15},
	} {
		for tag, value := range part.weights {
			gravity[tag] += value * part.factor
		}
	}
	for tag := range gravity {
		gravity[tag] = clampF(gravity[tag], -1.0, 1.0)
	}
	return gravity, nil
}

// LoadGravity reads the stored singleton; failures and misses return an
// empty map so retrieval degrades to no bias.
func (s *service) LoadGravity(ctx context.Context, userID string) map[string]float64 {
	id := identity.SingletonCardID(userID, KindGravityProfile, "__singleton__")
	points, err := s.store.Retrieve(ctx, s.collection, []string{id}, false)
	if err != nil || len(points) == 0 {
		return map[string]float64{}
	}
	raw, _ := points[0].Payload["weights"].(map[string]any)
	out := make(map[string]float64, len(raw))
	for tag, v := range raw {
		if f, ok := v.(float64); ok {
			out[tag] = f
		}
	}
	return out
}

func (s *service) RebuildGravity(ctx context.Context, userID string) (map[string]float64, error) {
	gravity, err := s.ComputeGravity(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.writeSingleton(ctx, userID, KindGravityProfile, map[string]any{
		"weights": gravity,
		"tags":    []string{"gravity", "system"},
		"source":  "gravity_daemon",
		"text":    fmt.Sprintf("Gravity profile for %s", userID),
	}); err != nil {
		return nil, err
	}
	return gravity, nil
}

// writeSingleton upserts the deterministic point and prunes legacy
// duplicates of the same kind down to it.
func (s *service) writeSingleton(ctx context.Context, userID, kind string, payload map[string]any) error {
	id := identity.SingletonCardID(userID, kind, "__singleton__")
	now := time.Now().UTC().Format(time.RFC3339)

	created := now
	if existing, err := s.store.Retrieve(ctx, s.collection, []string{id}, false); err == nil && len(existing) > 0 {
		if prev := stringField(existing[0].Payload, "created_at"); prev != "" {
			created = prev
		}
	}

	payload["kind"] = kind
	payload["topic_key"] = "__singleton__"
	payload["user_id"] = userID
	payload["created_at"] = created
	payload["updated_at"] = now
	payload["base_importance"] = 1.0

	text := stringField(payload, "text")
	if text == "" {
		text = kind
	}
	vectors, err := s.ai.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed %s card: %w", kind, err)
	}

	if err := s.store.Upsert(ctx, s.collection, []qdrant.Point{{
		ID:      id,
		Vector:  vectors[0],
		Payload: payload,
	}}); err != nil {
		return err
	}

	return s.dedupeSingleton(ctx, userID, kind, id)
}

func (s *service) dedupeSingleton(ctx context.Context, userID, kind, keepID string) error {
	offset := ""
	for {
		points, next, err := s.store.Scroll(ctx, s.collection, qdrant.ScrollOptions{
			Filter: map[string]any{
				"user_id": userID,
				"kind":    kind,
			},
			Limit:  scrollPageSize,
			Offset: offset,
		})
		if err != nil {
			s.log.Warn("singleton dedupe scroll failed", "kind", kind, "error", err)
			return nil
		}
		var legacy []string
		for _, p := range points {
			if p.ID != keepID {
				legacy = append(legacy, p.ID)
			}
		}
		if len(legacy) > 0 {
			if err := s.store.DeleteByIDs(ctx, s.collection, legacy); err != nil {
				s.log.Warn("singleton dedupe delete failed", "kind", kind, "error", err)
				return nil
			}
			s.log.Info("pruned legacy singleton points", "kind", kind, "deleted", len(legacy))
		}
		if next == "" {
			return nil
		}
		offset = next
	}
}

// ComputeMisalignment scores how much the query pulls against the user's
// gravity: 0.3 when the query shares no tags with the profile, otherwise the
// fraction of overlapping tags whose weight is non-positive.
func ComputeMisalignment(queryTags []string, weights map[string]float64) float64 {
	if len(weights) == 0 || len(queryTags) == 0 {
		return 0.0
	}
	var overlap, misaligned int
	for _, t := range queryTags {
		w, ok := weights[t]
		if !ok {
			continue
		}
		overlap++
		if w <= 0 {
			misaligned++
		}
	}
	if overlap == 0 {
		return 0.3
	}
	return clampF(float64(misaligned)/float64(overlap), 0.0, 1.0)
}

// GravityBonus is the per-hit rescoring contribution: +0.08·w per payload
// tag present in the profile, attenuated when the query is misaligned.
func GravityBonus(hitTags []string, weights map[string]float64, misalignment float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	scale := 1.0
	switch {
	case misalignment > 0.5:
		scale = 0.3
	case misalignment > 0.2:
		scale = 0.6
	}
	var bonus float64
	for _, t := range hitTags {
		if w, ok := weights[t]; ok {
			bonus += 0.08 * w * scale
		}
	}
	return bonus
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
