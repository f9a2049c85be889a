package gravity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
)

// DesireProfile summarizes what the user keeps asking for, bucketed by tag
// family and smoothed by feedback.
type DesireProfile struct {
	UserID          string                `json:"user_id"`
	SourceStats     DesireSourceStats     `json:"source_stats"`
	RequestPatterns DesireRequestPatterns `json:"request_patterns"`
	Inferred        DesireInferredPrefs   `json:"inferred_preferences"`
}

type DesireSourceStats struct {
	TotalUtterances     int `json:"total_utterances"`
	TotalFeedbackEvents int `json:"total_feedback_events"`
	SampleLimit         int `json:"sample_limit"`
}

type DesireRequestPatterns struct {
	ByIntent []DesireBucket `json:"by_intent"`
	ByFormat []DesireBucket `json:"by_format"`
	ByTopic  []DesireBucket `json:"by_topic"`
}

type DesireBucket struct {
	Key              string  `json:"key"`
	Count            int     `json:"count"`
	PositiveFeedback int     `json:"positive_feedback"`
	NegativeFeedback int     `json:"negative_feedback"`
	Score            float64 `json:"score"`
}

type DesireInferredPrefs struct {
	PreferredAnswerLength   string            `json:"preferred_answer_length"`
	PreferredDensity        string            `json:"preferred_density"`
	PreferredFormatDefault  string            `json:"preferred_format_default"`
	PreferredFormatOverride map[string]string `json:"preferred_format_overrides"`
	Avoidances              []string          `json:"avoidances"`
}

type bucketAcc struct {
	count float64
	pos   float64
	neg   float64
}

// bucketScore is the smoothed reinforcement score in [-1, 1]:
// (pos − neg) / max(2, count + 2).
func bucketScore(count, pos, neg float64) float64 {
	return (pos - neg) / math.Max(2.0, count+2.0)
}

func topBuckets(buckets map[string]*bucketAcc, n int) []DesireBucket {
	rows := make([]DesireBucket, 0, len(buckets))
	for key, acc := range buckets {
		rows = append(rows, DesireBucket{
			Key:              key,
			Count:            int(acc.count),
			PositiveFeedback: int(acc.pos),
			NegativeFeedback: int(acc.neg),
			Score:            math.Round(bucketScore(acc.count, acc.pos, acc.neg)*10000) / 10000,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Key < rows[j].Key
	})
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

func inferPreferences(intents, formats, topics []DesireBucket) DesireInferredPrefs {
	out := DesireInferredPrefs{
		PreferredAnswerLength:   "unspecified",
		PreferredDensity:        "unspecified",
		PreferredFormatDefault:  "unspecified",
		PreferredFormatOverride: map[string]string{},
	}
	if len(formats) > 0 {
		best := formats[0].Key
		if idx := strings.Index(best, ":"); idx >= 0 {
			out.PreferredFormatDefault = best[idx+1:]
		} else {
			out.PreferredFormatDefault = best
		}
	}
	for _, r := range intents {
		if r.Key == "intent:summarize" && r.Score > 0 {
			out.PreferredAnswerLength = "short"
		}
	}
	for _, r := range intents {
		if r.Key == "intent:analyze" && r.Score > 0 {
			out.PreferredDensity = "high"
		}
	}
	for _, r := range intents {
		if r.Score < -0.1 {
			out.Avoidances = append(out.Avoidances, r.Key)
		}
	}
	if len(out.Avoidances) > 5 {
		out.Avoidances = out.Avoidances[:5]
	}
	for _, t := range topics {
		if t.Key == "topic:workout" && out.PreferredFormatDefault == "skeleton" {
			out.PreferredFormatOverride["workout"] = "skeleton"
		}
	}
	return out
}

func (s *service) BuildDesireProfile(ctx context.Context, userID string) (*DesireProfile, error) {
	const sampleLimit = 5000

	intentBuckets := map[string]*bucketAcc{}
	formatBuckets := map[string]*bucketAcc{}
	topicBuckets := map[string]*bucketAcc{}
	totalUtterances := 0
	totalFeedback := 0

	seen := 0
	offset := ""
	for seen < sampleLimit {
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
			payload := p.Payload
			if payload == nil {
				continue
			}
			seen++
			totalUtterances++
			pos, neg := feedbackCounts(payload)
			if pos != 0 || neg != 0 {
				totalFeedback += pos + neg
			}
			for _, t := range payloadTags(payload) {
				var buckets map[string]*bucketAcc
				switch {
				case strings.HasPrefix(t, "intent:"):
					buckets = intentBuckets
				case strings.HasPrefix(t, "format:"):
					buckets = formatBuckets
				case strings.HasPrefix(t, "topic:"):
					buckets = topicBuckets
				default:
					continue
				}
				acc := buckets[t]
				if acc == nil {
					acc = &bucketAcc{}
					buckets[t] = acc
				}
				acc.count++
				acc.pos += float64(pos)
				acc.neg += float64(neg)
			}
		}
		if next == "" {
			break
		}
		offset = next
	}

	intents := topBuckets(intentBuckets, 5)
	formats := topBuckets(formatBuckets, 5)
	topics := topBuckets(topicBuckets, 5)

	return &DesireProfile{
		UserID: userID,
		SourceStats: DesireSourceStats{
			TotalUtterances:     totalUtterances,
			TotalFeedbackEvents: totalFeedback,
			SampleLimit:         sampleLimit,
		},
		RequestPatterns: DesireRequestPatterns{
			ByIntent: intents,
			ByFormat: formats,
			ByTopic:  topics,
		},
		Inferred: inferPreferences(intents, formats, topics),
	}, nil
}

func (s *service) RebuildDesireProfile(ctx context.Context, userID string) (*DesireProfile, error) {
	profile, err := s.BuildDesireProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"tags":                 []string{"card", "vb_profile", "desire"},
		"source":               "vb_desire_daemon",
		"text":                 fmt.Sprintf("VB desire profile for %s", userID),
		"source_stats":         profile.SourceStats,
		"request_patterns":     profile.RequestPatterns,
		"inferred_preferences": profile.Inferred,
	}
	if err := s.writeSingleton(ctx, userID, KindVBDesireProfile, payload); err != nil {
		return nil, err
	}
	return profile, nil
}

// LoadDesireProfile reads the singleton, falling back to the most recent
// legacy duplicate by updated_at. Misses return nil.
func (s *service) LoadDesireProfile(ctx context.Context, userID string) *DesireProfile {
	id := identity.SingletonCardID(userID, KindVBDesireProfile, "__singleton__")
	if points, err := s.store.Retrieve(ctx, s.collection, []string{id}, false); err == nil && len(points) > 0 {
		return decodeDesirePayload(userID, points[0].Payload)
	}

	points, _, err := s.store.Scroll(ctx, s.collection, qdrant.ScrollOptions{
		Filter: map[string]any{
			"user_id": userID,
			"kind":    KindVBDesireProfile,
		},
		Limit:       scrollPageSize,
		WithPayload: true,
	})
	if err != nil || len(points) == 0 {
		return nil
	}
	sort.Slice(points, func(i, j int) bool {
		ti := stringField(points[i].Payload, "updated_at")
		if ti == "" {
			ti = stringField(points[i].Payload, "created_at")
		}
		tj := stringField(points[j].Payload, "updated_at")
		if tj == "" {
			tj = stringField(points[j].Payload, "created_at")
		}
		return ti < tj
	})
	return decodeDesirePayload(userID, points[len(points)-1].Payload)
}

func decodeDesirePayload(userID string, payload map[string]any) *DesireProfile {
	out := &DesireProfile{UserID: userID}
	rp, _ := payload["request_patterns"].(map[string]any)
	out.RequestPatterns = DesireRequestPatterns{
		ByIntent: decodeBuckets(rp, "by_intent"),
		ByFormat: decodeBuckets(rp, "by_format"),
		ByTopic:  decodeBuckets(rp, "by_topic"),
	}
	return out
}

func decodeBuckets(rp map[string]any, key string) []DesireBucket {
	if rp == nil {
		return nil
	}
	rows, _ := rp[key].([]any)
	out := make([]DesireBucket, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		score, _ := m["score"].(float64)
		out = append(out, DesireBucket{
			Key:              stringField(m, "key"),
			Count:            intField(m, "count"),
			PositiveFeedback: intField(m, "positive_feedback"),
			NegativeFeedback: intField(m, "negative_feedback"),
			Score:            score,
		})
	}
	return out
}

// DesireBiasMap converts a profile's bucket scores into the small per-tag
// rescoring nudges: format 0.12, topic 0.10, intent 0.06, clamped to ±0.25.
func DesireBiasMap(profile *DesireProfile) map[string]float64 {
	bias := map[string]float64{}
	if profile == nil {
		return bias
	}
	rows := append(append([]DesireBucket{}, profile.RequestPatterns.ByIntent...),
		profile.RequestPatterns.ByFormat...)
	rows = append(rows, profile.RequestPatterns.ByTopic...)

	for _, r := range rows {
		if r.Key == "" {
			continue
		}
		s := clampF(r.Score, -1.0, 1.0)
		switch {
		case strings.HasPrefix(r.Key, "format:"):
			bias[r.Key] += 0.12 * s
		case strings.HasPrefix(r.Key, "topic:"):
			bias[r.Key] += 0.10 * s
		case strings.HasPrefix(r.Key, "intent:"):
			bias[r.Key] += 0.06 * s
		}
	}
	for k := range bias {
		bias[k] = clampF(bias[k], -0.25, 0.25)
	}
	return bias
}
