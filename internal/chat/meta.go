package chat

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/brains-backend/internal/gravity"
	"github.com/yungbote/brains-backend/internal/retrieval"
	"github.com/yungbote/brains-backend/internal/tagging"
)

// Meta is the "why does this answer look like this" explanation returned
// next to every generated answer.
type Meta struct {
	QueryTags       []string         `json:"query_tags"`
	FeedbackSummary *FeedbackSummary `json:"feedback_summary"`
	TopicTags       []string         `json:"topic_tags"`
	Summary         string           `json:"summary"`
	Consistency     *ConsistencyMeta `json:"consistency"`
	Gravity         *GravityMeta     `json:"gravity"`
	Temporal        *TemporalInfo    `json:"temporal"`
	Model           *ModelMeta       `json:"model,omitempty"`
	Identity        *IdentityMeta    `json:"identity,omitempty"`
	Vantage         *VantageMeta     `json:"vantage,omitempty"`
}

type FeedbackSummary struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}

type ConsistencyMeta struct {
	HistoricalFormat     string `json:"historical_format"`
	CurrentRequestFormat string `json:"current_request_format"`
	FormatShift          string `json:"format_shift"`
}

type GravityMeta struct {
	Misalignment float64 `json:"misalignment"`
	Label        string  `json:"label"`
}

type ModelMeta struct {
	ID string `json:"id"`
}

type IdentityMeta struct {
	VantageID       string `json:"vantage_id"`
	UserIDAlias     string `json:"user_id_alias"`
	CanonicalUserID string `json:"canonical_user_id"`
}

// VantageMeta carries the controller-path extras: result counts always,
// engine internals only when debug is on.
type VantageMeta struct {
	Counts         *VantageCounts      `json:"counts,omitempty"`
	ThreadContext  *ThreadContextStats `json:"thread_context,omitempty"`
	SD             any                 `json:"sd,omitempty"`
	Limits         any                 `json:"limits,omitempty"`
	Params         any                 `json:"params,omitempty"`
	Decision       any                 `json:"decision,omitempty"`
	PragmaticsPath string              `json:"pragmatics_path,omitempty"`
}

type VantageCounts struct {
	KMemory int `json:"k_memory"`
	KCorpus int `json:"k_corpus"`
}

func misalignmentLabel(m float64) string {
	switch {
	case m < 0.15:
		return "aligned"
	case m < 0.40:
		return "mild_escape"
	case m < 0.70:
		return "strong_escape"
	default:
		return "disconnected"
	}
}

func (s *service) buildMeta(ctx context.Context, userID, message string, memoryChunks []retrieval.Hit) *Meta {
	queryTags := tagging.InferQueryTags(strings.TrimSpace(message))
	qt := map[string]bool{}
	for _, t := range queryTags {
		qt[t] = true
	}

	totalPos, totalNeg := 0, 0
	topicTags := map[string]bool{}
	fmtCounts := map[string]int{"format:skeleton": 0, "format:prose": 0}

	for _, h := range memoryChunks {
		payload := h.Payload
		if fb, ok := payload["feedback"].(map[string]any); ok {
			totalPos += intOf(fb, "positive_signals")
			totalNeg += intOf(fb, "negative_signals")
		}
		tags := tagsOf(payload)
		for _, t := range tags {
			if strings.HasPrefix(t, "topic:") {
				topicTags[strings.TrimPrefix(t, "topic:")] = true
			}
		}
		if h.Collection == s.collection {
			for _, t := range tags {
				if _, ok := fmtCounts[t]; ok {
					fmtCounts[t]++
				}
			}
		}
	}

	var fmtBits, feedbackBits, topicBits []string
	if qt["format:skeleton"] {
		fmtBits = append(fmtBits, "user explicitly asked for skeleton / outline style")
	}
	if qt["format:prose"] {
		fmtBits = append(fmtBits, "user explicitly asked for narrative / prose style")
	}
	if totalPos > 0 || totalNeg > 0 {
		feedbackBits = append(feedbackBits,
			"related memories have feedback +"+strconv.Itoa(totalPos)+" / -"+strconv.Itoa(totalNeg))
	}
	topicList := sortedKeys(topicTags)
	if len(topicList) > 0 {
		topicBits = append(topicBits, "topics seen in used memories: "+strings.Join(topicList, ", "))
	}

	var summaryParts []string
	if len(fmtBits) > 0 {
		summaryParts = append(summaryParts, "format: "+strings.Join(fmtBits, "; "))
	}
	if len(feedbackBits) > 0 {
		summaryParts = append(summaryParts, strings.Join(feedbackBits, "; "))
	}
	if len(topicBits) > 0 {
		summaryParts = append(summaryParts, strings.Join(topicBits, "; "))
	}

	historical := "undetermined"
	if fmtCounts["format:skeleton"] > fmtCounts["format:prose"] {
		historical = "skeleton-leaning"
	} else if fmtCounts["format:prose"] > fmtCounts["format:skeleton"] {
		historical = "prose-leaning"
	}

	current := "unspecified"
	if qt["format:skeleton"] {
		current = "skeleton"
	} else if qt["format:prose"] {
		current = "prose"
	}

	shift := "aligned_or_unknown"
	if current == "skeleton" && historical == "prose-leaning" {
		shift = "user_now_requesting_skeleton_vs_historical_prose"
	} else if current == "prose" && historical == "skeleton-leaning" {
		shift = "user_now_requesting_prose_vs_historical_skeleton"
	}

	grav := &GravityMeta{Label: "no_gravity"}
	if userID != "" {
		weights := s.gravity.LoadGravity(ctx, userID)
		if len(weights) > 0 {
			sortedTags := append([]string{}, queryTags...)
			sort.Strings(sortedTags)
			grav.Misalignment = gravity.ComputeMisalignment(sortedTags, weights)
			grav.Label = misalignmentLabel(grav.Misalignment)
		}
	}

	sortedQuery := append([]string{}, queryTags...)
	sort.Strings(sortedQuery)

	return &Meta{
		QueryTags:       sortedQuery,
		FeedbackSummary: &FeedbackSummary{Positive: totalPos, Negative: totalNeg},
		TopicTags:       topicList,
		Summary:         strings.Join(summaryParts, " "),
		Consistency: &ConsistencyMeta{
			HistoricalFormat:     historical,
			CurrentRequestFormat: current,
			FormatShift:          shift,
		},
		Gravity:  grav,
		Temporal: s.Temporal(ctx, userID),
	}
}

func tagsOf(payload map[string]any) []string {
	var out []string
	collect := func(raw any) {
		if list, ok := raw.([]any); ok {
			for _, t := range list {
				if s, ok := t.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	collect(payload["tags"])
	collect(payload["user_tags"])
	return out
}

func intOf(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
