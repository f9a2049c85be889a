// Package retrieval is the query-side engine: lexical tagging feeds a
// personal memory search over the user's collection and a policy-driven
// corpus search, and the two result sets are rescored and merged.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/brains-backend/internal/gravity"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/openai"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
	"github.com/yungbote/brains-backend/internal/policy"
	"github.com/yungbote/brains-backend/internal/tagging"
)

// Collections never used as corpus.
var ignoredCollections = map[string]bool{"memory_raw": true}

const (
	BucketPersonal = "personal"
	BucketCorpus   = "corpus"
)

// Hit is a rescored retrieval result.
type Hit struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Score      float64        `json:"score"`
	Payload    map[string]any `json:"payload"`
	Bucket     string         `json:"bucket,omitempty"`
}

// PersonalResult carries the reranked personal hits together with the
// gravity misalignment computed for this query.
type PersonalResult struct {
	Hits         []Hit
	Misalignment float64
	QueryTags    []string
}

type Engine interface {
	RetrievePersonal(ctx context.Context, userID, query string, topK int, threshold *float64, vantageID string) (*PersonalResult, error)
	RetrieveCorpus(ctx context.Context, query string, topK int, threshold *float64, vantageID string) ([]Hit, error)
	// Compose merges personal[:kPersonal] + corpus[:kCorpus], sorts by score
	// and truncates to topK.
	Compose(personal, corpus []Hit, kPersonal, kCorpus, topK int) []Hit
}

type engine struct {
	store    qdrant.MemoryStore
	ai       openai.Client
	policies policy.Service
	gravity  gravity.Service
	personal string
	log      *logger.Logger
}

func NewEngine(store qdrant.MemoryStore, ai openai.Client, policies policy.Service, grav gravity.Service, baseLog *logger.Logger) Engine {
	return &engine{
		store:    store,
		ai:       ai,
		policies: policies,
		gravity:  grav,
		personal: envutil.String("RETRIEVAL_COLLECTION", "memory_raw"),
		log:      baseLog.With("service", "RetrievalEngine"),
	}
}

// Instrumentation prompts are never treated as memory.
var promptyMarkers = []string{
	"reply with only",
	"return exactly",
	"echo ",
	"one token",
	"no punctuation",
	"answer in one sentence",
	"debug",
	"preflight_",
	"memtest:",
	"memoryseed:",
	"seedmemory:",
}

var probePrefixes = []string{
	"say exactly:",
	"return exactly:",
	"reply with only",
	"reply with exactly",
	"echo decision",
	"echo model",
	"echo threadctx",
	"memtest:",
	"memoryseed:",
	"preflight_",
	"preflight:",
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func queryIsProbe(q string) bool {
	return hasAnyPrefix(q, probePrefixes) || strings.Contains(q, "echo model id")
}

func payloadTagSet(payload map[string]any) map[string]bool {
	out := map[string]bool{}
	switch tv := payload["tags"].(type) {
	case []any:
		for _, t := range tv {
			if s, ok := t.(string); ok {
				out[s] = true
			}
		}
	case map[string]any:
		for k := range tv {
			out[k] = true
		}
	}
	return out
}

func userTagSet(payload map[string]any) map[string]bool {
	out := map[string]bool{}
	if raw, ok := payload["user_tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				out[s] = true
			}
		}
	}
	return out
}

func feedbackNet(payload map[string]any) int {
	fb, _ := payload["feedback"].(map[string]any)
	return intOf(fb, "positive_signals") - intOf(fb, "negative_signals")
}

func intOf(m map[string]any, key string) int {
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

func stringOf(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RescorePersonalHit applies the full personal rerank to one hit: feedback
// counts, format/topic/intent alignment against the query tags, gravity
// alignment and the desire bias map. Exported so the feedback path and tests
// can reuse it.
func RescorePersonalHit(base float64, payload map[string]any, queryTags []string, weights map[string]float64, misalignment float64, biasMap map[string]float64) float64 {
	score := base

	score += clamp(0.05*float64(feedbackNet(payload)), -0.5, 0.5)

	payloadTags := payloadTagSet(payload)
	for t := range userTagSet(payload) {
		payloadTags[t] = true
	}
	qt := map[string]bool{}
	for _, t := range queryTags {
		qt[t] = true
	}

	if qt["format:skeleton"] {
		if payloadTags["format:skeleton"] {
			score += 0.15
		} else if payloadTags["format:prose"] {
			score -= 0.10
		}
	}
	if qt["format:prose"] {
		if payloadTags["format:prose"] {
			score += 0.15
		} else if payloadTags["format:skeleton"] {
			score -= 0.10
		}
	}
	if qt["tone:meta"] && payloadTags["tone:meta"] {
		score += 0.05
	}
	for t := range qt {
		if strings.HasPrefix(t, "topic:") && payloadTags[t] {
			score += 0.08
		}
		if strings.HasPrefix(t, "intent:") && payloadTags[t] {
			score += 0.04
		}
	}

	tagList := make([]string, 0, len(payloadTags))
	for t := range payloadTags {
		tagList = append(tagList, t)
	}
	score += gravity.GravityBonus(tagList, weights, misalignment)

	if len(biasMap) > 0 {
		var vb float64
		for t := range payloadTags {
			vb += biasMap[t]
		}
		score += vb
	}

	return score
}

func (e *engine) RetrievePersonal(ctx context.Context, userID, query string, topK int, threshold *float64, vantageID string) (*PersonalResult, error) {
	q := strings.TrimSpace(query)
	if q == "" || userID == "" {
		return &PersonalResult{}, nil
	}
	vid := strings.TrimSpace(vantageID)
	if vid == "" {
		vid = "default"
	}
	if topK <= 0 {
		topK = 5
	}

	vectors, err := e.ai.Embed(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	vec := vectors[0]

	queryTags := tagging.InferQueryTags(q)
	weights := e.gravity.LoadGravity(ctx, userID)
	misalignment := 0.0
	if len(weights) > 0 {
		misalignment = gravity.ComputeMisalignment(queryTags, weights)
	}
	biasMap := gravity.DesireBiasMap(e.gravity.LoadDesireProfile(ctx, userID))

	thr := 0.20
	if threshold != nil {
		thr = *threshold
	}

	// Namespace handling (active vid OR legacy missing vantage_id) is done as
	// a post-filter, so over-fetch to leave the rerank room.
	limit := topK * 16
	if limit < 80 {
		limit = 80
	}
	hits, err := e.store.Search(ctx, e.personal, vec, qdrant.SearchOptions{
		Filter: map[string]any{
			"user_id": userID,
			"source": map[string]any{
				"$nin": []string{
					"frontend/chat:assistant",
					"gravity_daemon",
					"vb_desire_daemon",
					"memory_card",
				},
			},
		},
		Limit:       limit,
		Threshold:   &thr,
		WithPayload: true,
	})
	if err != nil {
		return nil, err
	}

	qNorm := strings.ToLower(q)
	isProbe := queryIsProbe(qNorm)
	seenIDs := map[string]bool{}
	seenTexts := map[string]bool{}
	var results []Hit

	for _, h := range hits {
		if seenIDs[h.ID] {
			continue
		}
		seenIDs[h.ID] = true

		payload := h.Payload
		if payload == nil {
			payload = map[string]any{}
		}

		pv, hasVID := payload["vantage_id"]
		pvs, _ := pv.(string)
		if !(pvs == vid || ((!hasVID || pvs == "") && vid == "default")) {
			continue
		}

		txt := strings.TrimSpace(stringOf(payload, "text"))
		txtNorm := strings.ToLower(txt)
		src := strings.TrimSpace(stringOf(payload, "source"))

		if !isProbe && src != "memory_card" && hasAnyPrefix(txtNorm, probePrefixes) {
			continue
		}
		if txtNorm == qNorm {
			continue
		}
		if txtNorm != "" {
			if seenTexts[txtNorm] {
				continue
			}
			seenTexts[txtNorm] = true
		}
		if src == "frontend/chat:user" {
			skip := false
			for _, m := range promptyMarkers {
				if strings.Contains(txtNorm, m) {
					skip = true
					break
				}
			}
			if skip {
				continue
			}
		}

		results = append(results, Hit{
			Collection: e.personal,
			ID:         h.ID,
			Score:      RescorePersonalHit(h.Score, payload, queryTags, weights, misalignment, biasMap),
			Payload:    payload,
			Bucket:     BucketPersonal,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return &PersonalResult{Hits: results, Misalignment: misalignment, QueryTags: queryTags}, nil
}

func corpusTagBonus(queryTags map[string]bool, payloadTags map[string]bool) float64 {
	var bonus float64
	if queryTags["format:skeleton"] {
		if payloadTags["format:skeleton"] {
			bonus += 0.05
		} else if payloadTags["format:prose"] {
			bonus -= 0.02
		}
	}
	if queryTags["format:prose"] {
		if payloadTags["format:prose"] {
			bonus += 0.05
		} else if payloadTags["format:skeleton"] {
			bonus -= 0.02
		}
	}
	if queryTags["tone:meta"] && payloadTags["tone:meta"] {
		bonus += 0.05
	}
	for t := range queryTags {
		if (strings.HasPrefix(t, "intent:") || strings.HasPrefix(t, "topic:")) && payloadTags[t] {
			bonus += 0.05
		}
	}
	return bonus
}

func dedupeKeepOrder(xs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, x := range xs {
		x = strings.TrimSpace(x)
		if x == "" || seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, x)
	}
	return out
}

// effectiveCollections resolves primary/fallback corpus lists for the query:
// stored policy over env defaults, then per-topic overrides keyed by the
// first matching topic tag in sorted order.
func (e *engine) effectiveCollections(ctx context.Context, vid string, queryTags []string, available map[string]bool) (primary, fallback []string) {
	pol, err := e.policies.Effective(ctx, vid)
	if err != nil || pol == nil {
		pol = &policy.Policy{}
	}
	primary = append([]string{}, pol.CorpusPrimary...)
	fallback = append([]string{}, pol.CorpusFallback...)

	if len(primary) == 0 {
		for name := range available {
			primary = append(primary, name)
		}
		sort.Strings(primary)
	}

	if len(pol.TopicOverrides) > 0 {
		sorted := append([]string{}, queryTags...)
		sort.Strings(sorted)
		for _, t := range sorted {
			if !strings.HasPrefix(t, "topic:") {
				continue
			}
			if override, ok := pol.TopicOverrides[t]; ok {
				primary = append([]string{}, override...)
				break
			}
		}
	}

	filter := func(names []string, exclude map[string]bool) []string {
		var out []string
		for _, n := range dedupeKeepOrder(names) {
			if ignoredCollections[n] || exclude[n] {
				continue
			}
			if len(available) > 0 && !available[n] {
				continue
			}
			out = append(out, n)
		}
		return out
	}
	primary = filter(primary, nil)
	primarySet := map[string]bool{}
	for _, n := range primary {
		primarySet[n] = true
	}
	fallback = filter(fallback, primarySet)
	return primary, fallback
}

func (e *engine) RetrieveCorpus(ctx context.Context, query string, topK int, threshold *float64, vantageID string) ([]Hit, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	vid := strings.TrimSpace(vantageID)
	if vid == "" {
		vid = "default"
	}
	if topK <= 0 {
		topK = 5
	}

	vectors, err := e.ai.Embed(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	vec := vectors[0]

	queryTags := map[string]bool{}
	for _, t := range tagging.InferQueryTags(q) {
		queryTags[t] = true
	}

	available := map[string]bool{}
	if names, err := e.store.ListCollections(ctx); err == nil {
		for _, n := range names {
			if !ignoredCollections[n] {
				available[n] = true
			}
		}
	} else {
		e.log.Warn("list collections failed", "error", err)
	}

	primary, fallback := e.effectiveCollections(ctx, vid, tagging.InferQueryTags(q), available)

	thr := envutil.Float("RETRIEVE_THRESHOLD", 0.30)
	if threshold != nil {
		thr = *threshold
	}

	var mu sync.Mutex
	var all []Hit

	searchOne := func(ctx context.Context, coll string) error {
		hits, err := e.store.Search(ctx, coll, vec, qdrant.SearchOptions{
			Limit:       topK,
			Threshold:   &thr,
			WithPayload: true,
		})
		if err != nil {
			// One bad collection never fails the whole query.
			e.log.Warn("corpus search failed", "collection", coll, "error", err)
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		for _, h := range hits {
			payload := h.Payload
			if payload == nil {
				payload = map[string]any{}
			}
			all = append(all, Hit{
				Collection: coll,
				ID:         h.ID,
				Score:      h.Score + corpusTagBonus(queryTags, payloadTagSet(payload)),
				Payload:    payload,
				Bucket:     BucketCorpus,
			})
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, coll := range primary {
		coll := coll
		g.Go(func() error { return searchOne(gctx, coll) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(all) < topK {
		for _, coll := range fallback {
			if err := searchOne(ctx, coll); err != nil {
				return nil, err
			}
			if len(all) >= topK {
				break
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

func (e *engine) Compose(personal, corpus []Hit, kPersonal, kCorpus, topK int) []Hit {
	if kPersonal > len(personal) {
		kPersonal = len(personal)
	}
	if kCorpus > len(corpus) {
		kCorpus = len(corpus)
	}
	merged := make([]Hit, 0, kPersonal+kCorpus)
	merged = append(merged, personal[:kPersonal]...)
	merged = append(merged, corpus[:kCorpus]...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}
