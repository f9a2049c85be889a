package memlog

import (
	"context"
	"sort"
	"strings"

	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
	"github.com/yungbote/brains-backend/internal/retrieval"
)

// Retrieve is the raw corpus search. No rescoring, no policy: one named
// collection, or all non-ignored collections merged by score.
func (s *service) Retrieve(ctx context.Context, query, collection string, topK int, threshold *float64) ([]retrieval.Hit, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = envutil.Int("RETRIEVE_TOP_K", 8)
	}
	thr := envutil.Float("RETRIEVE_THRESHOLD", 0.30)
	if threshold != nil {
		thr = *threshold
	}

	vectors, err := s.ai.Embed(ctx, []string{q})
	if err != nil {
		return nil, err
	}
	vec := vectors[0]

	var collections []string
	if collection != "" && collection != "ALL" {
		collections = []string{collection}
	} else {
		names, err := s.store.ListCollections(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if n != s.collection {
				collections = append(collections, n)
			}
		}
		sort.Strings(collections)
	}

	var all []retrieval.Hit
	for _, coll := range collections {
		hits, err := s.store.Search(ctx, coll, vec, qdrant.SearchOptions{
			Limit:       topK,
			Threshold:   &thr,
			WithPayload: true,
		})
		if err != nil {
			// One bad collection never sinks the query.
			s.log.Warn("retrieve search failed", "collection", coll, "error", err)
			continue
		}
		for _, h := range hits {
			all = append(all, retrieval.Hit{
				Collection: coll,
				ID:         h.ID,
				Score:      h.Score,
				Payload:    h.Payload,
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

// RetrieveMemory searches the personal memory collection directly, without
// the chat path's rescoring. A user id scopes the search to that user's
// points after canonicalization.
func (s *service) RetrieveMemory(ctx context.Context, query, userID, vantageID string, topK int, threshold *float64) ([]retrieval.Hit, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}
	thr := 0.0
	if threshold != nil {
		thr = *threshold
	}

	vectors, err := s.ai.Embed(ctx, []string{q})
	if err != nil {
		return nil, err
	}

	var filter map[string]any
	if uid := strings.TrimSpace(userID); uid != "" {
		canonical := s.ids.Canonical(ctx, normVantage(vantageID), uid)
		filter = map[string]any{"user_id": canonical}
	}

	hits, err := s.store.Search(ctx, s.collection, vectors[0], qdrant.SearchOptions{
		Filter:      filter,
		Limit:       topK,
		Threshold:   &thr,
		WithPayload: true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]retrieval.Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, retrieval.Hit{
			Collection: s.collection,
			ID:         h.ID,
			Score:      h.Score,
			Payload:    h.Payload,
		})
	}
	return out, nil
}
