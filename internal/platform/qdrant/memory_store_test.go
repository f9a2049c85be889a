package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/yungbote/brains-backend/internal/platform/logger"
)

func TestMemoryStoreUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	s := newTestMemoryStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/memory_cards/points" {
			t.Fatalf("path: want=%q got=%q", "/collections/memory_cards/points", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	payload := map[string]any{"kind": "preference"}
	err := s.Upsert(context.Background(), "memory_cards", []Point{
		{ID: "card-1", Vector: []float32{1, 2, 3}, Payload: payload},
		{ID: "card-2", Vector: []float32{4, 5, 6}, Payload: map[string]any{"kind": "style"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	pointsRaw, ok := captured["points"].([]any)
	if !ok {
		t.Fatalf("points type: got=%T", captured["points"])
	}
	if len(pointsRaw) != 2 {
		t.Fatalf("points length: want=2 got=%d", len(pointsRaw))
	}

	first, ok := pointsRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("point[0] type: got=%T", pointsRaw[0])
	}
	if first["id"] != "card-1" {
		t.Fatalf("point id mismatch: got=%v", first["id"])
	}
	got, ok := first["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload type: got=%T", first["payload"])
	}
	if got["kind"] != "preference" {
		t.Fatalf("payload kind: want=%q got=%v", "preference", got["kind"])
	}
}

func TestMemoryStoreUpsertDimensionMismatch(t *testing.T) {
	s := newTestMemoryStore(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		return nil, nil
	})

	err := s.Upsert(context.Background(), "memory_cards", []Point{
		{ID: "card-1", Vector: []float32{1, 2}},
	})
	if err == nil {
		t.Fatalf("Upsert: expected error, got nil")
	}
	var typed *OperationError
	if !errors.As(err, &typed) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if typed.Code != OperationErrorValidation {
		t.Fatalf("error code: want=%q got=%q", OperationErrorValidation, typed.Code)
	}
}

func TestMemoryStoreSearchFilterThresholdAndOrdering(t *testing.T) {
	var captured map[string]any
	s := newTestMemoryStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method: want=%s got=%s", http.MethodPost, r.Method)
		}
		if r.URL.Path != "/collections/memory_cards/points/search" {
			t.Fatalf("path: want=%q got=%q", "/collections/memory_cards/points/search", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{"id": "hit-b", "score": 0.40, "payload": map[string]any{"text": "b"}},
			{"id": "hit-a", "score": 0.90, "payload": map[string]any{"text": "a"}},
		}), nil
	})

	threshold := 0.2
	hits, err := s.Search(context.Background(), "memory_cards", []float32{1, 2, 3}, SearchOptions{
		Limit:     2,
		Threshold: &threshold,
		Filter: map[string]any{
			"user_id": "u-1",
			"source":  map[string]any{"$nin": []any{"gravity_daemon", "memory_card"}},
		},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits length: want=2 got=%d", len(hits))
	}
	if hits[0].ID != "hit-a" || hits[1].ID != "hit-b" {
		t.Fatalf("hit ordering mismatch: got=%v", []string{hits[0].ID, hits[1].ID})
	}

	if captured["score_threshold"] != 0.2 {
		t.Fatalf("score_threshold: want=0.2 got=%v", captured["score_threshold"])
	}
	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter type: got=%T", captured["filter"])
	}
	must, ok := filter["must"].([]any)
	if !ok {
		t.Fatalf("must type: got=%T", filter["must"])
	}
	userCond := findConditionByKey(must, "user_id")
	if userCond == nil {
		t.Fatalf("missing user_id condition in filter")
	}
	mustNot, ok := filter["must_not"].([]any)
	if !ok {
		t.Fatalf("must_not type: got=%T", filter["must_not"])
	}
	srcCond := findConditionByKey(mustNot, "source")
	if srcCond == nil {
		t.Fatalf("missing source exclusion in filter")
	}
	srcMatch, ok := srcCond["match"].(map[string]any)
	if !ok {
		t.Fatalf("source match type: got=%T", srcCond["match"])
	}
	anyVals, ok := srcMatch["any"].([]any)
	if !ok || len(anyVals) != 2 {
		t.Fatalf("source exclusion values: got=%v", srcMatch["any"])
	}
}

func TestMemoryStoreSearchNamedVector(t *testing.T) {
	var captured map[string]any
	s := newTestMemoryStore(t, func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{}), nil
	})
	s.infoCache["memory_cards"] = CollectionInfo{Size: 3, Distance: "Cosine", VectorName: "text"}

	if _, err := s.Search(context.Background(), "memory_cards", []float32{1, 2, 3}, SearchOptions{Limit: 1}); err != nil {
		t.Fatalf("Search: %v", err)
	}

	vec, ok := captured["vector"].(map[string]any)
	if !ok {
		t.Fatalf("expected named vector object, got=%T", captured["vector"])
	}
	if vec["name"] != "text" {
		t.Fatalf("vector name: want=%q got=%v", "text", vec["name"])
	}
}

func TestMemoryStoreScrollPagination(t *testing.T) {
	s := newTestMemoryStore(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/memory_raw/points/scroll" {
			t.Fatalf("path: want=%q got=%q", "/collections/memory_raw/points/scroll", r.URL.Path)
		}
		return okResponse(t, map[string]any{
			"points": []map[string]any{
				{"id": "p-1", "payload": map[string]any{"text": "hello"}},
				{"id": "p-2", "payload": map[string]any{"text": "world"}},
			},
			"next_page_offset": "p-3",
		}), nil
	})
	s.infoCache["memory_raw"] = CollectionInfo{Size: 3, Distance: "Cosine"}

	points, next, err := s.Scroll(context.Background(), "memory_raw", ScrollOptions{Limit: 2})
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("points length: want=2 got=%d", len(points))
	}
	if next != "p-3" {
		t.Fatalf("next offset: want=%q got=%q", "p-3", next)
	}
}

func TestMemoryStoreRetrieveDedupesIDs(t *testing.T) {
	var captured map[string]any
	s := newTestMemoryStore(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/memory_cards/points" {
			t.Fatalf("path: want=%q got=%q", "/collections/memory_cards/points", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{"id": "card-1", "payload": map[string]any{}},
		}), nil
	})

	points, err := s.Retrieve(context.Background(), "memory_cards", []string{"card-1", "card-1", " ", "card-2"}, false)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points length: want=1 got=%d", len(points))
	}
	ids, ok := captured["ids"].([]any)
	if !ok {
		t.Fatalf("ids type: got=%T", captured["ids"])
	}
	if len(ids) != 2 {
		t.Fatalf("ids length: want=2 got=%d", len(ids))
	}
}

func TestMemoryStoreDeleteByFilter(t *testing.T) {
	var captured map[string]any
	s := newTestMemoryStore(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/memory_cards/points/delete" {
			t.Fatalf("path: want=%q got=%q", "/collections/memory_cards/points/delete", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := s.DeleteByFilter(context.Background(), "memory_cards", map[string]any{"user_id": "u-1"})
	if err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter type: got=%T", captured["filter"])
	}
	if _, ok := filter["must"]; !ok {
		t.Fatalf("expected must clause in filter, got=%v", filter)
	}
}

func TestMemoryStoreListCollections(t *testing.T) {
	s := newTestMemoryStore(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodGet || r.URL.Path != "/collections" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		return okResponse(t, map[string]any{
			"collections": []map[string]any{
				{"name": "memory_raw"},
				{"name": "memory_cards"},
			},
		}), nil
	})

	names, err := s.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(names) != 2 || names[0] != "memory_cards" || names[1] != "memory_raw" {
		t.Fatalf("collections mismatch: got=%v", names)
	}
}

func TestMemoryStoreSearchUnsupportedFilterError(t *testing.T) {
	s := newTestMemoryStore(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		return nil, nil
	})

	_, err := s.Search(context.Background(), "memory_cards", []float32{1, 2, 3}, SearchOptions{
		Filter: map[string]any{
			"score": map[string]any{"$gt": 1},
		},
	})
	if err == nil {
		t.Fatalf("Search: expected error, got nil")
	}
	var typed *OperationError
	if !errors.As(err, &typed) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if typed.Code != OperationErrorUnsupportedFilter {
		t.Fatalf("error code: want=%q got=%q", OperationErrorUnsupportedFilter, typed.Code)
	}
}

func TestParseVectorsConfigNamedFirstNameWins(t *testing.T) {
	raw := json.RawMessage(`{"text":{"size":1536,"distance":"Cosine"},"image":{"size":512,"distance":"Dot"}}`)
	info := parseVectorsConfig(raw)
	if info.VectorName != "image" {
		t.Fatalf("vector name: want=%q got=%q", "image", info.VectorName)
	}
	if info.Size != 512 {
		t.Fatalf("size: want=512 got=%d", info.Size)
	}
}

func TestNormalizeScoreEuclid(t *testing.T) {
	got := normalizeScore("Euclid", 3.0)
	want := 1.0 / 4.0
	if got != want {
		t.Fatalf("normalizeScore: want=%v got=%v", want, got)
	}
	if normalizeScore("Cosine", 0.7) != 0.7 {
		t.Fatalf("cosine scores must pass through unchanged")
	}
}

func TestClassifyHTTPCallErrorTimeout(t *testing.T) {
	err := classifyHTTPCallError("search", "timeout", context.DeadlineExceeded)
	var typed *OperationError
	if !errors.As(err, &typed) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if typed.Code != OperationErrorTimeout {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTimeout, typed.Code)
	}
}

func TestClassifyHTTPCallErrorTransport(t *testing.T) {
	err := classifyHTTPCallError("search", "transport", fmt.Errorf("boom"))
	var typed *OperationError
	if !errors.As(err, &typed) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if typed.Code != OperationErrorTransportFailed {
		t.Fatalf("error code: want=%q got=%q", OperationErrorTransportFailed, typed.Code)
	}
}

func newTestMemoryStore(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *memoryStore {
	t.Helper()
	client := &http.Client{
		Transport: roundTripFunc(roundTrip),
	}
	return &memoryStore{
		log:     newTestLogger(t),
		cfg:     Config{URL: "http://qdrant.local", VectorDim: 3},
		baseURL: "http://qdrant.local",
		http:    client,
		infoCache: map[string]CollectionInfo{
			"memory_cards": {Size: 3, Distance: "Cosine"},
		},
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	payload := map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

func findConditionByKey(conds []any, key string) map[string]any {
	for _, c := range conds {
		obj, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if obj["key"] == key {
			return obj
		}
	}
	return nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
