package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/brains-backend/internal/platform/ctxutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

// Point is a stored vector with its payload. IDs are caller-assigned UUID
// strings; deterministic ids are computed by the writers, not here.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

type SearchOptions struct {
	Filter      map[string]any
	Limit       int
	Threshold   *float64
	WithPayload bool
}

type ScrollOptions struct {
	Filter      map[string]any
	Limit       int
	Offset      string
	WithPayload bool
	WithVectors bool
}

type CollectionInfo struct {
	Size       int
	Distance   string
	VectorName string
	Points     int64
}

// MemoryStore is the vector-database surface used by the retrieval and card
// layers. Filters use the mongo-style operators handled by the translator.
type MemoryStore interface {
	Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]ScoredPoint, error)
	Scroll(ctx context.Context, collection string, opts ScrollOptions) ([]Point, string, error)
	Retrieve(ctx context.Context, collection string, ids []string, withVectors bool) ([]Point, error)
	Upsert(ctx context.Context, collection string, points []Point) error
	DeleteByIDs(ctx context.Context, collection string, ids []string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	ListCollections(ctx context.Context) ([]string, error)
	Info(ctx context.Context, collection string) (CollectionInfo, error)
}

type memoryStore struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	infoCache map[string]CollectionInfo
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type scoredPointItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

type pointItem struct {
	ID      json.RawMessage `json:"id"`
	Payload map[string]any  `json:"payload"`
	Vector  json.RawMessage `json:"vector"`
}

func NewMemoryStore(log *logger.Logger, cfg Config) (MemoryStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s := &memoryStore{
		log:     log.With("service", "QdrantMemoryStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		infoCache: map[string]CollectionInfo{},
	}

	if err := s.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	log.Info(
		"Qdrant memory store ready",
		"url", s.baseURL,
		"vector_dim", cfg.VectorDim,
	)
	return s, nil
}

func (s *memoryStore) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]ScoredPoint, error) {
	if s == nil {
		return nil, fmt.Errorf("memory store unavailable")
	}
	const op = "search"
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, opErr(op, OperationErrorValidation, "collection required", nil)
	}
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	info, _ := s.Info(ctx, collection)
	if info.Size > 0 && len(vector) != info.Size {
		return nil, opErr(
			op,
			OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: collection=%s expected=%d got=%d", collection, info.Size, len(vector)),
			nil,
		)
	}

	var qdrantFilter map[string]any
	if len(opts.Filter) > 0 {
		translated, err := translateFilterMap(opts.Filter)
		if err != nil {
			var typed *OperationError
			if errors.As(err, &typed) && typed.Code == OperationErrorUnsupportedFilter {
				s.log.Warn("qdrant search filter unsupported", "collection", collection, "error", err)
			}
			return nil, err
		}
		qdrantFilter = translated.asMap()
	}

	req := map[string]any{
		"vector":       s.queryVector(info, vector),
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if qdrantFilter != nil {
		req["filter"] = qdrantFilter
	}
	if opts.Threshold != nil {
		req["score_threshold"] = *opts.Threshold
	}

	var rawResults []scoredPointItem
	if err := s.doJSON(
		ctx,
		op,
		collection,
		http.MethodPost,
		collectionPath(collection, "/points/search"),
		req,
		&rawResults,
	); err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(rawResults))
	for _, item := range rawResults {
		id := decodePointID(item.ID)
		if id == "" {
			continue
		}
		out = append(out, ScoredPoint{
			ID:      id,
			Score:   normalizeScore(info.Distance, item.Score),
			Payload: item.Payload,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *memoryStore) Scroll(ctx context.Context, collection string, opts ScrollOptions) ([]Point, string, error) {
	if s == nil {
		return nil, "", fmt.Errorf("memory store unavailable")
	}
	const op = "scroll"
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, "", opErr(op, OperationErrorValidation, "collection required", nil)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	req := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  opts.WithVectors,
	}
	if len(opts.Filter) > 0 {
		translated, err := translateFilterMap(opts.Filter)
		if err != nil {
			return nil, "", err
		}
		req["filter"] = translated.asMap()
	}
	if strings.TrimSpace(opts.Offset) != "" {
		req["offset"] = strings.TrimSpace(opts.Offset)
	}

	var result struct {
		Points         []pointItem     `json:"points"`
		NextPageOffset json.RawMessage `json:"next_page_offset"`
	}
	if err := s.doJSON(
		ctx,
		op,
		collection,
		http.MethodPost,
		collectionPath(collection, "/points/scroll"),
		req,
		&result,
	); err != nil {
		return nil, "", err
	}

	points := make([]Point, 0, len(result.Points))
	for _, item := range result.Points {
		id := decodePointID(item.ID)
		if id == "" {
			continue
		}
		points = append(points, Point{
			ID:      id,
			Payload: item.Payload,
			Vector:  decodeVector(item.Vector),
		})
	}
	return points, decodePointID(result.NextPageOffset), nil
}

func (s *memoryStore) Retrieve(ctx context.Context, collection string, ids []string, withVectors bool) ([]Point, error) {
	if s == nil {
		return nil, fmt.Errorf("memory store unavailable")
	}
	const op = "retrieve"
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, opErr(op, OperationErrorValidation, "collection required", nil)
	}

	clean := dedupeIDs(ids)
	if len(clean) == 0 {
		return nil, nil
	}

	req := map[string]any{
		"ids":          clean,
		"with_payload": true,
		"with_vector":  withVectors,
	}
	var rawResults []pointItem
	if err := s.doJSON(
		ctx,
		op,
		collection,
		http.MethodPost,
		collectionPath(collection, "/points"),
		req,
		&rawResults,
	); err != nil {
		return nil, err
	}

	out := make([]Point, 0, len(rawResults))
	for _, item := range rawResults {
		id := decodePointID(item.ID)
		if id == "" {
			continue
		}
		out = append(out, Point{
			ID:      id,
			Payload: item.Payload,
			Vector:  decodeVector(item.Vector),
		})
	}
	return out, nil
}

func (s *memoryStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if s == nil {
		return nil
	}
	const op = "upsert"
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return opErr(op, OperationErrorValidation, "collection required", nil)
	}
	if len(points) == 0 {
		return nil
	}

	info, _ := s.Info(ctx, collection)

	items := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q has empty vector", id), nil)
		}
		if info.Size > 0 && len(p.Vector) != info.Size {
			return opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf(
					"point %q dimension mismatch: collection=%s expected=%d got=%d",
					id,
					collection,
					info.Size,
					len(p.Vector),
				),
				nil,
			)
		}
		items = append(items, map[string]any{
			"id":      id,
			"vector":  s.storedVector(info, p.Vector),
			"payload": clonePayload(p.Payload),
		})
	}

	req := map[string]any{"points": items}
	return s.doJSON(ctx, op, collection, http.MethodPut, collectionPath(collection, "/points?wait=true"), req, nil)
}

func (s *memoryStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if s == nil {
		return nil
	}
	const op = "delete"
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return opErr(op, OperationErrorValidation, "collection required", nil)
	}

	clean := dedupeIDs(ids)
	if len(clean) == 0 {
		return nil
	}

	req := map[string]any{"points": clean}
	return s.doJSON(
		ctx,
		op,
		collection,
		http.MethodPost,
		collectionPath(collection, "/points/delete?wait=true"),
		req,
		nil,
	)
}

func (s *memoryStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	if s == nil {
		return nil
	}
	const op = "delete_by_filter"
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return opErr(op, OperationErrorValidation, "collection required", nil)
	}
	if len(filter) == 0 {
		return opErr(op, OperationErrorValidation, "filter required", nil)
	}

	translated, err := translateFilterMap(filter)
	if err != nil {
		return err
	}
	req := map[string]any{"filter": translated.asMap()}
	return s.doJSON(
		ctx,
		op,
		collection,
		http.MethodPost,
		collectionPath(collection, "/points/delete?wait=true"),
		req,
		nil,
	)
}

func (s *memoryStore) ListCollections(ctx context.Context) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("memory store unavailable")
	}
	const op = "list_collections"

	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := s.doJSON(ctx, op, "", http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(result.Collections))
	for _, c := range result.Collections {
		name := strings.TrimSpace(c.Name)
		if name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Info fetches and caches the collection's vector config. Collections with
// named vectors report the first name in sorted order.
func (s *memoryStore) Info(ctx context.Context, collection string) (CollectionInfo, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return CollectionInfo{}, opErr("info", OperationErrorValidation, "collection required", nil)
	}

	s.mu.Lock()
	if cached, ok := s.infoCache[collection]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	var result struct {
		PointsCount int64 `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors json.RawMessage `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.doJSON(ctx, "info", collection, http.MethodGet, collectionPath(collection, ""), nil, &result); err != nil {
		return CollectionInfo{}, err
	}

	info := parseVectorsConfig(result.Config.Params.Vectors)
	info.Points = result.PointsCount

	s.mu.Lock()
	s.infoCache[collection] = info
	s.mu.Unlock()
	return info, nil
}

func (s *memoryStore) verifyReady(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("qdrant memory store not initialized")
	}
	const op = "bootstrap_verify"

	callCtx, cancel := ctxutil.Default(ctx)
	defer cancel()

	readyReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	s.setHeaders(readyReq)
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}
	return nil
}

func (s *memoryStore) queryVector(info CollectionInfo, vector []float32) any {
	if info.VectorName != "" {
		return map[string]any{"name": info.VectorName, "vector": vector}
	}
	return vector
}

func (s *memoryStore) storedVector(info CollectionInfo, vector []float32) any {
	if info.VectorName != "" {
		return map[string]any{info.VectorName: vector}
	}
	return vector
}

func (s *memoryStore) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *memoryStore) doJSON(ctx context.Context, op, collection, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	callCtx, cancel := ctxutil.Default(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	s.setHeaders(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1024*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			Collection: collection,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			Collection: collection,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("qdrant status=%s", status)
}

func parseVectorsConfig(raw json.RawMessage) CollectionInfo {
	if len(raw) == 0 {
		return CollectionInfo{}
	}

	var single struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Size > 0 {
		return CollectionInfo{Size: single.Size, Distance: strings.TrimSpace(single.Distance)}
	}

	var named map[string]struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && len(named) > 0 {
		names := make([]string, 0, len(named))
		for name := range named {
			names = append(names, name)
		}
		sort.Strings(names)
		first := named[names[0]]
		return CollectionInfo{
			Size:       first.Size,
			Distance:   strings.TrimSpace(first.Distance),
			VectorName: names[0],
		}
	}
	return CollectionInfo{}
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func clonePayload(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func collectionPath(collection, suffix string) string {
	path := "/collections/" + collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}

func decodeVector(raw json.RawMessage) []float32 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var plain []float32
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var named map[string][]float32
	if err := json.Unmarshal(raw, &named); err == nil && len(named) > 0 {
		names := make([]string, 0, len(named))
		for name := range named {
			names = append(names, name)
		}
		sort.Strings(names)
		return named[names[0]]
	}
	return nil
}

func dedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizeScore(distance string, score float64) float64 {
	switch strings.ToLower(strings.TrimSpace(distance)) {
	case "euclid", "manhattan":
		if score < 0 {
			score = -score
		}
		return 1.0 / (1.0 + score)
	default:
		return score
	}
}
