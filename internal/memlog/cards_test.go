package memlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/openai"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
)

type passthroughIdentity struct{}

func (passthroughIdentity) Canonical(_ context.Context, _ string, userID string) string {
	return userID
}
func (passthroughIdentity) Link(context.Context, string, string, string) error { return nil }
func (passthroughIdentity) Aliases(context.Context, string) ([]string, error)  { return nil, nil }

// fakeStore keeps points in memory, keyed by id, within one collection.
type fakeStore struct {
	points map[string]qdrant.Point
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: map[string]qdrant.Point{}}
}

func (f *fakeStore) Search(context.Context, string, []float32, qdrant.SearchOptions) ([]qdrant.ScoredPoint, error) {
	return nil, nil
}

func (f *fakeStore) Scroll(_ context.Context, _ string, opts qdrant.ScrollOptions) ([]qdrant.Point, string, error) {
	var out []qdrant.Point
	for _, p := range f.points {
		out = append(out, p)
	}
	return out, "", nil
}

func (f *fakeStore) Retrieve(_ context.Context, _ string, ids []string, _ bool) ([]qdrant.Point, error) {
	var out []qdrant.Point
	for _, id := range ids {
		if p, ok := f.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) Upsert(_ context.Context, _ string, points []qdrant.Point) error {
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeStore) DeleteByIDs(_ context.Context, _ string, ids []string) error {
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeStore) DeleteByFilter(context.Context, string, map[string]any) error { return nil }
func (f *fakeStore) ListCollections(context.Context) ([]string, error)            { return nil, nil }
func (f *fakeStore) Info(context.Context, string) (qdrant.CollectionInfo, error) {
	return qdrant.CollectionInfo{}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}
func (fakeEmbedder) Chat(context.Context, string, string, string) (string, error) { return "", nil }
func (fakeEmbedder) ChatMessages(context.Context, []openai.Message, string) (string, error) {
	return "", nil
}
func (fakeEmbedder) ChatMessagesOpts(context.Context, []openai.Message, string, int, float64) (string, error) {
	return "", nil
}
func (fakeEmbedder) Speech(context.Context, openai.SpeechRequest) ([]byte, error) { return nil, nil }
func (fakeEmbedder) DefaultModel() string                                         { return "test-model" }

func newCardTestService(t *testing.T) (Service, *fakeStore) {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	store := newFakeStore()
	svc := NewService(passthroughIdentity{}, nil, nil, nil, nil, nil, store, fakeEmbedder{}, log)
	return svc, store
}

func TestUpsertCardDerivesSingletonID(t *testing.T) {
	svc, store := newCardTestService(t)
	ctx := context.Background()

	text := "Prefers short answers."
	out, err := svc.UpsertCard(ctx, "max", "default", CardUpsertRequest{Kind: "preference", Text: &text})
	require.NoError(t, err)
	require.Equal(t, identity.SingletonCardID("max", "preference", "__singleton__"), out.CardID)
	require.Equal(t, "__singleton__", out.TopicKey)

	p := store.points[out.CardID]
	require.Equal(t, "max", p.Payload["user_id"])
	require.Equal(t, "preference", p.Payload["kind"])
	require.Equal(t, text, p.Payload["text"])
	require.Equal(t, 0.7, p.Payload["base_importance"])

	// A second upsert hits the same point: no duplicates.
	out2, err := svc.UpsertCard(ctx, "max", "default", CardUpsertRequest{Kind: "preference"})
	require.NoError(t, err)
	require.Equal(t, out.CardID, out2.CardID)
	require.Len(t, store.points, 1)
	// Text survives when the update omits it.
	require.Equal(t, text, store.points[out.CardID].Payload["text"])
}

func TestUpsertCardMissingKind(t *testing.T) {
	svc, _ := newCardTestService(t)
	_, err := svc.UpsertCard(context.Background(), "max", "default", CardUpsertRequest{})
	require.ErrorContains(t, err, "missing kind")
}

func TestUpsertCardConflict(t *testing.T) {
	svc, _ := newCardTestService(t)
	ctx := context.Background()

	first, err := svc.UpsertCard(ctx, "max", "default", CardUpsertRequest{Kind: "style"})
	require.NoError(t, err)

	_, err = svc.UpsertCard(ctx, "max", "default", CardUpsertRequest{
		Kind:             "style",
		IfMatchUpdatedAt: "2001-01-01T00:00:00.000000Z",
	})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, first.CardID, conflict.CardID)
	require.Equal(t, first.UpdatedAt, conflict.CurrentUpdatedAt)

	// Matching precondition goes through.
	_, err = svc.UpsertCard(ctx, "max", "default", CardUpsertRequest{
		Kind:             "style",
		IfMatchUpdatedAt: first.UpdatedAt,
	})
	require.NoError(t, err)
}

func TestDeleteCardGuards(t *testing.T) {
	svc, store := newCardTestService(t)
	ctx := context.Background()

	_, err := svc.DeleteCard(ctx, "max", "default", "00000000-0000-0000-0000-000000000001")
	require.True(t, errors.Is(err, ErrCardNotFound))

	// Singleton cards are system-managed.
	out, err := svc.UpsertCard(ctx, "max", "default", CardUpsertRequest{Kind: "style"})
	require.NoError(t, err)
	_, err = svc.DeleteCard(ctx, "max", "default", out.CardID)
	require.True(t, errors.Is(err, ErrSingletonLocked))

	// Another user cannot delete someone else's card.
	topical, err := svc.UpsertCard(ctx, "max", "default", CardUpsertRequest{Kind: "preference", TopicKey: "coffee"})
	require.NoError(t, err)
	_, err = svc.DeleteCard(ctx, "ana", "default", topical.CardID)
	require.True(t, errors.Is(err, ErrOwnerMismatch))

	deleted, err := svc.DeleteCard(ctx, "max", "default", topical.CardID)
	require.NoError(t, err)
	require.Equal(t, topical.CardID, deleted)
	_, present := store.points[topical.CardID]
	require.False(t, present)
}

func TestListCardsVantageNamespace(t *testing.T) {
	svc, store := newCardTestService(t)
	ctx := context.Background()

	store.points["legacy"] = qdrant.Point{ID: "legacy", Payload: map[string]any{
		"user_id": "max", "kind": "preference", "updated_at": "2026-01-01T00:00:00Z",
	}}
	store.points["lab"] = qdrant.Point{ID: "lab", Payload: map[string]any{
		"user_id": "max", "kind": "preference", "vantage_id": "lab", "updated_at": "2026-01-02T00:00:00Z",
	}}

	items, err := svc.ListCards(ctx, "max", "default", nil, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "legacy", items[0].ID)

	items, err = svc.ListCards(ctx, "max", "lab", nil, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "lab", items[0].ID)
}
