package cards

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

// stubDriver backs a gorm handle whose only job is carrying Transaction
// boundaries; every repo underneath is an in-memory fake.
type stubDriver struct{}
type stubConn struct{}
type stubTx struct{}
type stubStmt struct{}
type stubRows struct{}
type stubResult struct{}

func (stubDriver) Open(string) (driver.Conn, error)         { return stubConn{}, nil }
func (stubConn) Prepare(string) (driver.Stmt, error)        { return stubStmt{}, nil }
func (stubConn) Close() error                               { return nil }
func (stubConn) Begin() (driver.Tx, error)                  { return stubTx{}, nil }
func (stubTx) Commit() error                                { return nil }
func (stubTx) Rollback() error                              { return nil }
func (stubStmt) Close() error                               { return nil }
func (stubStmt) NumInput() int                              { return -1 }
func (stubStmt) Exec([]driver.Value) (driver.Result, error) { return stubResult{}, nil }
func (stubStmt) Query([]driver.Value) (driver.Rows, error)  { return stubRows{}, nil }
func (stubResult) LastInsertId() (int64, error)             { return 0, nil }
func (stubResult) RowsAffected() (int64, error)             { return 0, nil }
func (stubRows) Columns() []string                          { return nil }
func (stubRows) Close() error                               { return nil }
func (stubRows) Next([]driver.Value) error                  { return io.EOF }

var stubOnce sync.Once

func newStubDB(t *testing.T) *gorm.DB {
	t.Helper()
	stubOnce.Do(func() { sql.Register("cardsstub", stubDriver{}) })
	sqlDB, err := sql.Open("cardsstub", "")
	if err != nil {
		t.Fatalf("open stub: %v", err)
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return db
}

type passthroughIDs struct{}

func (passthroughIDs) Canonical(_ context.Context, _ string, userID string) string { return userID }
func (passthroughIDs) Link(context.Context, string, string, string) error          { return nil }
func (passthroughIDs) Aliases(context.Context, string) ([]string, error)           { return nil, nil }

type memLink struct {
	cardID, linkType, refID, note string
}

type memCardRepo struct {
	heads   map[string]*types.CardHead
	byTopic map[string]string
	links   []memLink
	seq     int
}

func newMemCardRepo() *memCardRepo {
	return &memCardRepo{heads: map[string]*types.CardHead{}, byTopic: map[string]string{}}
}

func topicKeyOf(vantageID, kind, topicKey string) string {
	return vantageID + "|" + kind + "|" + topicKey
}

func (r *memCardRepo) GetByID(_ context.Context, _ *gorm.DB, cardID string) (*types.CardHead, error) {
	return r.heads[cardID], nil
}

func (r *memCardRepo) GetByTopic(_ context.Context, _ *gorm.DB, vantageID, kind, topicKey string) (*types.CardHead, error) {
	if id, ok := r.byTopic[topicKeyOf(vantageID, kind, topicKey)]; ok {
		return r.heads[id], nil
	}
	return nil, nil
}

func (r *memCardRepo) UpsertContent(_ context.Context, _ *gorm.DB, cardID, vantageID, kind, topicKey string, write repos.CardWrite) (*types.CardHead, error) {
	key := topicKeyOf(vantageID, kind, topicKey)
	if id, ok := r.byTopic[key]; ok {
		h := r.heads[id]
		h.Summary = write.Summary
		h.Payload = write.Payload
		h.UpdatedAt = h.UpdatedAt.Add(time.Second)
		return h, nil
	}
	if cardID == "" {
		r.seq++
		cardID = fmt.Sprintf("card-%d", r.seq)
	}
	h := &types.CardHead{
		CardID:     cardID,
		VantageID:  vantageID,
		Kind:       kind,
		TopicKey:   topicKey,
		Summary:    write.Summary,
		Payload:    write.Payload,
		Strength:   0.5,
		Confidence: 0.5,
		Status:     types.CardStatusActive,
	}
	r.heads[cardID] = h
	r.byTopic[key] = cardID
	return h, nil
}

func (r *memCardRepo) UpdateScores(_ context.Context, _ *gorm.DB, cardID string, strength, confidence float64, _ datatypes.JSON) error {
	if h, ok := r.heads[cardID]; ok {
		h.Strength = strength
		h.Confidence = confidence
	}
	return nil
}

func (r *memCardRepo) AddLink(_ context.Context, _ *gorm.DB, cardID, linkType, refID, note string) (bool, error) {
	for _, l := range r.links {
		if l.cardID == cardID && l.linkType == linkType && l.refID == refID {
			return false, nil
		}
	}
	r.links = append(r.links, memLink{cardID, linkType, refID, note})
	return true, nil
}

func (r *memCardRepo) HasLink(_ context.Context, _ *gorm.DB, cardID, linkType, refID string) (bool, error) {
	for _, l := range r.links {
		if l.cardID == cardID && l.linkType == linkType && l.refID == refID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memCardRepo) LinkNoteCounts(_ context.Context, _ *gorm.DB, cardID, linkType string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, l := range r.links {
		if l.cardID == cardID && l.linkType == linkType {
			out[l.note]++
		}
	}
	return out, nil
}

func (r *memCardRepo) ListForDecay(context.Context, *gorm.DB, string, int) ([]*types.CardHead, error) {
	return nil, nil
}
func (r *memCardRepo) ListByTopicPrefix(context.Context, *gorm.DB, string, string, string, int) ([]*types.CardHead, error) {
	return nil, nil
}
func (r *memCardRepo) ListLinks(context.Context, *gorm.DB, string, string) ([]*types.CardLink, error) {
	return nil, nil
}
func (r *memCardRepo) AddSignal(context.Context, *gorm.DB, string, string, float64) error { return nil }
func (r *memCardRepo) SignalTotalsSince(context.Context, *gorm.DB, string, time.Time) (map[string]float64, error) {
	return nil, nil
}
func (r *memCardRepo) ListRevisions(context.Context, *gorm.DB, string, int) ([]*types.CardRevision, error) {
	return nil, nil
}
func (r *memCardRepo) Retire(context.Context, *gorm.DB, string) error { return nil }
func (r *memCardRepo) Delete(context.Context, *gorm.DB, string) error { return nil }
func (r *memCardRepo) DeleteByTopicPrefix(context.Context, *gorm.DB, string, string) (int64, error) {
	return 0, nil
}

// memSourceRepo serves ListDoneUnlinked the way the SQL does: done chat-log
// sources without a source link on the cursor card, newest first.
type memSourceRepo struct {
	cards   *memCardRepo
	sources []*types.Source
}

func (r *memSourceRepo) ListDoneUnlinked(_ context.Context, _ *gorm.DB, cursorCardID string, limit int) ([]*types.Source, error) {
	var out []*types.Source
	for i := len(r.sources) - 1; i >= 0; i-- {
		src := r.sources[i]
		if src.Status != types.SourceStatusDone || src.SourceType != "chat_log" {
			continue
		}
		linked, _ := r.cards.HasLink(context.Background(), nil, cursorCardID, "source", src.SourceID.String())
		if linked {
			continue
		}
		out = append(out, src)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memSourceRepo) CountDoneChatLog(context.Context, *gorm.DB) (int64, error) {
	var n int64
	for _, src := range r.sources {
		if src.Status == types.SourceStatusDone && src.SourceType == "chat_log" {
			n++
		}
	}
	return n, nil
}

func (r *memSourceRepo) Insert(context.Context, *gorm.DB, *types.Source) (bool, error) {
	return false, nil
}
func (r *memSourceRepo) GetByID(context.Context, *gorm.DB, uuid.UUID) (*types.Source, error) {
	return nil, nil
}
func (r *memSourceRepo) GetByExternalID(context.Context, *gorm.DB, string) (*types.Source, error) {
	return nil, nil
}
func (r *memSourceRepo) ClaimPending(context.Context, *gorm.DB, int) ([]*types.Source, error) {
	return nil, nil
}
func (r *memSourceRepo) ListByStatus(context.Context, *gorm.DB, string, int) ([]*types.Source, error) {
	return nil, nil
}
func (r *memSourceRepo) CountByStatus(context.Context, *gorm.DB, string) (int64, error) {
	return 0, nil
}
func (r *memSourceRepo) MarkDone(context.Context, *gorm.DB, uuid.UUID, string) error { return nil }
func (r *memSourceRepo) MarkError(context.Context, *gorm.DB, uuid.UUID) error        { return nil }

type memEntityRepo struct {
	entities map[string]*types.Entity
}

func (r *memEntityRepo) GetByName(_ context.Context, _ *gorm.DB, entityType, canonicalName string) (*types.Entity, error) {
	return r.entities[entityType+"|"+canonicalName], nil
}

func (r *memEntityRepo) GetOrCreate(context.Context, *gorm.DB, string, string) (*types.Entity, error) {
	return nil, nil
}
func (r *memEntityRepo) GetByID(context.Context, *gorm.DB, uuid.UUID) (*types.Entity, error) {
	return nil, nil
}
func (r *memEntityRepo) EnsurePredicate(context.Context, *gorm.DB, *types.Predicate) error {
	return nil
}
func (r *memEntityRepo) GetPredicate(context.Context, *gorm.DB, string) (*types.Predicate, error) {
	return nil, nil
}
func (r *memEntityRepo) ListCardinalityOnePredicates(context.Context, *gorm.DB) ([]string, error) {
	return nil, nil
}
func (r *memEntityRepo) Count(context.Context, *gorm.DB) (int64, error) { return 0, nil }

type memClaimRepo struct {
	bySubject map[uuid.UUID][]*types.Claim
}

func (r *memClaimRepo) ListActiveByPredicatePrefix(_ context.Context, _ *gorm.DB, subjectEntityID uuid.UUID, prefix string) ([]*types.Claim, error) {
	var out []*types.Claim
	for _, c := range r.bySubject[subjectEntityID] {
		if len(c.Predicate) >= len(prefix) && c.Predicate[:len(prefix)] == prefix {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memClaimRepo) Upsert(context.Context, *gorm.DB, *types.Claim) (*types.Claim, bool, error) {
	return nil, false, nil
}
func (r *memClaimRepo) GetByCanonicalKey(context.Context, *gorm.DB, string) (*types.Claim, error) {
	return nil, nil
}
func (r *memClaimRepo) GetByID(context.Context, *gorm.DB, uuid.UUID) (*types.Claim, error) {
	return nil, nil
}
func (r *memClaimRepo) ListActive(context.Context, *gorm.DB, uuid.UUID, string) ([]*types.Claim, error) {
	return nil, nil
}
func (r *memClaimRepo) ListBySource(context.Context, *gorm.DB, uuid.UUID) ([]*types.Claim, error) {
	return nil, nil
}
func (r *memClaimRepo) Retract(context.Context, *gorm.DB, uuid.UUID) error           { return nil }
func (r *memClaimRepo) AddEvidence(context.Context, *gorm.DB, *types.Evidence) error { return nil }
func (r *memClaimRepo) ListEvidence(context.Context, *gorm.DB, uuid.UUID) ([]*types.Evidence, error) {
	return nil, nil
}
func (r *memClaimRepo) CountEvidenceBySource(context.Context, *gorm.DB, uuid.UUID) (int64, error) {
	return 0, nil
}
func (r *memClaimRepo) CountActive(context.Context, *gorm.DB) (int64, error) { return 0, nil }
func (r *memClaimRepo) CountActiveBelowConfidence(context.Context, *gorm.DB, float64) (int64, error) {
	return 0, nil
}

type consolidateFixture struct {
	svc      Service
	cards    *memCardRepo
	sources  *memSourceRepo
	entities *memEntityRepo
	claims   *memClaimRepo
}

func newConsolidateFixture(t *testing.T) *consolidateFixture {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	cardsRepo := newMemCardRepo()
	f := &consolidateFixture{
		cards:    cardsRepo,
		sources:  &memSourceRepo{cards: cardsRepo},
		entities: &memEntityRepo{entities: map[string]*types.Entity{}},
		claims:   &memClaimRepo{bySubject: map[uuid.UUID][]*types.Claim{}},
	}
	f.svc = NewService(newStubDB(t), cardsRepo, f.sources, f.entities, f.claims, passthroughIDs{}, log)
	return f
}

// addSource wires one done chat-log source with its doc entity and attribute
// claims, the shape the fact pipeline leaves behind.
func (f *consolidateFixture) addSource(logID string, createdAt time.Time, attrs map[string]string) *types.Source {
	title := "chat_log:user:default:" + logID
	src := &types.Source{
		SourceID:   uuid.New(),
		SourceType: "chat_log",
		ExternalID: "chat_log:" + logID,
		Title:      title,
		Status:     types.SourceStatusDone,
		Metadata:   datatypes.JSON(fmt.Sprintf(`{"chat_log_id":%q,"user_id":"max"}`, logID)),
		CreatedAt:  createdAt,
	}
	f.sources.sources = append(f.sources.sources, src)

	entity := &types.Entity{EntityID: uuid.New(), EntityType: "document", CanonicalName: title}
	f.entities.entities["document|"+title] = entity
	for key, val := range attrs {
		f.claims.bySubject[entity.EntityID] = append(f.claims.bySubject[entity.EntityID], &types.Claim{
			ClaimID:         uuid.New(),
			SubjectEntityID: entity.EntityID,
			Predicate:       "attr." + key,
			ObjectLiteral:   datatypes.JSON(fmt.Sprintf(`{"type":"str","v":%q}`, val)),
			Status:          types.ClaimStatusActive,
		})
	}
	return src
}

func (f *consolidateFixture) prefCard(t *testing.T, topicKey string) *types.CardHead {
	t.Helper()
	head, err := f.cards.GetByTopic(context.Background(), nil, "default", "pref", topicKey)
	if err != nil || head == nil {
		t.Fatalf("pref card %q missing (err=%v)", topicKey, err)
	}
	return head
}

func valueCounts(t *testing.T, head *types.CardHead) map[string]float64 {
	t.Helper()
	payload := map[string]any{}
	if err := json.Unmarshal(head.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	raw, _ := payload["value_counts"].(map[string]any)
	out := map[string]float64{}
	for k, v := range raw {
		out[k], _ = v.(float64)
	}
	return out
}

func TestConsolidateRerunDoesNotDoubleCount(t *testing.T) {
	f := newConsolidateFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.addSource("log1", t0, map[string]string{"coffee": "yes"})

	out, err := f.svc.ConsolidateFromKV(ctx, "default", 5)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if out.UpdatedCards != 1 {
		t.Fatalf("updated_cards = %d, want 1", out.UpdatedCards)
	}

	head := f.prefCard(t, "user/max/pref/coffee")
	if want := "pref/coffee: yes\nseen: yes×1"; head.Summary != want {
		t.Fatalf("summary = %q, want %q", head.Summary, want)
	}
	if counts := valueCounts(t, head); counts["yes"] != 1 {
		t.Fatalf("value_counts[yes] = %v, want 1", counts["yes"])
	}
	if math.Abs(head.Confidence-0.56) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.56", head.Confidence)
	}

	// The cursor link makes the source invisible to the next pass.
	again, err := f.svc.ConsolidateFromKV(ctx, "default", 5)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if again.UpdatedCards != 0 {
		t.Fatalf("rerun updated_cards = %d, want 0", again.UpdatedCards)
	}
	if counts := valueCounts(t, f.prefCard(t, "user/max/pref/coffee")); counts["yes"] != 1 {
		t.Fatalf("rerun value_counts[yes] = %v, want 1", counts["yes"])
	}
}

func TestConsolidateAccumulatesAcrossSources(t *testing.T) {
	f := newConsolidateFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.addSource("log1", t0, map[string]string{"coffee": "yes"})

	if _, err := f.svc.ConsolidateFromKV(ctx, "default", 5); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	f.addSource("log2", t0.Add(time.Minute), map[string]string{"coffee": "yes"})
	out, err := f.svc.ConsolidateFromKV(ctx, "default", 5)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if out.UpdatedCards != 1 {
		t.Fatalf("updated_cards = %d, want 1", out.UpdatedCards)
	}

	head := f.prefCard(t, "user/max/pref/coffee")
	if counts := valueCounts(t, head); counts["yes"] != 2 {
		t.Fatalf("value_counts[yes] = %v, want 2", counts["yes"])
	}
	if want := "pref/coffee: yes\nseen: yes×2"; head.Summary != want {
		t.Fatalf("summary = %q, want %q", head.Summary, want)
	}
	if math.Abs(head.Strength-0.535) > 1e-9 {
		t.Fatalf("strength = %v, want 0.535", head.Strength)
	}
}

func TestConsolidateSkipsHarnessAttrKeys(t *testing.T) {
	f := newConsolidateFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := f.addSource("log1", t0, map[string]string{"say_exactly": "ping"})

	out, err := f.svc.ConsolidateFromKV(ctx, "default", 5)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if out.UpdatedCards != 0 {
		t.Fatalf("updated_cards = %d, want 0", out.UpdatedCards)
	}

	cursorID := f.cards.byTopic[topicKeyOf("default", "system", CursorTopicKey)]
	var note string
	for _, l := range f.cards.links {
		if l.cardID == cursorID && l.refID == src.SourceID.String() {
			note = l.note
		}
	}
	if note != linkNoteIgnored {
		t.Fatalf("cursor link note = %q, want %q", note, linkNoteIgnored)
	}
}
