package facts

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/types"
)

// stubDriver carries gorm Transaction boundaries over a connection that
// never reaches a database; the repos underneath are in-memory fakes.
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
	stubOnce.Do(func() { sql.Register("factsstub", stubDriver{}) })
	sqlDB, err := sql.Open("factsstub", "")
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

type fakeChatLogRepo struct {
	rows []*types.ChatLog
}

func (r *fakeChatLogRepo) ListUnseeded(_ context.Context, _ *gorm.DB, _ string, limit int) ([]*types.ChatLog, error) {
	if limit > len(r.rows) {
		limit = len(r.rows)
	}
	return r.rows[:limit], nil
}

func (r *fakeChatLogRepo) Create(context.Context, *gorm.DB, *types.ChatLog) (*types.ChatLog, error) {
	return nil, nil
}
func (r *fakeChatLogRepo) ListByThread(context.Context, *gorm.DB, string, int) ([]*types.ChatLog, error) {
	return nil, nil
}
func (r *fakeChatLogRepo) ListTailByThread(context.Context, *gorm.DB, string, int) ([]*types.ChatLog, error) {
	return nil, nil
}
func (r *fakeChatLogRepo) LastUserMessageAt(context.Context, *gorm.DB, string) (*time.Time, error) {
	return nil, nil
}
func (r *fakeChatLogRepo) ListByUser(context.Context, *gorm.DB, string, int) ([]*types.ChatLog, error) {
	return nil, nil
}
func (r *fakeChatLogRepo) ListRecentByUser(context.Context, *gorm.DB, string, int) ([]*types.ChatLog, error) {
	return nil, nil
}
func (r *fakeChatLogRepo) DeleteByThread(context.Context, *gorm.DB, string) (int64, error) {
	return 0, nil
}
func (r *fakeChatLogRepo) DeleteByUser(context.Context, *gorm.DB, string) (int64, error) {
	return 0, nil
}
func (r *fakeChatLogRepo) DeleteRecent(context.Context, *gorm.DB, string, int) ([]string, error) {
	return nil, nil
}

// fakeSourceRepo mirrors the external_id conflict clause and the
// pending→processing→done/error lifecycle.
type fakeSourceRepo struct {
	byExternal map[string]*types.Source
	order      []*types.Source
	doneSHA    map[uuid.UUID]string
	errored    []uuid.UUID
}

func newFakeSourceRepo() *fakeSourceRepo {
	return &fakeSourceRepo{byExternal: map[string]*types.Source{}, doneSHA: map[uuid.UUID]string{}}
}

func (r *fakeSourceRepo) Insert(_ context.Context, _ *gorm.DB, source *types.Source) (bool, error) {
	if _, ok := r.byExternal[source.ExternalID]; ok {
		return false, nil
	}
	if source.SourceID == uuid.Nil {
		source.SourceID = uuid.New()
	}
	r.byExternal[source.ExternalID] = source
	r.order = append(r.order, source)
	return true, nil
}

func (r *fakeSourceRepo) ClaimPending(_ context.Context, _ *gorm.DB, limit int) ([]*types.Source, error) {
	var out []*types.Source
	for _, src := range r.order {
		if src.Status != types.SourceStatusPending {
			continue
		}
		src.Status = types.SourceStatusProcessing
		out = append(out, src)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeSourceRepo) MarkDone(_ context.Context, _ *gorm.DB, sourceID uuid.UUID, contentSHA256 string) error {
	r.doneSHA[sourceID] = contentSHA256
	for _, src := range r.order {
		if src.SourceID == sourceID {
			src.Status = types.SourceStatusDone
		}
	}
	return nil
}

func (r *fakeSourceRepo) MarkError(_ context.Context, _ *gorm.DB, sourceID uuid.UUID) error {
	r.errored = append(r.errored, sourceID)
	for _, src := range r.order {
		if src.SourceID == sourceID {
			src.Status = types.SourceStatusError
		}
	}
	return nil
}

func (r *fakeSourceRepo) GetByID(context.Context, *gorm.DB, uuid.UUID) (*types.Source, error) {
	return nil, nil
}
func (r *fakeSourceRepo) GetByExternalID(context.Context, *gorm.DB, string) (*types.Source, error) {
	return nil, nil
}
func (r *fakeSourceRepo) ListByStatus(context.Context, *gorm.DB, string, int) ([]*types.Source, error) {
	return nil, nil
}
func (r *fakeSourceRepo) ListDoneUnlinked(context.Context, *gorm.DB, string, int) ([]*types.Source, error) {
	return nil, nil
}
func (r *fakeSourceRepo) CountByStatus(context.Context, *gorm.DB, string) (int64, error) {
	return 0, nil
}
func (r *fakeSourceRepo) CountDoneChatLog(context.Context, *gorm.DB) (int64, error) { return 0, nil }

type fakeEntityRepo struct {
	byName map[string]*types.Entity
}

func (r *fakeEntityRepo) GetOrCreate(_ context.Context, _ *gorm.DB, entityType, canonicalName string) (*types.Entity, error) {
	key := entityType + "|" + canonicalName
	if e, ok := r.byName[key]; ok {
		return e, nil
	}
	e := &types.Entity{EntityID: uuid.New(), EntityType: entityType, CanonicalName: canonicalName}
	r.byName[key] = e
	return e, nil
}

func (r *fakeEntityRepo) GetByID(context.Context, *gorm.DB, uuid.UUID) (*types.Entity, error) {
	return nil, nil
}
func (r *fakeEntityRepo) GetByName(context.Context, *gorm.DB, string, string) (*types.Entity, error) {
	return nil, nil
}
func (r *fakeEntityRepo) EnsurePredicate(context.Context, *gorm.DB, *types.Predicate) error {
	return nil
}
func (r *fakeEntityRepo) GetPredicate(context.Context, *gorm.DB, string) (*types.Predicate, error) {
	return nil, nil
}
func (r *fakeEntityRepo) ListCardinalityOnePredicates(context.Context, *gorm.DB) ([]string, error) {
	return nil, nil
}
func (r *fakeEntityRepo) Count(context.Context, *gorm.DB) (int64, error) { return 0, nil }

type fakeClaimRepo struct {
	byKey       map[string]*types.Claim
	evidence    []*types.Evidence
	evidenceErr error
}

func (r *fakeClaimRepo) Upsert(_ context.Context, _ *gorm.DB, claim *types.Claim) (*types.Claim, bool, error) {
	if existing, ok := r.byKey[claim.CanonicalKey]; ok {
		return existing, false, nil
	}
	claim.ClaimID = uuid.New()
	r.byKey[claim.CanonicalKey] = claim
	return claim, true, nil
}

func (r *fakeClaimRepo) AddEvidence(_ context.Context, _ *gorm.DB, evidence *types.Evidence) error {
	if r.evidenceErr != nil {
		return r.evidenceErr
	}
	r.evidence = append(r.evidence, evidence)
	return nil
}

func (r *fakeClaimRepo) GetByCanonicalKey(context.Context, *gorm.DB, string) (*types.Claim, error) {
	return nil, nil
}
func (r *fakeClaimRepo) GetByID(context.Context, *gorm.DB, uuid.UUID) (*types.Claim, error) {
	return nil, nil
}
func (r *fakeClaimRepo) ListActive(context.Context, *gorm.DB, uuid.UUID, string) ([]*types.Claim, error) {
	return nil, nil
}
func (r *fakeClaimRepo) ListActiveByPredicatePrefix(context.Context, *gorm.DB, uuid.UUID, string) ([]*types.Claim, error) {
	return nil, nil
}
func (r *fakeClaimRepo) ListBySource(context.Context, *gorm.DB, uuid.UUID) ([]*types.Claim, error) {
	return nil, nil
}
func (r *fakeClaimRepo) Retract(context.Context, *gorm.DB, uuid.UUID) error { return nil }
func (r *fakeClaimRepo) ListEvidence(context.Context, *gorm.DB, uuid.UUID) ([]*types.Evidence, error) {
	return nil, nil
}
func (r *fakeClaimRepo) CountEvidenceBySource(context.Context, *gorm.DB, uuid.UUID) (int64, error) {
	return 0, nil
}
func (r *fakeClaimRepo) CountActive(context.Context, *gorm.DB) (int64, error) { return 0, nil }
func (r *fakeClaimRepo) CountActiveBelowConfidence(context.Context, *gorm.DB, float64) (int64, error) {
	return 0, nil
}

type fakeContradictionRepo struct{}

func (fakeContradictionRepo) FindCardinalityViolations(context.Context, *gorm.DB) ([]repos.CardinalityViolation, error) {
	return nil, nil
}
func (fakeContradictionRepo) EnsureOpen(context.Context, *gorm.DB, uuid.UUID, string, string) (*types.Contradiction, error) {
	return nil, nil
}
func (fakeContradictionRepo) AddMember(context.Context, *gorm.DB, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}
func (fakeContradictionRepo) ListMembers(context.Context, *gorm.DB, uuid.UUID) ([]*types.ContradictionMember, error) {
	return nil, nil
}
func (fakeContradictionRepo) ListOpen(context.Context, *gorm.DB, int) ([]*types.Contradiction, error) {
	return nil, nil
}
func (fakeContradictionRepo) CountOpen(context.Context, *gorm.DB) (int64, error) { return 0, nil }
func (fakeContradictionRepo) Resolve(context.Context, *gorm.DB, uuid.UUID) error { return nil }

type pipelineFixture struct {
	svc      Service
	chatLogs *fakeChatLogRepo
	sources  *fakeSourceRepo
	entities *fakeEntityRepo
	claims   *fakeClaimRepo
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f := &pipelineFixture{
		chatLogs: &fakeChatLogRepo{},
		sources:  newFakeSourceRepo(),
		entities: &fakeEntityRepo{byName: map[string]*types.Entity{}},
		claims:   &fakeClaimRepo{byKey: map[string]*types.Claim{}},
	}
	f.svc = NewService(newStubDB(t), f.sources, f.entities, f.claims, fakeContradictionRepo{}, f.chatLogs, log)
	return f
}

func (f *pipelineFixture) addPendingSource(title, content string) *types.Source {
	src := &types.Source{
		SourceID:   uuid.New(),
		SourceType: "chat_log",
		ExternalID: "manual:" + uuid.New().String(),
		Title:      title,
		Content:    content,
		Status:     types.SourceStatusPending,
	}
	f.sources.byExternal[src.ExternalID] = src
	f.sources.order = append(f.sources.order, src)
	return src
}

func TestSeedFromChatLogIsIdempotent(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	thread := "t1"
	f.chatLogs.rows = []*types.ChatLog{
		{ID: "log1", UserID: "max", Text: "Coffee: yes", ThreadID: &thread, CreatedAt: time.Now().UTC()},
		{ID: "log2", UserID: "max", Text: "Mood: calm", VantageID: "lab", CreatedAt: time.Now().UTC()},
	}

	inserted, err := f.svc.SeedFromChatLog(ctx, "default", 10)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("inserted = %d, want 2", inserted)
	}

	src := f.sources.byExternal["chat_log:log1"]
	if src == nil {
		t.Fatal("source chat_log:log1 missing")
	}
	if src.Title != "chat_log:user:<NULL>:log1" {
		t.Fatalf("title = %q", src.Title)
	}
	meta := map[string]any{}
	if err := json.Unmarshal(src.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["chat_log_id"] != "log1" || meta["thread_id"] != "t1" {
		t.Fatalf("metadata = %v", meta)
	}
	if lab := f.sources.byExternal["chat_log:log2"]; lab == nil || lab.Title != "chat_log:user:lab:log2" {
		t.Fatalf("lab source = %+v", lab)
	}

	// Same rows again: external_id dedupe keeps the count at zero.
	again, err := f.svc.SeedFromChatLog(ctx, "default", 10)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if again != 0 {
		t.Fatalf("reseed inserted = %d, want 0", again)
	}
	if len(f.sources.order) != 2 {
		t.Fatalf("sources = %d, want 2", len(f.sources.order))
	}
}

func TestExtractOnceBuildsClaimsAndEvidence(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	content := "Coffee: yes\nMood: calm"
	src := f.addPendingSource("chat_log:user:default:log1", content)

	out, err := f.svc.ExtractOnce(ctx, 50)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.ProcessedSourceID != src.SourceID.String() {
		t.Fatalf("processed = %q, want %s", out.ProcessedSourceID, src.SourceID)
	}
	if out.FactsFound != 2 || out.ClaimsUpserted != 3 {
		t.Fatalf("facts=%d claims=%d, want 2/3", out.FactsFound, out.ClaimsUpserted)
	}
	if got := f.sources.doneSHA[src.SourceID]; got != SHA256Hex(content) {
		t.Fatalf("done sha = %q, want content hash", got)
	}

	predicates := map[string]bool{}
	for _, c := range f.claims.byKey {
		predicates[c.Predicate] = true
	}
	for _, want := range []string{"doc.content_sha256", "attr.coffee", "attr.mood"} {
		if !predicates[want] {
			t.Fatalf("missing claim predicate %q (have %v)", want, predicates)
		}
	}

	if len(f.claims.evidence) != 3 {
		t.Fatalf("evidence rows = %d, want 3", len(f.claims.evidence))
	}
	spanned := 0
	for _, ev := range f.claims.evidence {
		if ev.SourceID != src.SourceID {
			t.Fatalf("evidence source = %s, want %s", ev.SourceID, src.SourceID)
		}
		if ev.SpanStart != nil && ev.SpanEnd != nil {
			spanned++
		}
	}
	if spanned != 2 {
		t.Fatalf("spanned evidence = %d, want the 2 kv facts", spanned)
	}
}

func TestExtractOnceReprocessSharesClaims(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	content := "Coffee: yes"
	f.addPendingSource("chat_log:user:default:log1", content)
	f.addPendingSource("chat_log:user:default:log1", content)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.ExtractOnce(ctx, 50); err != nil {
			t.Fatalf("extract %d: %v", i, err)
		}
	}

	// Identical subject/predicate/value collapses onto one claim per fact;
	// each pass still appends its own evidence.
	if len(f.claims.byKey) != 2 {
		t.Fatalf("claims = %d, want 2", len(f.claims.byKey))
	}
	if len(f.claims.evidence) != 4 {
		t.Fatalf("evidence rows = %d, want 4", len(f.claims.evidence))
	}
}

func TestExtractOnceParksFailedSourceInError(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	src := f.addPendingSource("chat_log:user:default:log1", "Coffee: yes")
	f.claims.evidenceErr = errors.New("evidence write failed")

	_, err := f.svc.ExtractOnce(ctx, 50)
	if err == nil || !strings.Contains(err.Error(), "evidence write failed") {
		t.Fatalf("err = %v, want evidence failure", err)
	}
	if len(f.sources.errored) != 1 || f.sources.errored[0] != src.SourceID {
		t.Fatalf("errored = %v, want [%s]", f.sources.errored, src.SourceID)
	}
	if src.Status != types.SourceStatusError {
		t.Fatalf("status = %q, want error", src.Status)
	}
}

func TestExtractOnceNoPendingIsNoop(t *testing.T) {
	f := newPipelineFixture(t)
	out, err := f.svc.ExtractOnce(context.Background(), 50)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.ProcessedSourceID != "" || out.ClaimsUpserted != 0 {
		t.Fatalf("out = %+v, want empty result", out)
	}
	if len(f.sources.errored) != 0 {
		t.Fatal("no source may be parked in error")
	}
}
