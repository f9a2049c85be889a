// Package memlog is the transcript surface: message ingestion into Postgres
// plus best-effort embedding into the memory collection, the standalone
// retrieval endpoints, the card console, and the privacy lifecycle
// (export, full delete, recent delete).
package memlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/openai"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/retrieval"
	"github.com/yungbote/brains-backend/internal/types"
)

// LogRequest is one inbound chat message.
type LogRequest struct {
	UserID    string   `json:"user_id"`
	Text      string   `json:"text"`
	Source    string   `json:"source"`
	ThreadID  string   `json:"thread_id"`
	VantageID string   `json:"vantage_id"`
	Tags      []string `json:"tags"`
	RequestID string   `json:"-"`
}

type LogResult struct {
	Status    string `json:"status"`
	ID        string `json:"id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Note      string `json:"note,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type CardListItem struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Source    string         `json:"source"`
	Tags      []string       `json:"tags"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Text      string         `json:"text"`
	Payload   map[string]any `json:"payload"`
}

type CardUpsertRequest struct {
	Kind             string         `json:"kind"`
	TopicKey         string         `json:"topic_key"`
	Text             *string        `json:"text"`
	Tags             []string       `json:"tags"`
	BaseImportance   *float64       `json:"base_importance"`
	Payload          map[string]any `json:"payload"`
	IfMatchUpdatedAt string         `json:"if_match_updated_at"`
}

type CardUpsertResult struct {
	CardID    string `json:"card_id"`
	UserID    string `json:"user_id"`
	VantageID string `json:"vantage_id"`
	Kind      string `json:"kind"`
	TopicKey  string `json:"topic_key"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Service interface {
	// Log persists a message to the authoritative transcript and embeds it
	// into the memory collection best-effort.
	Log(ctx context.Context, req LogRequest) (*LogResult, error)

	// Retrieve is the standalone corpus search: one named collection, or
	// every non-ignored collection when collection is empty or "ALL".
	Retrieve(ctx context.Context, query, collection string, topK int, threshold *float64) ([]retrieval.Hit, error)
	// RetrieveMemory searches the personal memory collection, optionally
	// filtered to one canonical user.
	RetrieveMemory(ctx context.Context, query, userID, vantageID string, topK int, threshold *float64) ([]retrieval.Hit, error)

	ListCards(ctx context.Context, userID, vantageID string, kinds []string, limit int) ([]CardListItem, error)
	UpsertCard(ctx context.Context, userID, vantageID string, req CardUpsertRequest) (*CardUpsertResult, error)
	DeleteCard(ctx context.Context, userID, vantageID, cardID string) (string, error)

	Export(ctx context.Context, userID string, limit int) (*ExportBundle, error)
	DeleteUserData(ctx context.Context, userID string) (*DeleteResult, error)
	DeleteRecent(ctx context.Context, userID string, minutes int) (*DeleteRecentResult, error)
}

type service struct {
	ids        identity.Service
	chatLogs   repos.ChatLogRepo
	threads    repos.ThreadRepo
	traces     repos.AnswerTraceRepo
	telemetry  repos.TelemetryRepo
	profiles   repos.VSProfileRepo
	store      qdrant.MemoryStore
	ai         openai.Client
	collection string
	log        *logger.Logger
}

func NewService(
	ids identity.Service,
	chatLogs repos.ChatLogRepo,
	threads repos.ThreadRepo,
	traces repos.AnswerTraceRepo,
	telemetry repos.TelemetryRepo,
	profiles repos.VSProfileRepo,
	store qdrant.MemoryStore,
	ai openai.Client,
	baseLog *logger.Logger,
) Service {
	return &service{
		ids:        ids,
		chatLogs:   chatLogs,
		threads:    threads,
		traces:     traces,
		telemetry:  telemetry,
		profiles:   profiles,
		store:      store,
		ai:         ai,
		collection: envutil.String("RETRIEVAL_COLLECTION", "memory_raw"),
		log:        baseLog.With("service", "MemlogService"),
	}
}

func normVantage(vid string) string {
	vid = strings.TrimSpace(vid)
	if vid == "" {
		return "default"
	}
	return vid
}

func isoNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

func mergeTags(tags, extra []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(tags)+len(extra))
	for _, t := range tags {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range extra {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func (s *service) Log(ctx context.Context, req LogRequest) (*LogResult, error) {
	text := req.Text
	if strings.TrimSpace(text) == "" {
		return &LogResult{Status: "empty", Detail: "no text"}, nil
	}

	aliasUID := strings.TrimSpace(req.UserID)
	if aliasUID == "" {
		aliasUID = "anon"
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "frontend"
	}
	vid := normVantage(req.VantageID)
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	userID := s.ids.Canonical(ctx, vid, aliasUID)
	if userID == "" {
		userID = aliasUID
	}

	// Identity fast-path: the frontend logs the user's name once; it becomes
	// the user_identity singleton card, not a transcript row.
	if source == "frontend/identity" && strings.HasPrefix(text, "FULL_NAME:") {
		return s.logIdentityCard(ctx, userID, aliasUID, text)
	}

	tags := mergeTags(req.Tags, inferExtraTags(text, source))

	var threadID *string
	if raw := strings.TrimSpace(req.ThreadID); raw != "" {
		if _, err := uuid.Parse(raw); err == nil {
			tid, err := s.repairThreadOwnership(ctx, raw, userID, vid)
			if err != nil {
				s.log.Warn("thread ownership check failed", "thread_id", raw, "error", err)
			} else if tid != "" {
				threadID = &tid
			}
		}
	}

	recID := uuid.NewString()
	createdAt := time.Now().UTC()

	rawTags, _ := json.Marshal(tags)
	if _, err := s.chatLogs.Create(ctx, nil, &types.ChatLog{
		ID:          recID,
		UserID:      userID,
		UserIDAlias: aliasUID,
		Source:      source,
		Text:        text,
		Tags:        datatypes.JSON(rawTags),
		ThreadID:    threadID,
		VantageID:   vid,
		RequestID:   requestID,
		CreatedAt:   createdAt,
	}); err != nil {
		return nil, fmt.Errorf("transcript write failed: %w", err)
	}

	if threadID != nil {
		if err := s.threads.UpdateFields(ctx, nil, *threadID, map[string]interface{}{
			"updated_at": time.Now().UTC(),
		}); err != nil {
			s.log.Warn("thread touch failed", "thread_id", *threadID, "error", err)
		}
	}

	// Postgres is authoritative; a missing embedding logs and continues.
	s.embedMessage(ctx, recID, userID, aliasUID, source, text, vid, requestID, threadID, tags, createdAt)

	return &LogResult{Status: "ok", ID: recID, RequestID: requestID}, nil
}

func (s *service) logIdentityCard(ctx context.Context, userID, aliasUID, text string) (*LogResult, error) {
	fullName := strings.TrimSpace(strings.TrimPrefix(text, "FULL_NAME:"))
	if fullName == "" {
		return &LogResult{Status: "empty", Detail: "no full_name"}, nil
	}

	created := isoNow()
	payload := map[string]any{
		"text":            fmt.Sprintf("The user's preferred name is %s.", fullName),
		"user_id":         userID,
		"user_id_alias":   aliasUID,
		"source":          "memory_card",
		"tags":            []string{"summary", "card", "user_identity"},
		"kind":            "user_identity",
		"topic_key":       "__singleton__",
		"base_importance": 0.9,
		"created_at":      created,
		"updated_at":      created,
	}

	vectors, err := s.ai.Embed(ctx, []string{payload["text"].(string)})
	if err != nil {
		s.log.Warn("identity card embed failed", "user_id", userID, "error", err)
		return &LogResult{Status: "ok", ID: userID, Note: "identity_card"}, nil
	}
	cardID := identity.SingletonCardID(userID, "user_identity", "__singleton__")
	if err := s.store.Upsert(ctx, s.collection, []qdrant.Point{{
		ID:      cardID,
		Vector:  vectors[0],
		Payload: payload,
	}}); err != nil {
		s.log.Warn("identity card upsert failed", "user_id", userID, "error", err)
	}
	return &LogResult{Status: "ok", ID: userID, Note: "identity_card"}, nil
}

// repairThreadOwnership returns the thread id to attach the message to, or
// "" when the thread belongs to a different user and must be detached.
// A missing thread row is created with the provided id; a thread owned by an
// alias of the same user is rewritten to the canonical owner.
func (s *service) repairThreadOwnership(ctx context.Context, threadID, userID, vantageID string) (string, error) {
	thread, err := s.threads.GetByID(ctx, nil, threadID)
	if err != nil {
		return "", err
	}
	if thread == nil {
		if _, err := s.threads.Create(ctx, nil, &types.Thread{
			ID:        threadID,
			UserID:    userID,
			Title:     "New chat",
			VantageID: vantageID,
		}); err != nil {
			return "", err
		}
		return threadID, nil
	}
	if thread.UserID == userID {
		return threadID, nil
	}
	if s.ids.Canonical(ctx, vantageID, thread.UserID) == userID {
		if err := s.threads.SetOwner(ctx, nil, threadID, userID); err != nil {
			return "", err
		}
		return threadID, nil
	}
	// Never attach messages to another user's thread.
	return "", nil
}

func (s *service) embedMessage(
	ctx context.Context,
	recID, userID, aliasUID, source, text, vantageID, requestID string,
	threadID *string,
	tags []string,
	createdAt time.Time,
) {
	vectors, err := s.ai.Embed(ctx, []string{text})
	if err != nil {
		s.log.Warn("message embed failed", "id", recID, "error", err)
		return
	}
	created := createdAt.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
	payload := map[string]any{
		"text":          text,
		"user_id":       userID,
		"user_id_alias": aliasUID,
		"request_id":    requestID,
		"source":        source,
		"tags":          tags,
		"vantage_id":    vantageID,
		"created_at":    created,
		"updated_at":    created,
	}
	if threadID != nil {
		payload["thread_id"] = *threadID
	} else {
		payload["thread_id"] = nil
	}
	if err := s.store.Upsert(ctx, s.collection, []qdrant.Point{{
		ID:      recID,
		Vector:  vectors[0],
		Payload: payload,
	}}); err != nil {
		s.log.Warn("memory upsert failed", "id", recID, "error", err)
	}
}
