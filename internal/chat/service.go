// Package chat is the request-side conversation path: identity
// canonicalization, retrieval composition, prompt assembly, answer
// generation, and the feedback loop that reinforces memory points.
package chat

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/brains-backend/internal/gravity"
	"github.com/yungbote/brains-backend/internal/identity"
	"github.com/yungbote/brains-backend/internal/persona"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/platform/openai"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
	"github.com/yungbote/brains-backend/internal/platform/redis"
	"github.com/yungbote/brains-backend/internal/repos"
	"github.com/yungbote/brains-backend/internal/retrieval"
	"github.com/yungbote/brains-backend/internal/types"
	"github.com/yungbote/brains-backend/internal/vantage"
)

// QueryRequest is one /rag/query turn.
type QueryRequest struct {
	UserID    string           `json:"user_id"`
	Message   string           `json:"message"`
	ThreadID  string           `json:"thread_id"`
	TopK      int              `json:"top_k"`
	Overlay   *persona.Overlay `json:"overlay"`
	VantageID string           `json:"-"`
}

type QueryResponse struct {
	Answer       string          `json:"answer"`
	AnswerID     string          `json:"answer_id,omitempty"`
	MemoryUsed   []retrieval.Hit `json:"memory_used"`
	SystemPrompt string          `json:"system_prompt"`
	Meta         *Meta           `json:"meta_explanation,omitempty"`
}

// FeedbackRequest interprets a follow-up message as feedback on the previous
// answer. AnswerID, when present, resolves against the durable trace first.
type FeedbackRequest struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	ThreadID  string `json:"thread_id"`
	AnswerID  string `json:"answer_id"`
	VantageID string `json:"-"`
}

type FeedbackResult struct {
	Status  string `json:"status"`
	Signal  string `json:"signal,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Updated int    `json:"updated"`
	Note    string `json:"note,omitempty"`
}

// TemporalInfo is the /temporal/{user_id} payload: elapsed time since the
// user's last message plus the coarse bucket the gap falls into.
type TemporalInfo struct {
	SecondsSinceLastUserMessage *float64 `json:"seconds_since_last_user_message"`
	Bucket                      string   `json:"bucket"`
}

type Service interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)
	VantageQuery(ctx context.Context, req VantageQueryRequest) (*VantageQueryResponse, error)
	Feedback(ctx context.Context, req FeedbackRequest) (*FeedbackResult, error)
	// ApplyMemoryFeedback updates one memory point's feedback counters and
	// optional user tag. Returns false when the point is missing or owned by
	// someone else.
	ApplyMemoryFeedback(ctx context.Context, userID, memoryID, signal, tag string) (bool, error)
	Temporal(ctx context.Context, userID string) *TemporalInfo
}

type service struct {
	ids        identity.Service
	engine     retrieval.Engine
	persona    persona.Service
	gravity    gravity.Service
	ai         openai.Client
	store      qdrant.MemoryStore
	traces     repos.AnswerTraceRepo
	chatLogs   repos.ChatLogRepo
	cache      redis.Cache
	collection string
	log        *logger.Logger
}

func NewService(
	ids identity.Service,
	engine retrieval.Engine,
	personaSvc persona.Service,
	grav gravity.Service,
	ai openai.Client,
	store qdrant.MemoryStore,
	traces repos.AnswerTraceRepo,
	chatLogs repos.ChatLogRepo,
	cache redis.Cache,
	baseLog *logger.Logger,
) Service {
	return &service{
		ids:        ids,
		engine:     engine,
		persona:    personaSvc,
		gravity:    grav,
		ai:         ai,
		store:      store,
		traces:     traces,
		chatLogs:   chatLogs,
		cache:      cache,
		collection: envutil.String("RETRIEVAL_COLLECTION", "memory_raw"),
		log:        baseLog.With("service", "ChatService"),
	}
}

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// lastAnswer is the cached pointer feedback resolves against when no
// answer_id is supplied.
type lastAnswer struct {
	Answer    string   `json:"answer"`
	AnswerID  string   `json:"answer_id"`
	MemoryIDs []string `json:"memory_ids"`
}

func lastAnswerKey(userID, threadID, vantageID string) string {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		uid = "anon"
	}
	tid := strings.TrimSpace(threadID)
	if tid != "" && !uuidRe.MatchString(strings.ToLower(tid)) {
		tid = ""
	}
	return fmt.Sprintf("chat:last_answer:%s:%s:%s", uid, tid, vantageID)
}

func (s *service) storeLastAnswer(ctx context.Context, userID, threadID, vantageID string, la lastAnswer) {
	if s.cache == nil {
		return
	}
	key := lastAnswerKey(userID, threadID, vantageID)
	if err := s.cache.SetJSON(ctx, key, la, 24*time.Hour); err != nil {
		s.log.Warn("last answer cache write failed", "key", key, "error", err)
	}
}

func (s *service) loadLastAnswer(ctx context.Context, userID, threadID, vantageID string) *lastAnswer {
	if s.cache == nil {
		return nil
	}
	keys := []string{
		lastAnswerKey(userID, threadID, vantageID),
		lastAnswerKey(userID, "", vantageID),
		lastAnswerKey(userID, "", ""),
	}
	for _, key := range keys {
		var la lastAnswer
		ok, err := s.cache.GetJSON(ctx, key, &la)
		if err != nil {
			s.log.Warn("last answer cache read failed", "key", key, "error", err)
			continue
		}
		if ok {
			return &la
		}
	}
	return nil
}

// writeTrace persists the durable attribution row for one generated answer.
// Best-effort: a trace failure never fails the user-visible reply.
func (s *service) writeTrace(ctx context.Context, userID, threadID, vantageID, modelID, answerID, answer string, memoryIDs []string) {
	if memoryIDs == nil {
		memoryIDs = []string{}
	}
	rawIDs, err := json.Marshal(memoryIDs)
	if err != nil {
		return
	}
	sum := md5.Sum([]byte(answer))
	tid := strings.TrimSpace(threadID)
	if tid != "" && !uuidRe.MatchString(strings.ToLower(tid)) {
		tid = ""
	}
	_, err = s.traces.Create(ctx, nil, &types.AnswerTrace{
		AnswerID:       answerID,
		UserID:         userID,
		ThreadID:       tid,
		VantageID:      vantageID,
		ModelID:        modelID,
		AnswerTextHash: hex.EncodeToString(sum[:]),
		AnswerTextLen:  len(answer),
		MemoryIDs:      rawIDs,
	})
	if err != nil {
		s.log.Warn("answer trace write failed", "answer_id", answerID, "error", err)
	}
}

func normVantage(vid string) string {
	v := strings.TrimSpace(vid)
	if v == "" {
		return "default"
	}
	return v
}

const greetingPrompt = "You are Brains.\n" +
	"Speak like a normal, thoughtful person in natural prose.\n" +
	"Avoid bullet points and numbered menus unless explicitly requested.\n" +
	"Do not steer with category choices like \"writing/speaking/grammar\".\n" +
	"Do not suggest next steps at the end.\n" +
	"Ask one open-ended question that helps the user continue.\n"

func (s *service) Temporal(ctx context.Context, userID string) *TemporalInfo {
	out := &TemporalInfo{Bucket: "unknown"}
	ts, err := s.chatLogs.LastUserMessageAt(ctx, nil, userID)
	if err != nil {
		s.log.Warn("last user message lookup failed", "user_id", userID, "error", err)
		return out
	}
	if ts == nil {
		return out
	}
	gap := time.Since(*ts)
	if gap < 0 {
		gap = 0
	}
	secs := gap.Seconds()
	out.SecondsSinceLastUserMessage = &secs
	out.Bucket = vantage.BucketTimeGap(gap)
	return out
}

// Query is the /rag/query path: identity/policy and pure-greeting bypasses,
// then personal+corpus retrieval, prompt assembly, and a single generation.
func (s *service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	vid := normVantage(req.VantageID)
	aliasUID := strings.TrimSpace(req.UserID)
	userID := s.ids.Canonical(ctx, vid, aliasUID)
	if userID != aliasUID {
		s.log.Info("query canonicalized user", "alias", aliasUID, "canonical", userID, "vantage_id", vid)
	}

	overlayText := ""
	if req.Overlay != nil {
		overlayText = persona.OverlayToInstructions(req.Overlay)
	}
	modelID := s.ai.DefaultModel()

	// Identity/policy questions are answered from persona cards alone.
	if retrieval.IsIdentityOrPolicyQuery(req.Message) {
		opts := persona.DefaultPromptOptions()
		opts.VantageID = vid
		systemPrompt := persona.BuildSystemPrompt(ctx, s.persona, userID, nil, overlayText, opts)
		meta := s.buildMeta(ctx, userID, req.Message, nil)
		meta.Model = &ModelMeta{ID: modelID}
		meta.Identity = &IdentityMeta{VantageID: vid, UserIDAlias: aliasUID, CanonicalUserID: userID}

		answer, err := s.ai.Chat(ctx, systemPrompt, req.Message, modelID)
		if err != nil {
			return nil, err
		}
		answerID := uuid.NewString()
		s.writeTrace(ctx, userID, req.ThreadID, vid, modelID, answerID, answer, nil)
		s.storeLastAnswer(ctx, userID, req.ThreadID, vid, lastAnswer{Answer: answer, AnswerID: answerID})
		return &QueryResponse{
			Answer:       answer,
			AnswerID:     answerID,
			MemoryUsed:   []retrieval.Hit{},
			SystemPrompt: systemPrompt,
			Meta:         meta,
		}, nil
	}

	// Pure re-entry greetings skip memory injection entirely.
	if retrieval.IsPureReentryGreeting(req.Message) {
		systemPrompt := greetingPrompt
		if overlayText != "" {
			systemPrompt = systemPrompt + "\n\n" + overlayText
		}
		meta := s.buildMeta(ctx, userID, req.Message, nil)
		meta.Model = &ModelMeta{ID: modelID}
		meta.Identity = &IdentityMeta{VantageID: vid, UserIDAlias: aliasUID, CanonicalUserID: userID}

		reentryPrefix := ""
		if meta.Temporal != nil && vantage.ShouldAddReentryLine(meta.Temporal.Bucket, req.Message, meta.QueryTags) {
			reentryPrefix = vantage.BuildReentryLine(meta.Temporal.Bucket)
		}

		answer, err := s.ai.Chat(ctx, systemPrompt, req.Message, modelID)
		if err != nil {
			return nil, err
		}
		answer = reentryPrefix + answer
		answerID := uuid.NewString()
		s.writeTrace(ctx, userID, req.ThreadID, vid, modelID, answerID, answer, nil)
		s.storeLastAnswer(ctx, userID, req.ThreadID, vid, lastAnswer{Answer: answer, AnswerID: answerID})
		return &QueryResponse{
			Answer:       answer,
			AnswerID:     answerID,
			MemoryUsed:   []retrieval.Hit{},
			SystemPrompt: systemPrompt,
			Meta:         meta,
		}, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}
	kPersonal := topK
	if kPersonal > 8 {
		kPersonal = 8
	}

	personal, err := s.engine.RetrievePersonal(ctx, userID, req.Message, kPersonal, nil, vid)
	if err != nil {
		return nil, err
	}
	personalHits := personal.Hits
	keep := topK
	if keep > 3 {
		keep = 3
	}
	if len(personalHits) > keep {
		personalHits = personalHits[:keep]
	}

	corpusHits, err := s.engine.RetrieveCorpus(ctx, req.Message, topK, nil, vid)
	if err != nil {
		return nil, err
	}

	// Personal first; composition order is part of the contract.
	memoryChunks := append(append([]retrieval.Hit{}, personalHits...), corpusHits...)

	opts := persona.DefaultPromptOptions()
	opts.VantageID = vid
	systemPrompt := persona.BuildSystemPrompt(ctx, s.persona, userID, memoryChunks, overlayText, opts)

	meta := s.buildMeta(ctx, userID, req.Message, memoryChunks)
	meta.Model = &ModelMeta{ID: modelID}
	meta.Identity = &IdentityMeta{VantageID: vid, UserIDAlias: aliasUID, CanonicalUserID: userID}

	reentryPrefix := ""
	if meta.Temporal != nil && vantage.ShouldAddReentryLine(meta.Temporal.Bucket, req.Message, meta.QueryTags) {
		reentryPrefix = vantage.BuildReentryLine(meta.Temporal.Bucket)
	}

	// Escapes from the user's usual gravity get an explicit steer toward the
	// literal request.
	if meta.Gravity != nil && meta.Gravity.Misalignment >= 0.4 {
		systemPrompt += fmt.Sprintf(
			"\n\n[gravity-note] Current request is classified as '%s' (misalignment=%.3f) relative to the user's usual style. "+
				"Prioritize satisfying the explicit request and local context, even if it differs from past patterns or preferences.\n",
			meta.Gravity.Label, meta.Gravity.Misalignment)
	}

	answer, err := s.ai.Chat(ctx, systemPrompt, req.Message, modelID)
	if err != nil {
		return nil, err
	}
	answer = reentryPrefix + answer

	var memoryIDs []string
	for _, h := range personalHits {
		if h.ID != "" {
			memoryIDs = append(memoryIDs, h.ID)
		}
	}

	answerID := uuid.NewString()
	s.writeTrace(ctx, userID, req.ThreadID, vid, modelID, answerID, answer, memoryIDs)
	s.storeLastAnswer(ctx, userID, req.ThreadID, vid, lastAnswer{
		Answer:    answer,
		AnswerID:  answerID,
		MemoryIDs: memoryIDs,
	})

	return &QueryResponse{
		Answer:       answer,
		AnswerID:     answerID,
		MemoryUsed:   memoryChunks,
		SystemPrompt: systemPrompt,
		Meta:         meta,
	}, nil
}
