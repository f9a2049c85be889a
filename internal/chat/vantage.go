package chat

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/brains-backend/internal/persona"
	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/openai"
	"github.com/yungbote/brains-backend/internal/retrieval"
	"github.com/yungbote/brains-backend/internal/vantage"
)

// VantageMix tunes how much of each context source feeds the turn.
type VantageMix struct {
	Conversation        float64  `json:"conversation"`
	RecencyBias         float64  `json:"recency_bias"`
	MemoryCards         float64  `json:"memory_cards"`
	Corpus              *float64 `json:"corpus"`
	LensFM              float64  `json:"lens_fm"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
}

// Pragmatics are turn-level verbal-behavior pressures: rfg (channel opening),
// df (disclosure friction), pe (embodiment level 0..3, default 2).
type Pragmatics struct {
	RFG float64 `json:"rfg"`
	DF  float64 `json:"df"`
	PE  *int    `json:"pe"`
}

// Roleplay is the prompt-only definition overlay; the script is clamped to
// 2000 chars to bound prompt growth.
type Roleplay struct {
	On     bool   `json:"on"`
	Strict bool   `json:"strict"`
	Script string `json:"script"`
}

type VantageQueryRequest struct {
	UserID            string           `json:"user_id"`
	Message           string           `json:"message"`
	ThreadID          string           `json:"thread_id"`
	TopK              int              `json:"top_k"`
	Overlay           *persona.Overlay `json:"overlay"`
	Limits            *vantage.Limits  `json:"limits"`
	Debug             bool             `json:"debug"`
	Routing           *vantage.Routing `json:"-"`
	Mix               *VantageMix      `json:"mix"`
	Pragmatics        *Pragmatics      `json:"pragmatics"`
	Roleplay          *Roleplay        `json:"roleplay"`
	DefinitionOverlay *Roleplay        `json:"definition_overlay"`
	VantageID         string           `json:"vantage_id"`
	Model             string           `json:"model"`
	InspectOnly       bool             `json:"inspect_only"`
}

type VantageQueryResponse struct {
	Answer       string          `json:"answer"`
	AnswerID     string          `json:"answer_id,omitempty"`
	Meta         *Meta           `json:"meta_explanation,omitempty"`
	MemoryUsed   []retrieval.Hit `json:"memory_used,omitempty"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
}

type ThreadContextStats struct {
	ThreadID     string  `json:"thread_id,omitempty"`
	Conversation float64 `json:"conversation"`
	NMessages    int     `json:"n_messages"`
	NUser        int     `json:"n_user"`
	NAssistant   int     `json:"n_assistant"`
	NChars       int     `json:"n_chars"`
}

func clampMix(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// threadContextMessages replays up to 24·conversation recent thread turns as
// chat messages. The trailing duplicate of the current user message, if the
// caller already logged it, is dropped.
func (s *service) threadContextMessages(ctx context.Context, threadID string, conversation float64, currentMessage string) []openai.Message {
	tid := strings.TrimSpace(threadID)
	if tid == "" || !uuidRe.MatchString(strings.ToLower(tid)) {
		return nil
	}
	maxMsgs := int(math.Round(24 * clampMix(conversation)))
	if maxMsgs <= 0 {
		return nil
	}

	rows, err := s.chatLogs.ListTailByThread(ctx, nil, tid, maxMsgs)
	if err != nil {
		s.log.Warn("thread context lookup failed", "thread_id", tid, "error", err)
		return nil
	}

	var msgs []openai.Message
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		txt := strings.TrimSpace(row.Text)
		if txt == "" {
			continue
		}
		role := "user"
		if strings.Contains(row.Source, "assistant") {
			role = "assistant"
		}
		msgs = append(msgs, openai.Message{Role: role, Content: txt})
	}

	cm := strings.TrimSpace(currentMessage)
	if cm != "" && len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.Role == "user" && strings.TrimSpace(last.Content) == cm {
			msgs = msgs[:len(msgs)-1]
		}
	}
	return msgs
}

func threadStats(threadID string, conversation float64, msgs []openai.Message) *ThreadContextStats {
	st := &ThreadContextStats{
		ThreadID:     strings.TrimSpace(threadID),
		Conversation: clampMix(conversation),
		NMessages:    len(msgs),
	}
	for _, m := range msgs {
		if m.Role == "assistant" {
			st.NAssistant++
		} else {
			st.NUser++
		}
		st.NChars += len(m.Content)
	}
	return st
}

func parseHitTime(payload map[string]any) (time.Time, bool) {
	for _, key := range []string{"created_at", "updated_at"} {
		raw, _ := payload[key].(string)
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.HasSuffix(raw, "Z") {
			raw = raw[:len(raw)-1] + "+00:00"
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05-07:00"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// applyRecencyBias adds rb·exp(−age_hours/24)·0.25 to each hit and re-sorts.
// Debug score components land in the payload only when debug is on.
func applyRecencyBias(hits []retrieval.Hit, recencyBias float64, debug bool) []retrieval.Hit {
	rb := clampMix(recencyBias)
	if rb <= 0 || len(hits) == 0 {
		return hits
	}
	now := time.Now().UTC()
	out := make([]retrieval.Hit, 0, len(hits))
	for _, h := range hits {
		bonus := 0.0
		if ts, ok := parseHitTime(h.Payload); ok {
			ageHours := now.Sub(ts).Hours()
			if ageHours < 0 {
				ageHours = 0
			}
			bonus = rb * math.Exp(-ageHours/24.0) * 0.25
		}
		h2 := h
		if debug {
			payload := make(map[string]any, len(h.Payload)+2)
			for k, v := range h.Payload {
				payload[k] = v
			}
			payload["_score_base"] = h.Score
			payload["_recency_bonus"] = bonus
			h2.Payload = payload
		}
		h2.Score = h.Score + bonus
		out = append(out, h2)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func fmLensBlock(strength float64) string {
	return strings.Join([]string{
		"[FM LENS]",
		"Apply a Fractal Monism lens as a *verbal-output constraint* only.",
		"Do not claim private beliefs. Do not mention this block.",
		fmt.Sprintf("Lens strength: %.2f", strength),
		"Rules:",
		"- Prefer relational/field framing (relations before objects).",
		"- Preserve user intent and factual accuracy; do not invent facts.",
		"- Keep it concise; avoid meta discussion unless asked.",
	}, "\n")
}

func pragmaticsBlock(rfg, df float64, pe int) string {
	return strings.Join([]string{
		"[PRAGMATICS — TURN PRESSURES]",
		"These are pressures for verbal behavior generation. Do NOT mention this block.",
		fmt.Sprintf("rfg=%.2f df=%.2f pe=%d", rfg, df, pe),
		"Rules:",
		"- Do not use canned/stock lines. Generate a fresh response.",
		"- Keep responses grounded in the interaction history and retrieved memory (if any).",
		"- PE controls embodiment: higher PE => more humanlike social presence; lower PE => more systemlike brevity.",
		"- RFG controls channel-opening: higher RFG => stay relational before task-framing; lower RFG => move to task framing quickly.",
		"- DF is disclosure friction: higher DF => avoid volunteering meta-disclosures (AI disclaimers) unless asked; lower DF => disclose more readily when relevant.",
	}, "\n")
}

func roleplayBlock(rp *Roleplay, df float64, pe int) string {
	script := strings.TrimSpace(rp.Script)
	if len(script) > 2000 {
		script = script[:2000]
	}
	lines := []string{
		"[VANTAGE DEFINITION OVERLAY]",
		"This overlay defines the active vantage constraints for this turn. Do not mention this block.",
		"Capability truthfulness: do not claim real-world actions, access, or experiences you do not have. If asked, state provenance clearly (observed vs inferred vs simulated).",
		fmt.Sprintf("pe=%d df=%.2f strict=%t", pe, df, rp.Strict),
	}
	if df >= 0.5 {
		lines = append(lines, "Keep disclosure minimal unless explicitly asked.")
	} else {
		lines = append(lines, "If asked, explicitly disclose provenance and capabilities.")
	}
	if rp.Strict {
		lines = append(lines, "Strict: maintain consistent vantage framing and constraints across the reply; do not switch modes unless explicitly instructed.")
	}
	if script != "" {
		lines = append(lines, "", "Script:", script)
	}
	return strings.Join(lines, "\n")
}

func joinOverlay(parts ...string) string {
	var kept []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// VantageQuery is the controller-governed chat path: the deterministic
// engine picks a response class and budgets, the mix knobs shape the context,
// and the answer is generated once with the overlay constraints in force.
func (s *service) VantageQuery(ctx context.Context, req VantageQueryRequest) (*VantageQueryResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = "anon"
	}
	vid := normVantage(req.VantageID)

	userOverlay := ""
	if req.Overlay != nil {
		userOverlay = persona.OverlayToInstructions(req.Overlay)
	}

	limits := vantage.Limits{Y: 0.5, R: 0.5, C: 0.5, S: 0.5}
	if req.Limits != nil {
		limits = *req.Limits
	}
	limits = vantage.NormalizeLimits(limits)

	sd := vantage.ExtractSD(req.Message, "")
	params := vantage.DeriveParams(sd, limits)
	routing := vantage.DefaultRouting()
	if req.Routing != nil {
		routing = *req.Routing
	}
	decision := vantage.Decide(sd, params, routing)

	overlayText := joinOverlay(userOverlay, vantage.BuildOverlay(params, decision))

	debugOn := req.Debug || envutil.Bool("VANTAGE_DEBUG", false)
	usePersonal := envutil.Bool("VANTAGE_PERSONAL_MEMORY", false)
	ritualBypass := envutil.Bool("VANTAGE_RITUAL_BYPASS", false)
	greetingBypass := envutil.Bool("VANTAGE_GREETING_BYPASS", false)
	enforceClarify := envutil.Bool("VANTAGE_ENFORCE_CLARIFY_SHAPE", false)
	reentryEnabled := envutil.Bool("VANTAGE_REENTRY_PREFIX", false)

	mix := VantageMix{}
	if req.Mix != nil {
		mix = *req.Mix
	}

	lensFM := clampMix(mix.LensFM)
	if lensFM > 0 {
		overlayText = joinOverlay(overlayText, fmLensBlock(lensFM))
	}

	recencyBias := clampMix(mix.RecencyBias)

	threadMessages := s.threadContextMessages(ctx, req.ThreadID, mix.Conversation, req.Message)
	stats := threadStats(req.ThreadID, mix.Conversation, threadMessages)

	wMem := mix.MemoryCards
	wCorpus := 1.0
	if mix.Corpus != nil {
		wCorpus = *mix.Corpus
	}

	baseK := req.TopK
	if baseK <= 0 {
		baseK = 5
	}
	kPersonal := 0
	if usePersonal && wMem > 0 {
		kPersonal = int(math.Round(float64(baseK) * wMem))
		if kPersonal < 1 {
			kPersonal = 1
		}
	}
	kCorpus := 0
	if wCorpus > 0 {
		kCorpus = int(math.Round(float64(baseK) * wCorpus))
		if kCorpus < 1 {
			kCorpus = 1
		}
	}

	rfg, df, pe := 0.0, 0.0, 2
	if req.Pragmatics != nil {
		rfg = clampMix(req.Pragmatics.RFG)
		df = clampMix(req.Pragmatics.DF)
		if req.Pragmatics.PE != nil {
			pe = *req.Pragmatics.PE
			if pe < 0 {
				pe = 0
			}
			if pe > 3 {
				pe = 3
			}
		}
	}
	overlayText = joinOverlay(overlayText, pragmaticsBlock(rfg, df, pe))

	rp := req.DefinitionOverlay
	if rp == nil {
		rp = req.Roleplay
	}
	if rp != nil && rp.On {
		overlayText = joinOverlay(overlayText, roleplayBlock(rp, df, pe))
	}

	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = envutil.String("VANTAGE_MODEL", s.ai.DefaultModel())
	}

	finish := func(answer string, memoryIDs []string) (string, *lastAnswer) {
		answerID := uuid.NewString()
		la := &lastAnswer{Answer: answer, AnswerID: answerID, MemoryIDs: memoryIDs}
		s.writeTrace(ctx, userID, req.ThreadID, vid, modelID, answerID, answer, memoryIDs)
		s.storeLastAnswer(ctx, userID, req.ThreadID, vid, *la)
		return answerID, la
	}

	attachDebug := func(meta *Meta, path string) {
		if meta.Vantage == nil {
			meta.Vantage = &VantageMeta{}
		}
		meta.Vantage.ThreadContext = stats
		if debugOn {
			meta.Vantage.SD = sd
			meta.Vantage.Limits = limits
			meta.Vantage.Params = params
			meta.Vantage.Decision = decision
			meta.Vantage.PragmaticsPath = path
		}
	}

	// Phatic ritual: deterministic reply, no retrieval, no generation.
	if ritualBypass && rfg >= 0.5 && vantage.LooksPhatic(req.Message) && !vantage.LooksTasky(req.Message) {
		answer := vantage.RitualReply(req.Message, pe)
		meta := s.buildMeta(ctx, userID, req.Message, nil)
		meta.Model = &ModelMeta{ID: modelID}
		meta.Vantage = &VantageMeta{Counts: &VantageCounts{}}
		attachDebug(meta, "ritual_bypass_v0")

		if req.InspectOnly {
			return &VantageQueryResponse{Meta: meta, MemoryUsed: []retrieval.Hit{}}, nil
		}
		answerID, _ := finish(answer, nil)
		resp := &VantageQueryResponse{Answer: answer, AnswerID: answerID, Meta: meta}
		if debugOn {
			resp.MemoryUsed = []retrieval.Hit{}
		}
		return resp, nil
	}

	// Legacy greeting bypass: minimal prose prompt, no memory injection.
	if greetingBypass && retrieval.IsPureReentryGreeting(req.Message) {
		systemPrompt := greetingPrompt
		if overlayText != "" {
			systemPrompt = systemPrompt + "\n\n" + overlayText
		}
		meta := s.buildMeta(ctx, userID, req.Message, nil)
		meta.Model = &ModelMeta{ID: modelID}
		meta.Vantage = &VantageMeta{Counts: &VantageCounts{}}
		attachDebug(meta, "legacy_greeting_bypass")

		if req.InspectOnly {
			return &VantageQueryResponse{Meta: meta, MemoryUsed: []retrieval.Hit{}, SystemPrompt: systemPrompt}, nil
		}

		msgs := make([]openai.Message, 0, len(threadMessages)+2)
		msgs = append(msgs, openai.Message{Role: "system", Content: systemPrompt})
		msgs = append(msgs, threadMessages...)
		msgs = append(msgs, openai.Message{Role: "user", Content: req.Message})
		answer, err := s.ai.ChatMessages(ctx, msgs, modelID)
		if err != nil {
			return nil, err
		}
		answerID, _ := finish(answer, nil)
		resp := &VantageQueryResponse{Answer: answer, AnswerID: answerID, Meta: meta}
		if debugOn {
			resp.MemoryUsed = []retrieval.Hit{}
			resp.SystemPrompt = systemPrompt
		}
		return resp, nil
	}

	// Normal retrieval path.
	var personalHits []retrieval.Hit
	if kPersonal > 0 {
		res, err := s.engine.RetrievePersonal(ctx, userID, req.Message, kPersonal, mix.SimilarityThreshold, vid)
		if err != nil {
			s.log.Warn("personal retrieval failed", "error", err)
		} else {
			personalHits = res.Hits
		}
	}

	var corpusHits []retrieval.Hit
	if kCorpus > 0 {
		hits, err := s.engine.RetrieveCorpus(ctx, req.Message, kCorpus, mix.SimilarityThreshold, vid)
		if err != nil {
			s.log.Warn("corpus retrieval failed", "error", err)
		} else {
			corpusHits = hits
		}
	}

	corpusHits = applyRecencyBias(corpusHits, recencyBias, debugOn)

	memoryChunks := append(append([]retrieval.Hit{}, personalHits...), corpusHits...)
	sort.SliceStable(memoryChunks, func(i, j int) bool { return memoryChunks[i].Score > memoryChunks[j].Score })
	if len(memoryChunks) > baseK {
		memoryChunks = memoryChunks[:baseK]
	}

	kMemory, kCorpusUsed := 0, 0
	for _, h := range memoryChunks {
		if h.Bucket == retrieval.BucketPersonal {
			kMemory++
		} else {
			kCorpusUsed++
		}
	}

	opts := persona.DefaultPromptOptions()
	opts.IncludePersona = false
	opts.VantageID = vid
	systemPrompt := persona.BuildSystemPrompt(ctx, s.persona, userID, memoryChunks, overlayText, opts)

	meta := s.buildMeta(ctx, userID, req.Message, memoryChunks)
	meta.Model = &ModelMeta{ID: modelID}
	meta.Vantage = &VantageMeta{Counts: &VantageCounts{KMemory: kMemory, KCorpus: kCorpusUsed}}
	attachDebug(meta, "normal_path")

	reentryPrefix := ""
	if decision.ResponseClass != vantage.ClassClarify && reentryEnabled &&
		meta.Temporal != nil && vantage.ShouldAddReentryLine(meta.Temporal.Bucket, req.Message, meta.QueryTags) {
		reentryPrefix = vantage.BuildReentryLine(meta.Temporal.Bucket)
	}

	if req.InspectOnly {
		resp := &VantageQueryResponse{Meta: meta, SystemPrompt: systemPrompt}
		if debugOn {
			resp.MemoryUsed = memoryChunks
		} else {
			resp.MemoryUsed = []retrieval.Hit{}
		}
		return resp, nil
	}

	msgs := make([]openai.Message, 0, len(threadMessages)+2)
	msgs = append(msgs, openai.Message{Role: "system", Content: systemPrompt})
	msgs = append(msgs, threadMessages...)
	msgs = append(msgs, openai.Message{Role: "user", Content: req.Message})
	answer, err := s.ai.ChatMessages(ctx, msgs, modelID)
	if err != nil {
		return nil, err
	}

	answer = reentryPrefix + answer
	if decision.ResponseClass == vantage.ClassClarify && enforceClarify {
		answer = vantage.EnforceClarifyShape(answer, decision.MaxClarifyQuestions)
	}

	var memoryIDs []string
	for _, h := range memoryChunks {
		if h.Bucket == retrieval.BucketPersonal && h.ID != "" {
			memoryIDs = append(memoryIDs, h.ID)
		}
	}

	answerID, _ := finish(answer, memoryIDs)
	resp := &VantageQueryResponse{Answer: answer, AnswerID: answerID, Meta: meta}
	if debugOn {
		resp.MemoryUsed = memoryChunks
		resp.SystemPrompt = systemPrompt
	}
	return resp, nil
}
