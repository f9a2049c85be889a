package chat

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/platform/openai"
	"github.com/yungbote/brains-backend/internal/platform/qdrant"
)

var negativeMarkers = []string{
	"that wasn't helpful",
	"that wasnt helpful",
	"not helpful",
	"that is wrong",
	"that's wrong",
	"you are wrong",
	"this is wrong",
	"that missed the point",
	"you missed the point",
	"i don't like that answer",
	"i do not like that answer",
}

var positiveMarkers = []string{
	"that was helpful",
	"this was helpful",
	"that is helpful",
	"that's helpful",
	"exactly right",
	"that's perfect",
	"perfect, thank you",
	"this is good",
	"that is good",
	"this is exactly what i meant",
	"that is exactly what i meant",
}

// classifyFeedback decides positive/negative/neutral. Marker phrases are
// checked first; only a still-neutral message pays for a one-token model
// call at temperature 0.
func (s *service) classifyFeedback(ctx context.Context, lastAnswerText, userMessage string) string {
	text := strings.ToLower(strings.TrimSpace(userMessage))
	if text == "" {
		return "neutral"
	}
	for _, m := range negativeMarkers {
		if strings.Contains(text, m) {
			return "negative"
		}
	}
	for _, m := range positiveMarkers {
		if strings.Contains(text, m) {
			return "positive"
		}
	}

	if s.ai == nil {
		return "neutral"
	}
	system := "You are a classifier. The user has just reacted to an answer.\n" +
		"Your job is to decide if their reaction expresses positive, negative, or neutral\n" +
		"feedback about how helpful that answer was.\n\n" +
		"Respond with exactly one word: 'positive', 'negative', or 'neutral'."
	user := "Answer that was given:\n" + strings.TrimSpace(lastAnswerText) +
		"\n\nUser's reaction:\n" + strings.TrimSpace(userMessage) +
		"\n\nClassify the user's reaction."

	model := envutil.String("FEEDBACK_MODEL", "gpt-4o-mini")
	raw, err := s.ai.ChatMessagesOpts(ctx, []openai.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, model, 1, 0)
	if err != nil {
		s.log.Warn("feedback classifier call failed", "error", err)
		return "neutral"
	}
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(raw, "positive"):
		return "positive"
	case strings.Contains(raw, "negative"):
		return "negative"
	default:
		return "neutral"
	}
}

var (
	tagThisRe  = regexp.MustCompile(`\btag this(?: as)?\s+(.+)`)
	sentenceRe = regexp.MustCompile(`[.!?,]`)
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

// ExtractTagFromMessage finds "tag this as <phrase>" and slugs the phrase,
// e.g. "fractal monism expansion" → "fractal_monism_expansion".
func ExtractTagFromMessage(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	m := tagThisRe.FindStringSubmatch(lowered)
	if m == nil {
		return ""
	}
	raw := strings.TrimSpace(m[1])
	if idx := sentenceRe.FindStringIndex(raw); idx != nil {
		raw = strings.TrimSpace(raw[:idx[0]])
	}
	return strings.Trim(slugRe.ReplaceAllString(raw, "_"), "_")
}

// ApplyMemoryFeedback bumps feedback.positive_signals/negative_signals on
// the point's payload and appends the optional user tag. The owner check
// keeps one user's feedback off another user's memories.
func (s *service) ApplyMemoryFeedback(ctx context.Context, userID, memoryID, signal, tag string) (bool, error) {
	memoryID = strings.TrimSpace(memoryID)
	if memoryID == "" {
		return false, nil
	}
	points, err := s.store.Retrieve(ctx, s.collection, []string{memoryID}, true)
	if err != nil {
		return false, err
	}
	if len(points) == 0 {
		return false, nil
	}
	point := points[0]
	payload := point.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if owner, _ := payload["user_id"].(string); owner != "" && userID != "" && owner != userID {
		return false, nil
	}

	fb, _ := payload["feedback"].(map[string]any)
	if fb == nil {
		fb = map[string]any{}
	}
	switch signal {
	case "positive":
		fb["positive_signals"] = intOf(fb, "positive_signals") + 1
	case "negative":
		fb["negative_signals"] = intOf(fb, "negative_signals") + 1
	}
	payload["feedback"] = fb

	if tag != "" {
		var userTags []string
		if raw, ok := payload["user_tags"].([]any); ok {
			for _, t := range raw {
				if s, ok := t.(string); ok {
					userTags = append(userTags, s)
				}
			}
		}
		present := false
		for _, t := range userTags {
			if t == tag {
				present = true
				break
			}
		}
		if !present {
			userTags = append(userTags, tag)
		}
		payload["user_tags"] = userTags
	}

	point.Payload = payload
	if err := s.store.Upsert(ctx, s.collection, []qdrant.Point{point}); err != nil {
		return false, err
	}
	return true, nil
}

// Feedback resolves the previous answer (durable trace first, then the
// cache fallbacks), classifies the reaction, and reinforces every personal
// memory the answer used. The style card refresh runs regardless.
func (s *service) Feedback(ctx context.Context, req FeedbackRequest) (*FeedbackResult, error) {
	vid := normVantage(req.VantageID)
	aliasUID := strings.TrimSpace(req.UserID)
	userID := s.ids.Canonical(ctx, vid, aliasUID)
	if userID == "" {
		userID = "anon"
	}

	fbText := strings.TrimSpace(req.Message)
	if fbText == "" {
		return &FeedbackResult{Status: "empty"}, nil
	}

	var last *lastAnswer
	answerID := strings.TrimSpace(req.AnswerID)
	if answerID != "" && uuidRe.MatchString(strings.ToLower(answerID)) {
		trace, err := s.traces.GetByAnswerID(ctx, nil, answerID)
		if err != nil {
			s.log.Warn("trace lookup failed", "answer_id", answerID, "error", err)
		} else if trace != nil && trace.UserID == userID {
			var ids []string
			_ = json.Unmarshal(trace.MemoryIDs, &ids)
			last = &lastAnswer{AnswerID: trace.AnswerID, MemoryIDs: ids}
		}
	}
	if last == nil {
		last = s.loadLastAnswer(ctx, userID, req.ThreadID, vid)
	}
	if last == nil {
		if trace, err := s.traces.GetLatest(ctx, nil, userID, strings.TrimSpace(req.ThreadID), vid); err == nil && trace != nil {
			var ids []string
			_ = json.Unmarshal(trace.MemoryIDs, &ids)
			last = &lastAnswer{AnswerID: trace.AnswerID, MemoryIDs: ids}
		}
	}
	if last == nil {
		return &FeedbackResult{Status: "no_last_answer"}, nil
	}

	signal := s.classifyFeedback(ctx, last.Answer, fbText)
	tag := ExtractTagFromMessage(fbText)

	if signal == "neutral" && tag == "" {
		s.refreshStyle(ctx, userID)
		return &FeedbackResult{Status: "neutral"}, nil
	}

	updated := 0
	for _, mid := range last.MemoryIDs {
		ok, err := s.ApplyMemoryFeedback(ctx, userID, mid, signal, tag)
		if err != nil {
			s.log.Warn("memory feedback failed", "memory_id", mid, "error", err)
			continue
		}
		if ok {
			updated++
		}
	}

	s.refreshStyle(ctx, userID)

	out := &FeedbackResult{Status: "ok", Signal: signal, Tag: tag, Updated: updated}
	if len(last.MemoryIDs) == 0 {
		out.Note = "no_memory_ids"
	}
	return out, nil
}

func (s *service) refreshStyle(ctx context.Context, userID string) {
	if _, err := s.persona.QuickRefresh(ctx, userID, 30); err != nil {
		s.log.Warn("style refresh failed", "user_id", userID, "error", err)
	}
}
