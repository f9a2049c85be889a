package memlog

import (
	"strings"

	"github.com/yungbote/brains-backend/internal/platform/envutil"
	"github.com/yungbote/brains-backend/internal/tagging"
)

func containsAny(t string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// normalizeVBSource maps upstream source labels to the canonical user/
// assistant labels the verbal-behavior tagger expects. Gated behind
// VB_TAG_SOURCE_NORMALIZE so legacy ingest keeps the raw label.
func normalizeVBSource(source string) string {
	s := strings.ToLower(source)
	if s == "user" || strings.HasSuffix(s, ":user") || strings.Contains(s, "chat:user") {
		return "user"
	}
	if s == "assistant" || strings.HasSuffix(s, ":assistant") || strings.Contains(s, "chat:assistant") {
		return "assistant"
	}
	if s == "" {
		return "unknown"
	}
	return s
}

// inferExtraTags is the ingest-side heuristic tagger: format, tone, topic
// and intent markers plus the verbal-behavior families.
func inferExtraTags(text, source string) []string {
	t := strings.ToLower(text)
	var extra []string

	if containsAny(t, "bullet", "bulleted", "outline", "skeleton") {
		extra = append(extra, "format:skeleton")
	}
	if containsAny(t, "paragraph", "prose", "narrative", "story") {
		extra = append(extra, "format:prose")
	}

	if strings.Contains(t, "testing memory") ||
		strings.Contains(t, "see how memory") ||
		(strings.Contains(t, "shape") && strings.Contains(t, "behavior")) {
		extra = append(extra, "tone:meta")
	}
	if strings.Contains(t, "design") && strings.Contains(t, "rag") {
		extra = append(extra, "tone:design")
	}

	if containsAny(t, "hammer strength", "hammer plate", "hammer equipment",
		"workout", "lift weights", "lifting weights", "gym routine") {
		extra = append(extra, "topic:workout")
	}
	if containsAny(t, "fractal monism", "fm axioms", "fm_", "monistic field",
		"undivided field", "differentiation", "lucifer", "self-deception") {
		extra = append(extra, "topic:fm")
	}
	if containsAny(t, "human vantage", "hv axioms", "hv-", "identity is enacted",
		"agency lives in the next act") {
		extra = append(extra, "topic:hv")
	}

	if containsAny(t, "explain", "what is", "why is", "how does", "could you describe") {
		extra = append(extra, "intent:explain")
	}
	if containsAny(t, "how do i", "show me how", "step by step", "steps", "instructions") {
		extra = append(extra, "intent:instruct")
	}
	if containsAny(t, "summary", "summarize", "short version") {
		extra = append(extra, "intent:summarize")
	}
	if containsAny(t, "analyze", "analysis", "break down") {
		extra = append(extra, "intent:analyze")
	}
	if containsAny(t, "compare", "difference between", "vs.") {
		extra = append(extra, "intent:compare")
	}
	if containsAny(t, "i feel", "why do i", "help me understand", "reflect on",
		"what does it mean for me", "in my life") {
		extra = append(extra, "intent:reflect")
	}
	if containsAny(t, "write", "create", "make a", "generate", "draft", "compose") {
		extra = append(extra, "intent:generate")
	}
	if containsAny(t, "rewrite", "edit this", "make this better") {
		extra = append(extra, "intent:rewrite")
	}
	if containsAny(t, "evaluate", "critique", "what do you think of", "rate this") {
		extra = append(extra, "intent:evaluate")
	}

	vbSource := source
	if envutil.Bool("VB_TAG_SOURCE_NORMALIZE", false) {
		vbSource = normalizeVBSource(source)
	}
	extra = append(extra, tagging.InferVBTags(text, vbSource)...)

	return extra
}
