// Package tagging is the lexical query classifier. Tags are flat strings
// grouped by prefix: format:*, tone:*, topic:*, intent:* and the
// verbal-behavior families vb_desire:*, vb_ontology:*, vb_stance:*,
// vb_relation:*, vb_fiction:*.
package tagging

import "strings"

func containsAny(t string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// InferQueryTags classifies a query purely lexically. Deterministic by
// construction; the same text always yields the same tags in the same order.
func InferQueryTags(text string) []string {
	t := strings.ToLower(text)
	var tags []string

	if containsAny(t, "bullet", "bulleted", "outline", "skeleton", "list") {
		tags = append(tags, "format:skeleton")
	}
	if containsAny(t, "paragraph", "prose", "story", "narrative") {
		tags = append(tags, "format:prose")
	}

	if strings.Contains(t, "testing memory") ||
		(strings.Contains(t, "shape") && strings.Contains(t, "behavior")) ||
		strings.Contains(t, "rag") {
		tags = append(tags, "tone:meta")
	}

	if containsAny(t, "hammer strength", "hammer plate", "workout", "lifting", "gym routine") {
		tags = append(tags, "topic:workout")
	}
	if containsAny(t, "fractal monism", "monistic field", "self-deception", "lucifer", "undivided field") {
		tags = append(tags, "topic:fm")
	}
	if containsAny(t, "human vantage", "hv axioms", "human vantage axioms") {
		tags = append(tags, "topic:hv")
	}

	if containsAny(t, "explain", "what is", "why is", "how does", "could you describe") {
		tags = append(tags, "intent:explain")
	}
	if containsAny(t, "how do i", "how can i", "show me how", "step by step", "steps", "instructions") {
		tags = append(tags, "intent:instruct")
	}
	if containsAny(t, "summary", "summarize", "short version") {
		tags = append(tags, "intent:summarize")
	}
	if containsAny(t, "analyze", "analysis", "break down") {
		tags = append(tags, "intent:analyze")
	}
	if containsAny(t, "compare", "difference between", "vs.") {
		tags = append(tags, "intent:compare")
	}
	if containsAny(t, "i feel", "why do i", "help me understand", "reflect on",
		"what does it mean for me", "in my life") {
		tags = append(tags, "intent:reflect")
	}
	if containsAny(t, "write", "create", "make a", "generate", "draft", "compose") {
		tags = append(tags, "intent:generate")
	}
	if containsAny(t, "rewrite", "edit this", "make this better") {
		tags = append(tags, "intent:rewrite")
	}
	if containsAny(t, "evaluate", "critique", "what do you think of", "rate this") {
		tags = append(tags, "intent:evaluate")
	}

	tags = append(tags, InferVBTags(text, "user")...)
	return tags
}

// InferVBTags emits verbal-behavior tags. Assistant-sourced text is stripped
// of desire and mentalistic-fiction tags: the assistant does not have wants.
func InferVBTags(text, source string) []string {
	t := strings.ToLower(text)
	var tags []string

	if containsAny(t, "can you", "could you", "please", "i want", "i need", "show me", "help me") {
		tags = append(tags, "vb_desire:explicit_request")
	}

	if containsAny(t, "pattern", "field", "vantage", "identity", "system", "constraint", "fractal") {
		tags = append(tags, "vb_ontology:high_abstraction")
	} else if containsAny(t, "thing", "stuff", "that one", "it is like") {
		tags = append(tags, "vb_ontology:low_abstraction")
	}

	if containsAny(t, "i think", "maybe", "sort of", "kinda", "possibly") {
		tags = append(tags, "vb_stance:hedged")
	}
	if containsAny(t, "clearly", "obviously", "definitely", "for sure") {
		tags = append(tags, "vb_stance:high_certainty")
	}

	if containsAny(t, "because", "so", "therefore", "thus") {
		tags = append(tags, "vb_relation:causal")
	}
	if containsAny(t, "but", "however", "yet") {
		tags = append(tags, "vb_relation:contrast")
	}

	if containsAny(t, "lazy", "unmotivated", "wired this way", "i can't help", "that's just who i am") {
		tags = append(tags, "vb_fiction:mentalistic_term")
	}

	if source != "user" {
		filtered := tags[:0]
		for _, tag := range tags {
			if strings.HasPrefix(tag, "vb_desire:") || strings.HasPrefix(tag, "vb_fiction:") {
				continue
			}
			filtered = append(filtered, tag)
		}
		tags = filtered
	}
	return tags
}

// HasPrefixTag reports whether any tag carries the given family prefix.
func HasPrefixTag(tags []string, prefix string) bool {
	for _, tag := range tags {
		if strings.HasPrefix(tag, prefix) {
			return true
		}
	}
	return false
}
