package persona

import (
	"context"
	"strings"

	"github.com/yungbote/brains-backend/internal/retrieval"
)

// FormatMemoryChunks renders retrieved hits as a compact bullet list,
// deduplicated by content across collections while keeping provenance.
func FormatMemoryChunks(hits []retrieval.Hit) string {
	if len(hits) == 0 {
		return ""
	}

	type entry struct {
		text    string
		sources []string
	}
	var order []string
	merged := map[string]*entry{}

	for _, h := range hits {
		payload := h.Payload
		text := strings.TrimSpace(stringField(payload, "text"))
		if text == "" {
			text = strings.TrimSpace(stringField(payload, "content"))
		}
		if text == "" {
			q := strings.TrimSpace(stringField(payload, "question"))
			a := strings.TrimSpace(stringField(payload, "answer"))
			switch {
			case q != "" && a != "":
				text = "Q: " + q + "\nA: " + a
			case q != "":
				text = "Q: " + q
			case a != "":
				text = a
			}
		}
		if text == "" {
			continue
		}

		coll := strings.TrimSpace(h.Collection)
		if coll == "" {
			coll = "unknown"
		}
		prefix := "[" + coll + "]"
		if kind := strings.TrimSpace(stringField(payload, "kind")); kind != "" {
			prefix += "[" + kind + "]"
		}

		key := strings.ToLower(text)
		e := merged[key]
		if e == nil {
			e = &entry{text: text}
			merged[key] = e
			order = append(order, key)
		}
		seen := false
		for _, s := range e.sources {
			if s == prefix {
				seen = true
				break
			}
		}
		if !seen {
			e.sources = append(e.sources, prefix)
		}
	}

	lines := make([]string, 0, len(order))
	for _, key := range order {
		e := merged[key]
		line := "- " + e.sources[0] + " " + e.text
		if len(e.sources) > 1 {
			line += " (also: " + strings.Join(e.sources[1:], ", ") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// PromptOptions controls which blocks BuildSystemPrompt includes.
type PromptOptions struct {
	IncludePersona bool
	IncludeMemory  bool
	MemoryHeader   string
	VantageID      string
}

func DefaultPromptOptions() PromptOptions {
	return PromptOptions{
		IncludePersona: true,
		IncludeMemory:  true,
		MemoryHeader:   "Relevant context from memory:",
	}
}

// BuildSystemPrompt combines the persistent persona block, the
// request-scoped overlay (never stored), and the retrieved memory context
// into one system prompt.
func BuildSystemPrompt(ctx context.Context, svc Service, userID string, hits []retrieval.Hit, overlayText string, opts PromptOptions) string {
	var pieces []string

	if opts.IncludePersona {
		if block := strings.TrimSpace(svc.BuildPersonaBlock(ctx, userID, opts.VantageID)); block != "" {
			pieces = append(pieces, block)
		}
	}
	if overlay := strings.TrimSpace(overlayText); overlay != "" {
		pieces = append(pieces, overlay)
	}
	if !opts.IncludePersona {
		if instr := strings.TrimSpace(svc.BuildUserInstructionsBlock(ctx, userID, opts.VantageID)); instr != "" {
			pieces = append(pieces, instr)
		}
	}
	if opts.IncludeMemory {
		if block := strings.TrimSpace(FormatMemoryChunks(hits)); block != "" {
			header := opts.MemoryHeader
			if header == "" {
				header = "Relevant context from memory:"
			}
			pieces = append(pieces, header+"\n"+block)
		}
	}

	return strings.TrimSpace(strings.Join(pieces, "\n\n")) + "\n"
}
