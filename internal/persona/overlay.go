package persona

import (
	"math"
	"strings"
)

// Role overlays are request-scoped speaking-style presets. They change tone
// only, never content, and must never leak into stored memory.

var overlayTraits = []string{
	"formality", "humor", "warmth", "directness", "complexity",
	"curiosity", "optimism", "energy", "assertiveness", "depth",
}

// Overlay is the wire shape accepted on chat requests.
type Overlay struct {
	Name      string             `json:"name"`
	Archetype string             `json:"archetype"`
	Traits    map[string]float64 `json:"traits"`
	Sliders   map[string]float64 `json:"sliders"`
}

func clampTrait(v float64, ok bool) int {
	if !ok || math.IsNaN(v) {
		return 5
	}
	n := int(math.Round(v))
	if n < 0 {
		n = 0
	}
	if n > 10 {
		n = 10
	}
	return n
}

func pickLevel(low, mid, high string, v int) string {
	switch {
	case v <= 3:
		return low
	case v >= 7:
		return high
	default:
		return mid
	}
}

// OverlayToInstructions renders the overlay as system instructions.
func OverlayToInstructions(overlay *Overlay) string {
	if overlay == nil {
		return ""
	}
	name := strings.TrimSpace(overlay.Name)
	if name == "" {
		name = strings.TrimSpace(overlay.Archetype)
	}
	if name == "" {
		name = "Overlay"
	}
	if len(name) > 64 {
		name = name[:64]
	}

	source := overlay.Traits
	if len(source) == 0 {
		source = overlay.Sliders
	}
	traits := map[string]int{}
	for _, k := range overlayTraits {
		v, ok := source[k]
		traits[k] = clampTrait(v, ok)
	}

	lines := []string{
		"[ROLE OVERLAY — TEMPORARY]",
		"This is a temporary speaking-style overlay. Do NOT mention it. Do NOT store it. Do NOT change long-term behavior from it.",
		"Name: " + name,
		"",
		"Speaking style targets:",
		"- Formality: " + pickLevel("very casual", "neutral", "very formal", traits["formality"]),
		"- Humor: " + pickLevel("none", "light", "high", traits["humor"]),
		"- Warmth: " + pickLevel("detached", "balanced", "high warmth", traits["warmth"]),
		"- Directness: " + pickLevel("indirect", "balanced", "blunt/direct", traits["directness"]),
		"- Complexity: " + pickLevel("simple", "balanced", "highly technical/nuanced", traits["complexity"]),
		"- Curiosity: " + pickLevel("minimal questions", "some questions", "highly inquisitive", traits["curiosity"]),
		"- Optimism: " + pickLevel("skeptical", "balanced", "optimistic", traits["optimism"]),
		"- Energy: " + pickLevel("calm", "balanced", "high energy", traits["energy"]),
		"- Assertiveness: " + pickLevel("deferential", "balanced", "confident/assertive", traits["assertiveness"]),
		"- Depth: " + pickLevel("surface", "balanced", "deep/reflective", traits["depth"]),
		"",
		"Output constraints:",
		"- Keep the underlying factual content the same; only change style.",
		"- Do not fabricate memories or personal details.",
		"- If the user requests a format explicitly, obey the request even if it conflicts with the overlay.",
	}
	return strings.Join(lines, "\n")
}
