package memlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeVBSource(t *testing.T) {
	cases := map[string]string{
		"user":              "user",
		"frontend:user":     "user",
		"voice chat:user x": "user",
		"assistant":         "assistant",
		"backend:assistant": "assistant",
		"":                  "unknown",
		"frontend/identity": "frontend/identity",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeVBSource(in), "normalizeVBSource(%q)", in)
	}
}

func TestInferExtraTags(t *testing.T) {
	tags := inferExtraTags("Give me a bulleted summary of my workout plan, step by step", "frontend")
	for _, want := range []string{"format:skeleton", "topic:workout", "intent:summarize", "intent:instruct"} {
		require.Contains(t, tags, want)
	}

	tags = inferExtraTags("help me understand the fractal monism axioms, i feel stuck", "frontend")
	require.Contains(t, tags, "topic:fm")
	require.Contains(t, tags, "intent:reflect")

	require.Empty(t, inferExtraTags("ok", "frontend"))
}

func TestVantageMatches(t *testing.T) {
	require.True(t, vantageMatches(map[string]any{}, "default"))
	require.False(t, vantageMatches(map[string]any{}, "lab"))
	require.True(t, vantageMatches(map[string]any{"vantage_id": nil}, "default"))
	require.True(t, vantageMatches(map[string]any{"vantage_id": ""}, "default"))
	require.False(t, vantageMatches(map[string]any{"vantage_id": ""}, "lab"))
	require.True(t, vantageMatches(map[string]any{"vantage_id": "lab"}, "lab"))
	require.False(t, vantageMatches(map[string]any{"vantage_id": "lab"}, "default"))
	require.False(t, vantageMatches(map[string]any{"vantage_id": 7}, "default"))
}

func TestMergeTagsDeduplicates(t *testing.T) {
	got := mergeTags([]string{"a", "b"}, []string{"b", "c", "a"})
	require.Equal(t, []string{"a", "b", "c"}, got)
}
