package chat

import (
	"context"
	"testing"

	"github.com/yungbote/brains-backend/internal/platform/logger"
)

func TestExtractTagFromMessage(t *testing.T) {
	cases := map[string]string{
		"that was helpful, tag this as fm_expansion":   "fm_expansion",
		"tag this as Fractal Monism Expansion. thanks": "fractal_monism_expansion",
		"tag this workout_note":                        "workout_note",
		"no tagging here":                              "",
		"":                                             "",
	}
	for in, want := range cases {
		if got := ExtractTagFromMessage(in); got != want {
			t.Fatalf("ExtractTagFromMessage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassifyFeedbackMarkers(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s := &service{log: log}
	ctx := context.Background()

	if got := s.classifyFeedback(ctx, "an answer", "that was helpful, thanks!"); got != "positive" {
		t.Fatalf("positive marker classified as %q", got)
	}
	if got := s.classifyFeedback(ctx, "an answer", "no, that's wrong"); got != "negative" {
		t.Fatalf("negative marker classified as %q", got)
	}
	// No model wired: still-ambiguous text stays neutral.
	if got := s.classifyFeedback(ctx, "an answer", "interesting"); got != "neutral" {
		t.Fatalf("ambiguous text classified as %q", got)
	}
	if got := s.classifyFeedback(ctx, "an answer", "   "); got != "neutral" {
		t.Fatalf("blank text classified as %q", got)
	}
}
