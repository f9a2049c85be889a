package tagging

import (
	"reflect"
	"testing"
)

func TestInferQueryTagsDeterministic(t *testing.T) {
	text := "please summarize the fractal monism notes as a bulleted outline"
	a := InferQueryTags(text)
	b := InferQueryTags(text)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same text yielded different tags: %v vs %v", a, b)
	}
}

func TestInferQueryTags(t *testing.T) {
	tags := InferQueryTags("please summarize my workout plan as a bulleted list")
	for _, want := range []string{"format:skeleton", "topic:workout", "intent:summarize", "vb_desire:explicit_request"} {
		if !hasTag(tags, want) {
			t.Fatalf("missing %s in %v", want, tags)
		}
	}

	tags = InferQueryTags("explain the difference between fractal monism and the human vantage axioms")
	for _, want := range []string{"topic:fm", "topic:hv", "intent:explain", "intent:compare"} {
		if !hasTag(tags, want) {
			t.Fatalf("missing %s in %v", want, tags)
		}
	}
}

func TestInferVBTagsAssistantFilter(t *testing.T) {
	text := "i want this because i'm just lazy, that's just who i am"
	userTags := InferVBTags(text, "user")
	if !hasTag(userTags, "vb_desire:explicit_request") || !hasTag(userTags, "vb_fiction:mentalistic_term") {
		t.Fatalf("user tags missing desire/fiction: %v", userTags)
	}

	assistantTags := InferVBTags(text, "assistant")
	if HasPrefixTag(assistantTags, "vb_desire:") || HasPrefixTag(assistantTags, "vb_fiction:") {
		t.Fatalf("assistant text must not carry desire/fiction tags: %v", assistantTags)
	}
	if !hasTag(assistantTags, "vb_relation:causal") {
		t.Fatalf("relation tags must survive the filter: %v", assistantTags)
	}
}

func TestHasPrefixTag(t *testing.T) {
	tags := []string{"topic:fm", "vb_stance:hedged"}
	if !HasPrefixTag(tags, "vb_stance:") {
		t.Fatal("expected prefix hit")
	}
	if HasPrefixTag(tags, "vb_desire:") {
		t.Fatal("unexpected prefix hit")
	}
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
