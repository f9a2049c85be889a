package facts

import "testing"

func TestParseKVFacts(t *testing.T) {
	facts := ParseKVFacts("Coffee: yes\nMood: calm", 32)
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(facts))
	}
	if facts[0].Predicate != "attr.coffee" || facts[0].Value != "yes" {
		t.Fatalf("fact 0 = %s=%q", facts[0].Predicate, facts[0].Value)
	}
	if facts[1].Predicate != "attr.mood" || facts[1].Value != "calm" {
		t.Fatalf("fact 1 = %s=%q", facts[1].Predicate, facts[1].Value)
	}
}

func TestParseKVFactsTrimsWhitespace(t *testing.T) {
	facts := ParseKVFacts("  Mood: calm, focused  ", 32)
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Predicate != "attr.mood" {
		t.Fatalf("predicate = %q, want attr.mood", facts[0].Predicate)
	}
	if facts[0].Value != "calm, focused" {
		t.Fatalf("value = %q, want %q", facts[0].Value, "calm, focused")
	}
	if facts[0].SpanStart == nil || facts[0].SpanEnd == nil {
		t.Fatal("evidence span missing")
	}
}

func TestParseKVFactsSkipsNonKVLines(t *testing.T) {
	facts := ParseKVFacts("just a sentence\n- bullet without key\nColor: blue", 32)
	if len(facts) != 1 || facts[0].Predicate != "attr.color" {
		t.Fatalf("facts = %+v, want single attr.color", facts)
	}
}

func TestParseKVFactsRespectsMax(t *testing.T) {
	if facts := ParseKVFacts("A: 1\nB: 2\nC: 3", 2); len(facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(facts))
	}
	if facts := ParseKVFacts("A: 1", 0); facts != nil {
		t.Fatal("maxFacts=0 must yield nothing")
	}
}

func TestNormKey(t *testing.T) {
	cases := map[string]string{
		"Mood":            "mood",
		"  Coffee Order ": "coffee_order",
		"A/B - Test":      "a_b_test",
		"???":             "unknown",
	}
	for in, want := range cases {
		if got := NormKey(in); got != want {
			t.Fatalf("NormKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalClaimKeyDeterministic(t *testing.T) {
	a := CanonicalClaimKey("e1", "attr.mood", `{"type":"str","v":"calm"}`, "{}")
	b := CanonicalClaimKey("e1", "attr.mood", `{"type":"str","v":"calm"}`, "{}")
	if a != b {
		t.Fatal("same claim must hash identically")
	}
	if c := CanonicalClaimKey("e1", "attr.mood", `{"type":"str","v":"tense"}`, "{}"); c == a {
		t.Fatal("different values must hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(a))
	}
}
