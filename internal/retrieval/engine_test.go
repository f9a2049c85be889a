package retrieval

import (
	"math"
	"testing"
)

func TestRescorePersonalHitFeedback(t *testing.T) {
	payload := map[string]any{
		"feedback": map[string]any{"positive_signals": float64(3), "negative_signals": float64(1)},
	}
	got := RescorePersonalHit(0.50, payload, nil, nil, 0, nil)
	if math.Abs(got-0.60) > 1e-9 {
		t.Fatalf("net +2 feedback: score = %v, want 0.60", got)
	}

	// The feedback contribution is clamped.
	payload["feedback"] = map[string]any{"negative_signals": float64(100)}
	got = RescorePersonalHit(0.50, payload, nil, nil, 0, nil)
	if math.Abs(got-0.00) > 1e-9 {
		t.Fatalf("flooded negatives: score = %v, want 0.00", got)
	}
}

func TestRescorePersonalHitFormatAlignment(t *testing.T) {
	skeleton := map[string]any{"tags": []any{"format:skeleton"}}
	prose := map[string]any{"tags": []any{"format:prose"}}
	queryTags := []string{"format:skeleton"}

	up := RescorePersonalHit(0.50, skeleton, queryTags, nil, 0, nil)
	down := RescorePersonalHit(0.50, prose, queryTags, nil, 0, nil)
	if math.Abs(up-0.65) > 1e-9 {
		t.Fatalf("matching format: %v, want 0.65", up)
	}
	if math.Abs(down-0.40) > 1e-9 {
		t.Fatalf("opposing format: %v, want 0.40", down)
	}
}

func TestRescorePersonalHitTopicIntentAndUserTags(t *testing.T) {
	payload := map[string]any{
		"tags":      []any{"topic:fm"},
		"user_tags": []any{"intent:explain"},
	}
	got := RescorePersonalHit(0.50, payload, []string{"topic:fm", "intent:explain"}, nil, 0, nil)
	if math.Abs(got-(0.50+0.08+0.04)) > 1e-9 {
		t.Fatalf("topic+intent alignment: %v, want 0.62", got)
	}
}

func TestRescorePersonalHitGravityAttenuation(t *testing.T) {
	payload := map[string]any{"tags": []any{"topic:fm"}}
	weights := map[string]float64{"topic:fm": 1.0}

	aligned := RescorePersonalHit(0.50, payload, nil, weights, 0.0, nil)
	misaligned := RescorePersonalHit(0.50, payload, nil, weights, 0.9, nil)
	if aligned <= 0.50 {
		t.Fatalf("gravity tag must add bonus: %v", aligned)
	}
	if misaligned >= aligned {
		t.Fatalf("misalignment must attenuate: %v >= %v", misaligned, aligned)
	}
	if math.Abs((misaligned-0.50)-(aligned-0.50)*0.3) > 1e-9 {
		t.Fatalf("heavy misalignment scales bonus by 0.3: got %v", misaligned)
	}
}

func TestRescorePersonalHitDesireBias(t *testing.T) {
	payload := map[string]any{"tags": []any{"vb_desire:explicit_request"}}
	bias := map[string]float64{"vb_desire:explicit_request": 0.07}
	got := RescorePersonalHit(0.50, payload, nil, nil, 0, bias)
	if math.Abs(got-0.57) > 1e-9 {
		t.Fatalf("desire bias: %v, want 0.57", got)
	}
}

func TestComposeMergesAndTruncates(t *testing.T) {
	e := &engine{}
	personal := []Hit{
		{ID: "p1", Score: 0.9, Bucket: BucketPersonal},
		{ID: "p2", Score: 0.3, Bucket: BucketPersonal},
	}
	corpus := []Hit{
		{ID: "c1", Score: 0.8, Bucket: BucketCorpus},
		{ID: "c2", Score: 0.7, Bucket: BucketCorpus},
		{ID: "c3", Score: 0.1, Bucket: BucketCorpus},
	}

	out := e.Compose(personal, corpus, 1, 2, 2)
	if len(out) != 2 {
		t.Fatalf("got %d hits, want 2", len(out))
	}
	if out[0].ID != "p1" || out[1].ID != "c1" {
		t.Fatalf("order = %s,%s want p1,c1", out[0].ID, out[1].ID)
	}

	// Caps beyond slice length are tolerated.
	out = e.Compose(personal, corpus, 10, 10, 0)
	if len(out) != 5 {
		t.Fatalf("got %d hits, want all 5", len(out))
	}
}

func TestQueryIsProbe(t *testing.T) {
	probes := []string{
		"say exactly: ping",
		"memtest: alpha",
		"please echo model id back",
	}
	for _, q := range probes {
		if !queryIsProbe(q) {
			t.Fatalf("queryIsProbe(%q) = false, want true", q)
		}
	}
	if queryIsProbe("what did i say about coffee?") {
		t.Fatal("ordinary query flagged as probe")
	}
}
