package gravity

import (
	"math"
	"reflect"
	"testing"
)

func sampleMemories() []map[string]any {
	return []map[string]any{
		{"kind": "style_mode", "tags": []any{"format:skeleton"}},
		{"kind": "preference", "tags": []any{"topic:workout"}},
		{"tags": []any{"vb_ontology:high_abstraction", "topic:workout"}},
		{
			"tags":     []any{"topic:fm"},
			"feedback": map[string]any{"positive_signals": float64(2)},
		},
	}
}

func TestIdentityCoreWeights(t *testing.T) {
	// The long-term frequency pass runs last and wins for any tag that was
	// observed at all, so observed tags settle at freq·0.2.
	weights := identityCore(sampleMemories())
	if math.Abs(weights["topic:workout"]-0.08) > 1e-9 {
		t.Fatalf("topic:workout = %v, want 2/5 * 0.2 = 0.08", weights["topic:workout"])
	}
	if math.Abs(weights["format:skeleton"]-0.04) > 1e-9 {
		t.Fatalf("format:skeleton = %v, want 1/5 * 0.2 = 0.04", weights["format:skeleton"])
	}
}

func TestReinforcedPatternsBounded(t *testing.T) {
	memories := []map[string]any{{
		"tags":     []any{"topic:fm"},
		"feedback": map[string]any{"positive_signals": float64(100)},
	}}
	weights := reinforcedPatterns(memories)
	if weights["topic:fm"] != 0.3 {
		t.Fatalf("reinforcement must cap at 0.3, got %v", weights["topic:fm"])
	}
}

func TestGravityPartsDeterministic(t *testing.T) {
	memories := sampleMemories()
	for i := 0; i < 3; i++ {
		if !reflect.DeepEqual(identityCore(memories), identityCore(memories)) {
			t.Fatal("identityCore is not deterministic")
		}
		if !reflect.DeepEqual(statisticalBehavior(memories), statisticalBehavior(memories)) {
			t.Fatal("statisticalBehavior is not deterministic")
		}
	}
}

func TestComputeMisalignment(t *testing.T) {
	weights := map[string]float64{"topic:fm": 0.5, "topic:workout": -0.2}

	if got := ComputeMisalignment(nil, weights); got != 0 {
		t.Fatalf("no query tags: %v, want 0", got)
	}
	if got := ComputeMisalignment([]string{"topic:unseen"}, weights); got != 0.3 {
		t.Fatalf("no overlap: %v, want 0.3", got)
	}
	if got := ComputeMisalignment([]string{"topic:fm"}, weights); got != 0 {
		t.Fatalf("aligned overlap: %v, want 0", got)
	}
	if got := ComputeMisalignment([]string{"topic:workout"}, weights); got != 1 {
		t.Fatalf("fully misaligned: %v, want 1", got)
	}
	if got := ComputeMisalignment([]string{"topic:fm", "topic:workout"}, weights); got != 0.5 {
		t.Fatalf("half misaligned: %v, want 0.5", got)
	}
}

func TestBucketScoreSmoothing(t *testing.T) {
	// (pos − neg) / max(2, count + 2): small counts never saturate.
	if got := bucketScore(0, 1, 0); got != 0.5 {
		t.Fatalf("bucketScore(0,1,0) = %v, want 0.5", got)
	}
	if got := bucketScore(8, 10, 0); got != 1.0 {
		t.Fatalf("bucketScore(8,10,0) = %v, want 1.0", got)
	}
	if got := bucketScore(3, 0, 5); got != -1.0 {
		t.Fatalf("bucketScore(3,0,5) = %v, want -1.0", got)
	}
}

func TestDesireBiasMap(t *testing.T) {
	profile := &DesireProfile{}
	profile.RequestPatterns.ByFormat = []DesireBucket{{Key: "format:skeleton", Score: 0.5}}
	profile.RequestPatterns.ByTopic = []DesireBucket{{Key: "topic:fm", Score: -1.0}}
	profile.RequestPatterns.ByIntent = []DesireBucket{{Key: "intent:summarize", Score: 1.0}}

	bias := DesireBiasMap(profile)
	if math.Abs(bias["format:skeleton"]-0.06) > 1e-9 {
		t.Fatalf("format bias = %v, want 0.06", bias["format:skeleton"])
	}
	if math.Abs(bias["topic:fm"]-(-0.10)) > 1e-9 {
		t.Fatalf("topic bias = %v, want -0.10", bias["topic:fm"])
	}
	if math.Abs(bias["intent:summarize"]-0.06) > 1e-9 {
		t.Fatalf("intent bias = %v, want 0.06", bias["intent:summarize"])
	}

	if len(DesireBiasMap(nil)) != 0 {
		t.Fatal("nil profile must yield an empty bias map")
	}
}
