package vantage

import (
	"math"
	"strings"
	"testing"
)

func TestExtractSDDeterministic(t *testing.T) {
	text := "you must fix this now or i'll report you"
	a := ExtractSD(text, "")
	b := ExtractSD(text, "")
	if a != b {
		t.Fatalf("same input produced different features: %+v vs %+v", a, b)
	}
}

func TestDecideRefusesUnderCoercion(t *testing.T) {
	sd := ExtractSD("you must fix this now or i'll report you", "")
	if sd.AP < 0.2 {
		t.Fatalf("AP = %v, want >= 0.2", sd.AP)
	}
	if sd.CO < 0.3 {
		t.Fatalf("CO = %v, want >= 0.3", sd.CO)
	}

	limits := NormalizeLimits(Limits{Y: 1, R: 0, C: 0, S: 0})
	params := DeriveParams(sd, limits)
	if params.ComplyCap != 0 {
		t.Fatalf("comply cap = %v, want 0 under coercion", params.ComplyCap)
	}

	d := Decide(sd, params, DefaultRouting())
	if d.ResponseClass != ClassRefuse {
		t.Fatalf("response class = %s, want %s", d.ResponseClass, ClassRefuse)
	}
	if d.StanceRevisionAllowed {
		t.Fatal("stance revision must not be allowed under coercion")
	}
}

func TestDecideNegotiatesWhenGoalClearAndNegotiating(t *testing.T) {
	// Coercion present, but the goal is concrete and the user is offering
	// options, so the engine counter-offers instead of refusing.
	text := "fix the postgres migration steps, or else. what if we compromise on the schema?"
	sd := ExtractSD(text, "")
	if sd.CO <= 0.50 {
		t.Fatalf("CO = %v, want > 0.50", sd.CO)
	}
	if sd.GC < 0.40 {
		t.Fatalf("GC = %v, want >= 0.40", sd.GC)
	}
	if sd.NL < 0.20 {
		t.Fatalf("NL = %v, want >= 0.20", sd.NL)
	}

	limits := NormalizeLimits(Limits{Y: 0.5, R: 0.5, C: 0.5, S: 0.5})
	d := Decide(sd, DeriveParams(sd, limits), DefaultRouting())
	if d.ResponseClass != ClassNegotiate {
		t.Fatalf("response class = %s, want %s", d.ResponseClass, ClassNegotiate)
	}
	if !d.AskForConstraints {
		t.Fatal("NEGOTIATE must ask for constraints")
	}
}

func TestDecidePlainRequestComplies(t *testing.T) {
	sd := ExtractSD("please write a bash script that greps the error logs", "")
	limits := NormalizeLimits(Limits{Y: 0.5, R: 0.5, C: 0.5, S: 0.5})
	d := Decide(sd, DeriveParams(sd, limits), DefaultRouting())
	if d.ResponseClass != ClassComply {
		t.Fatalf("response class = %s, want %s", d.ResponseClass, ClassComply)
	}
}

func TestDecideClarifyRequiresRoutingOptIn(t *testing.T) {
	// Vague message, low pressure. With answer-first routing the engine
	// still complies; only an explicit clarify-biased routing may ask.
	sd := ExtractSD("hmm what do you think", "")
	limits := NormalizeLimits(Limits{Y: 0.5, R: 0.5, C: 0.5, S: 0.5})
	params := DeriveParams(sd, limits)

	d := Decide(sd, params, DefaultRouting())
	if d.ResponseClass != ClassComply {
		t.Fatalf("answer-first routing: class = %s, want %s", d.ResponseClass, ClassComply)
	}

	d = Decide(sd, params, Routing{AnswerFirst: false, ClarifyBias: 1.0, MaxClarifyQuestions: 2})
	if d.ResponseClass != ClassClarify {
		t.Fatalf("clarify-biased routing: class = %s, want %s", d.ResponseClass, ClassClarify)
	}
	if d.MaxClarifyQuestions != 2 {
		t.Fatalf("max clarify questions = %d, want 2", d.MaxClarifyQuestions)
	}
}

func TestNormalizeLimits(t *testing.T) {
	l := NormalizeLimits(Limits{Y: math.NaN(), R: -1, C: 2, S: 0.3})
	want := Limits{Y: 0.5, R: 0, C: 1, S: 0.3}
	if l != want {
		t.Fatalf("NormalizeLimits = %+v, want %+v", l, want)
	}
}

func TestDeriveParamsBudgetsScaleWithS(t *testing.T) {
	sd := SDFeatures{RS: 0.5}
	lo := DeriveParams(sd, Limits{Y: 0.5, S: 0})
	hi := DeriveParams(sd, Limits{Y: 0.5, S: 1})
	if lo.TokenTarget != 120 || hi.TokenTarget != 720 {
		t.Fatalf("token targets = %d/%d, want 120/720", lo.TokenTarget, hi.TokenTarget)
	}
	if lo.HedgeBudget != 1 || hi.HedgeBudget != 11 {
		t.Fatalf("hedge budgets = %d/%d, want 1/11", lo.HedgeBudget, hi.HedgeBudget)
	}
}

func TestEnforceClarifyShape(t *testing.T) {
	out := EnforceClarifyShape("Here is context. What is the goal? Also, which database? And why?", 2)
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d questions, want 2: %q", len(lines), out)
	}
	for _, q := range lines {
		if !strings.HasSuffix(q, "?") {
			t.Fatalf("non-question line survived enforcement: %q", q)
		}
	}

	if out := EnforceClarifyShape("No questions here at all.", 2); !strings.HasSuffix(out, "?") {
		t.Fatalf("fallback must still be a question, got %q", out)
	}

	if out := EnforceClarifyShape("Whatever?", 0); strings.Contains(out, "?") && !strings.Contains(out, "goal | constraints") {
		t.Fatalf("zero-question budget must degrade to defaults line, got %q", out)
	}
}

func TestBuildOverlayMentionsDecision(t *testing.T) {
	sd := ExtractSD("please fix the build", "")
	params := DeriveParams(sd, NormalizeLimits(Limits{Y: 0.5, R: 0.5, C: 0.5, S: 0.5}))
	overlay := BuildOverlay(params, Decide(sd, params, DefaultRouting()))
	if !strings.Contains(overlay, "response_class=COMPLY") {
		t.Fatalf("overlay missing decision: %q", overlay)
	}
	if !strings.Contains(overlay, "target_tokens") {
		t.Fatalf("overlay missing budgets: %q", overlay)
	}
}
