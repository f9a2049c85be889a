package qdrant

import (
	"errors"
	"testing"
)

func TestTranslateFilterScalarAndOperators(t *testing.T) {
	out, err := translateFilterMap(map[string]any{
		"user_id": "u-1",
		"kind":    map[string]any{"$in": []any{"preference", "style"}},
		"source":  map[string]any{"$ne": "memory_card"},
	})
	if err != nil {
		t.Fatalf("translateFilterMap: %v", err)
	}
	m := out.asMap()
	must, ok := m["must"].([]any)
	if !ok || len(must) != 2 {
		t.Fatalf("must clauses: got=%v", m["must"])
	}
	mustNot, ok := m["must_not"].([]any)
	if !ok || len(mustNot) != 1 {
		t.Fatalf("must_not clauses: got=%v", m["must_not"])
	}
}

func TestTranslateFilterNin(t *testing.T) {
	out, err := translateFilterMap(map[string]any{
		"source": map[string]any{"$nin": []string{"gravity_daemon", "vb_desire_daemon"}},
	})
	if err != nil {
		t.Fatalf("translateFilterMap: %v", err)
	}
	m := out.asMap()
	mustNot, ok := m["must_not"].([]any)
	if !ok || len(mustNot) != 1 {
		t.Fatalf("must_not clauses: got=%v", m["must_not"])
	}
	cond, ok := mustNot[0].(map[string]any)
	if !ok {
		t.Fatalf("condition type: got=%T", mustNot[0])
	}
	match, ok := cond["match"].(map[string]any)
	if !ok {
		t.Fatalf("match type: got=%T", cond["match"])
	}
	vals, ok := match["any"].([]any)
	if !ok || len(vals) != 2 {
		t.Fatalf("any values: got=%v", match["any"])
	}
}

func TestTranslateFilterBooleanOperators(t *testing.T) {
	out, err := translateFilterMap(map[string]any{
		"$or": []any{
			map[string]any{"kind": "preference"},
			map[string]any{"kind": "style"},
		},
		"$not": map[string]any{"archived": true},
	})
	if err != nil {
		t.Fatalf("translateFilterMap: %v", err)
	}
	m := out.asMap()
	should, ok := m["should"].([]any)
	if !ok || len(should) != 2 {
		t.Fatalf("should clauses: got=%v", m["should"])
	}
	mustNot, ok := m["must_not"].([]any)
	if !ok || len(mustNot) != 1 {
		t.Fatalf("must_not clauses: got=%v", m["must_not"])
	}
}

func TestTranslateFilterUnsupportedOperator(t *testing.T) {
	_, err := translateFilterMap(map[string]any{
		"score": map[string]any{"$gt": 0.5},
	})
	if err == nil {
		t.Fatalf("expected error for unsupported operator")
	}
	var typed *OperationError
	if !errors.As(err, &typed) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if typed.Code != OperationErrorUnsupportedFilter {
		t.Fatalf("code: want=%q got=%q", OperationErrorUnsupportedFilter, typed.Code)
	}
}

func TestTranslateFilterEmptyIn(t *testing.T) {
	_, err := translateFilterMap(map[string]any{
		"kind": map[string]any{"$in": []any{}},
	})
	if err == nil {
		t.Fatalf("expected error for empty $in")
	}
	var typed *OperationError
	if !errors.As(err, &typed) {
		t.Fatalf("expected OperationError, got=%T", err)
	}
	if typed.Code != OperationErrorValidation {
		t.Fatalf("code: want=%q got=%q", OperationErrorValidation, typed.Code)
	}
}
