package cel

import (
	"context"
	"strings"
	"testing"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return eval
}

func TestEvaluateValue(t *testing.T) {
	eval := newTestEvaluator(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		expression string
		value      interface{}
		want       interface{}
	}{
		{"identity", "value", "hello", "hello"},
		{"upper", "value.upperAscii()", "boston", "BOSTON"},
		{"concat", `"city=" + value`, "nyc", "city=nyc"},
		{"arithmetic", "value * 2", int64(21), int64(42)},
		{"conditional", `value == "" ? "default" : value`, "", "default"},
		{"contains", `value.contains("ost")`, "Boston", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateValue(ctx, tt.expression, tt.value)
			if err != nil {
				t.Fatalf("EvaluateValue(%q): %v", tt.expression, err)
			}
			if got != tt.want {
				t.Errorf("EvaluateValue(%q) = %v (%T), want %v (%T)", tt.expression, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestEvaluateValueErrors(t *testing.T) {
	eval := newTestEvaluator(t)
	ctx := context.Background()

	if _, err := eval.EvaluateValue(ctx, "value +", "x"); err == nil {
		t.Error("expected error for syntactically invalid expression")
	}
	if _, err := eval.EvaluateValue(ctx, "unknownVar", "x"); err == nil {
		t.Error("expected error for undeclared variable")
	}
	long := "value" + strings.Repeat(" + value", 300)
	if _, err := eval.EvaluateValue(ctx, long, "x"); err == nil {
		t.Error("expected error for over-length expression")
	}
}

func TestValidateExpression(t *testing.T) {
	eval := newTestEvaluator(t)

	if err := eval.ValidateExpression("value.lowerAscii()"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := eval.ValidateExpression(""); err == nil {
		t.Error("empty expression accepted")
	}
	if err := eval.ValidateExpression("value ++"); err == nil {
		t.Error("invalid expression accepted")
	}
	if err := eval.ValidateExpression(strings.Repeat("(", 60) + "value" + strings.Repeat(")", 60)); err == nil {
		t.Error("deeply nested expression accepted")
	}
}

func TestEvaluateValueCachesPrograms(t *testing.T) {
	eval := newTestEvaluator(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := eval.EvaluateValue(ctx, "value + 1", int64(i))
		if err != nil {
			t.Fatalf("EvaluateValue: %v", err)
		}
		if got != int64(i+1) {
			t.Errorf("EvaluateValue = %v, want %d", got, i+1)
		}
	}
	eval.mu.Lock()
	_, cached := eval.cache["value + 1"]
	eval.mu.Unlock()
	if !cached {
		t.Error("expression not cached after evaluation")
	}
}
