package engine

import (
	"math"
	"strings"
	"testing"
)

func TestEvaluateArithmetic(t *testing.T) {
	ev := NewEvaluator()

	testCases := []struct {
		name  string
		expr  string
		scope map[string]any
		want  float64
	}{
		{"multiplication", "speed * 10", map[string]any{"speed": 2}, 20},
		{"precedence", "2 + 3 * 4", nil, 14},
		{"parentheses", "(2 + 3) * 4", nil, 20},
		{"division", "9 / 2", nil, 4.5},
		{"unary minus", "-x + 10", map[string]any{"x": 3}, 7},
		{"exponent", "base ^ 2", map[string]any{"base": 3}, 9},
		{"exponent right assoc", "2 ^ 3 ^ 2", nil, 512},
		{"exponent binds tighter than multiply", "2 * 3 ^ 2", nil, 18},
		{"mixed variables", "a * b + c", map[string]any{"a": 2, "b": 3, "c": 4}, 10},
		{"decimal literals", "0.5 * weight", map[string]any{"weight": 8}, 4},
		{"nested map access", "company.size / 10", map[string]any{"company": map[string]any{"size": 250}}, 25},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ev.Evaluate(tc.expr, tc.scope)
			if err != nil {
				t.Fatalf("Evaluate(%q) failed: %v", tc.expr, err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluateMalformedExpression(t *testing.T) {
	ev := NewEvaluator()

	testCases := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"dangling operator", "1 +"},
		{"unbalanced parens", "(1 + 2"},
		{"double operator", "1 * * 2"},
		{"bad character", "1 $ 2"},
		{"bad number", "1.2.3"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ev.Evaluate(tc.expr, nil); err == nil {
				t.Errorf("Evaluate(%q) should have failed", tc.expr)
			}
		})
	}
}

func TestEvaluateUndeclaredVariable(t *testing.T) {
	ev := NewEvaluator()

	_, err := ev.Evaluate("missing * 2", map[string]any{"present": 1})
	if err == nil {
		t.Fatal("referencing an undeclared variable should fail, not coerce to zero")
	}
}

func TestEvaluateRejectsFunctionCalls(t *testing.T) {
	ev := NewEvaluator()

	// The grammar admits numbers, operators, parens and variables only.
	// Any call syntax is rejected before compilation, closing the door
	// on every host or builtin function.
	for _, expr := range []string{`size(x)`, `string(1)`, `pow(2, 3)`} {
		_, err := ev.Evaluate(expr, map[string]any{"x": 1})
		if err == nil {
			t.Errorf("Evaluate(%q) should reject function calls", expr)
		}
	}

	_, err := ev.Evaluate(`size(x)`, map[string]any{"x": 1})
	if err == nil || !strings.Contains(err.Error(), "function calls are not allowed") {
		t.Errorf("error = %v, want function-call rejection", err)
	}
}

func TestEvaluateIntegerDivisionIsFloat(t *testing.T) {
	ev := NewEvaluator()

	got, err := ev.Evaluate("7 / 2", nil)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != 3.5 {
		t.Errorf("7 / 2 = %v, want 3.5 (no integer truncation)", got)
	}
}

func TestEvaluateCachesPrograms(t *testing.T) {
	ev := NewEvaluator()
	scope := map[string]any{"x": 4}

	first, err := ev.Evaluate("x * x", scope)
	if err != nil {
		t.Fatalf("first Evaluate failed: %v", err)
	}

	// Same expression and scope shape hits the cached program.
	second, err := ev.Evaluate("x * x", map[string]any{"x": 5})
	if err != nil {
		t.Fatalf("second Evaluate failed: %v", err)
	}

	if first != 16 || second != 25 {
		t.Errorf("cached program returned wrong values: %v, %v", first, second)
	}
}

func TestRewriteFormula(t *testing.T) {
	testCases := []struct {
		expr string
		want string
	}{
		{"1 + 2", "(1.0 + 2.0)"},
		{"a ^ b", "pow(a, b)"},
		{"2 * a ^ 2", "(2.0 * pow(a, 2.0))"},
		{".5 * x", "(0.5 * x)"},
	}

	for _, tc := range testCases {
		got, err := rewriteFormula(tc.expr)
		if err != nil {
			t.Fatalf("rewriteFormula(%q) failed: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Errorf("rewriteFormula(%q) = %q, want %q", tc.expr, got, tc.want)
		}
	}
}
