package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// operator keys recognized inside a condition's criterion object.
var conditionOperators = map[string]bool{
	"eq":          true,
	"lt":          true,
	"lte":         true,
	"gt":          true,
	"gte":         true,
	"between":     true,
	"in":          true,
	"contains":    true,
	"matches_any": true,
}

// Matches evaluates a condition against the input and the variables
// resolved so far. Field values resolve from variables first, then by
// dot-path traversal into the input. All entries are ANDed.
//
// Null handling is fail-closed: a field absent from both variables and
// input never satisfies a positive check. The only way to match an
// absent value is an explicit {eq: null}. Missing optional data must
// never silently satisfy a condition, so absence short-circuits to
// false instead of raising an error; a value of the wrong type for an
// operator, by contrast, is a real evaluation error.
func Matches(cond Condition, input, variables map[string]any) (bool, error) {
	for field, criterion := range cond {
		value, found := lookupField(field, input, variables)

		ok, err := matchCriterion(value, found, criterion)
		if err != nil {
			return false, fmt.Errorf("condition on %q: %w", field, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// lookupField resolves a condition field name. Variables shadow input
// fields; dot paths only apply to input traversal.
func lookupField(field string, input, variables map[string]any) (any, bool) {
	if variables != nil {
		if v, ok := variables[field]; ok {
			return v, true
		}
	}
	return lookupPath(input, field)
}

// lookupPath traverses a dot-path through nested maps. It reports
// whether the full path was present, distinguishing an explicit null
// from an absent field.
func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}

	parts := strings.Split(path, ".")
	var current any = m
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func matchCriterion(value any, found bool, criterion any) (bool, error) {
	ops, isOps := operatorObject(criterion)
	if !isOps {
		// Literal criterion: exact equality. An explicit null literal
		// matches an absent or null value.
		if criterion == nil {
			return !found || value == nil, nil
		}
		if !found || value == nil {
			return false, nil
		}
		return equalValues(value, criterion), nil
	}

	for op, expected := range ops {
		// Explicit null test is the one check absence can satisfy.
		if op == "eq" && expected == nil {
			if found && value != nil {
				return false, nil
			}
			continue
		}

		if !found || value == nil {
			return false, nil
		}

		ok, err := applyOperator(op, value, expected)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// operatorObject reports whether a criterion is an operator object,
// i.e. a map whose keys are all recognized operators. A map with other
// keys is treated as a literal for deep-equality matching.
func operatorObject(criterion any) (map[string]any, bool) {
	m, ok := criterion.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !conditionOperators[k] {
			return nil, false
		}
	}
	return m, true
}

func applyOperator(op string, value, expected any) (bool, error) {
	switch op {
	case "eq":
		return equalValues(value, expected), nil

	case "lt", "lte", "gt", "gte":
		actual, ok := toFloat64(value)
		if !ok {
			return false, fmt.Errorf("operator %q requires a numeric value, got %T", op, value)
		}
		bound, ok := toFloat64(expected)
		if !ok {
			return false, fmt.Errorf("operator %q requires a numeric bound, got %T", op, expected)
		}
		switch op {
		case "lt":
			return actual < bound, nil
		case "lte":
			return actual <= bound, nil
		case "gt":
			return actual > bound, nil
		default:
			return actual >= bound, nil
		}

	case "between":
		bounds, ok := expected.([]any)
		if !ok || len(bounds) != 2 {
			return false, fmt.Errorf("operator between requires a [lo, hi] pair")
		}
		actual, ok := toFloat64(value)
		if !ok {
			return false, fmt.Errorf("operator between requires a numeric value, got %T", value)
		}
		lo, okLo := toFloat64(bounds[0])
		hi, okHi := toFloat64(bounds[1])
		if !okLo || !okHi {
			return false, fmt.Errorf("operator between requires numeric bounds")
		}
		// Half-open interval [lo, hi).
		return actual >= lo && actual < hi, nil

	case "in":
		options, ok := toSlice(expected)
		if !ok {
			return false, fmt.Errorf("operator in requires an array")
		}
		for _, opt := range options {
			if equalValues(value, opt) {
				return true, nil
			}
		}
		return false, nil

	case "contains":
		haystack, ok := value.(string)
		if !ok {
			return false, fmt.Errorf("operator contains requires a string value, got %T", value)
		}
		needle, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("operator contains requires a string argument, got %T", expected)
		}
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle)), nil

	case "matches_any":
		haystack, ok := value.(string)
		if !ok {
			return false, fmt.Errorf("operator matches_any requires a string value, got %T", value)
		}
		patterns, ok := toSlice(expected)
		if !ok {
			return false, fmt.Errorf("operator matches_any requires an array of substrings")
		}
		lower := strings.ToLower(haystack)
		for _, p := range patterns {
			s, ok := p.(string)
			if !ok {
				return false, fmt.Errorf("operator matches_any requires string patterns, got %T", p)
			}
			if strings.Contains(lower, strings.ToLower(s)) {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// equalValues compares with numeric awareness first (int vs float64
// from JSON/YAML decoding), falling back to deep equality.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aok := toFloat64(a)
	bn, bok := toFloat64(b)
	if aok && bok {
		return an == bn
	}
	if aok != bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// toFloat64 coerces the numeric types JSON and YAML decoding produce.
// Strings are deliberately not parsed: a string where a number is
// expected is a type mismatch, not a value.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
