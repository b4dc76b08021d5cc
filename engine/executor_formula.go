package engine

import "fmt"

// executeFormula runs a formula rule: resolve variables in declaration
// order, accumulate edge-case multipliers, evaluate the expression
// against the resolved variables, apply the multiplier once, clamp and
// round. Edge-case multipliers are commutative as a set; the trace
// records them in declaration order for readability only.
func (e *Engine) executeFormula(spec *RuleSpec, input map[string]any, rec *Recorder) (float64, map[string]any, error) {
	resolved, err := resolveVariables(spec.Variables, input, e.evaluator, rec)
	if err != nil {
		return 0, nil, err
	}

	multiplier := 1.0
	for _, ec := range spec.EdgeCases {
		ok, err := Matches(ec.Condition, input, resolved)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			multiplier *= ec.Action.Multiply
			rec.Record("edge_case", ec.Action.Multiply, ec.Reason)
		}
	}

	value, err := e.evaluator.Evaluate(spec.Formula, resolved)
	if err != nil {
		return 0, nil, err
	}

	value *= multiplier
	value = round2(clampRange(value, spec.OutputRange))

	rec.Record("result", value, fmt.Sprintf("formula %s with multiplier %s", spec.Formula, formatValue(multiplier)))
	return value, resolved, nil
}
