package engine

import (
	"fmt"
	"math"
)

// FactorReason is one entry of an additive-scoring explanation.
type FactorReason struct {
	Factor      string  `json:"factor"`
	Points      float64 `json:"points"`
	Explanation string  `json:"explanation,omitempty"`
}

// ScoringResult is the typed result of an additive_scoring execution.
type ScoringResult struct {
	Score            float64        `json:"score"`
	Reasoning        []FactorReason `json:"reasoning"`
	Confidence       float64        `json:"confidence"`
	KeyFactors       []string       `json:"key_factors"`
	EdgeCasesApplied []string       `json:"edge_cases_applied"`
	ReasoningText    string         `json:"reasoning_text,omitempty"`
}

// executeAdditiveScoring runs the fixed scoring phases. The phase
// order is a numeric contract: additive factors are summed first, and
// edge-case multipliers then scale the whole accumulated sum exactly
// once — never an individual factor in isolation. Later phases read
// the variables and score the earlier phases produced.
func (e *Engine) executeAdditiveScoring(spec *RuleSpec, input map[string]any, rec *Recorder) (*ScoringResult, map[string]any, error) {
	score := spec.BaseScore
	confidence := 1.0
	if spec.BaseConfidence != nil {
		confidence = *spec.BaseConfidence
	}
	reasoning := []FactorReason{}
	keyFactors := []string{}
	edgeCasesApplied := []string{}

	resolved, err := resolveVariables(spec.ComputedVariables, input, e.evaluator, rec)
	if err != nil {
		return nil, nil, err
	}

	for _, factor := range spec.ScoringFactors {
		applicable := true
		if len(factor.Condition) > 0 {
			applicable, err = Matches(factor.Condition, input, resolved)
			if err != nil {
				return nil, nil, err
			}
		}
		if !applicable {
			continue
		}

		points, err := e.factorPoints(factor, input, resolved)
		if err != nil {
			return nil, nil, fmt.Errorf("factor %q: %w", factor.Factor, err)
		}

		score += points
		confidence += factor.ConfidenceAdjustment

		explanation := RenderTemplate(factor.Explanation, resolved, input)
		reasoning = append(reasoning, FactorReason{Factor: factor.Factor, Points: points, Explanation: explanation})
		rec.Record(factor.Factor, points, explanation)

		if factor.KeyFactor {
			keyFactors = append(keyFactors, factor.Factor)
		}
	}

	// Matching multipliers accumulate and apply once to the whole
	// score. The per-adjustment point delta recorded here is the
	// implied contribution at the score as of this phase, for
	// explanation readability only.
	adjustmentFactor := 1.0
	for _, ec := range spec.EdgeCaseAdjustments {
		ok, err := Matches(ec.Condition, input, resolved)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}

		adjustmentFactor *= ec.Multiplier
		if ec.ConfidenceOverride != nil {
			confidence = *ec.ConfidenceOverride
		}

		delta := math.Round(score * (ec.Multiplier - 1))
		reasoning = append(reasoning, FactorReason{Factor: ec.Name, Points: delta, Explanation: ec.Reason})
		edgeCasesApplied = append(edgeCasesApplied, ec.Name)
		rec.Record(ec.Name, ec.Multiplier, ec.Reason)
	}

	score = math.Round(score * adjustmentFactor)
	score = clampRange(score, spec.OutputRange)

	for _, ca := range spec.ConfidenceAdjustments {
		ok, err := Matches(ca.Condition, input, resolved)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			confidence += ca.Value
			rec.Record("confidence_adjustment", ca.Value, ca.Reason)
		}
	}
	confidence = clamp01(confidence)

	result := &ScoringResult{
		Score:            score,
		Reasoning:        reasoning,
		Confidence:       confidence,
		KeyFactors:       keyFactors,
		EdgeCasesApplied: edgeCasesApplied,
		ReasoningText:    RenderTemplate(spec.ReasoningTemplate, resolved, input),
	}
	rec.Record("score", score, fmt.Sprintf("base %s plus factors, adjusted by %s", formatValue(spec.BaseScore), formatValue(adjustmentFactor)))
	return result, resolved, nil
}

// factorPoints evaluates a factor's points: a literal number, or a
// formula string evaluated against the merged variable/input scope
// (input fields shadow variables of the same name).
func (e *Engine) factorPoints(factor ScoringFactor, input, resolved map[string]any) (float64, error) {
	if points, ok := toFloat64(factor.Points); ok {
		return points, nil
	}
	expr, ok := factor.Points.(string)
	if !ok {
		return 0, fmt.Errorf("points must be a number or formula string, got %T", factor.Points)
	}

	scope := make(map[string]any, len(resolved)+len(input))
	for k, v := range resolved {
		scope[k] = v
	}
	for k, v := range input {
		scope[k] = v
	}
	return e.evaluator.Evaluate(expr, scope)
}
