package engine

// RuleListMatch is one matched entry of a rule_list execution.
type RuleListMatch struct {
	Name       string  `json:"name"`
	Adjustment float64 `json:"adjustment"`
	Severity   string  `json:"severity,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// executeRuleList evaluates every entry against the same input. Unlike
// a decision tree, matches are independent and possibly co-occurring
// (several compliance warnings can hold at once), so every matching
// entry contributes to the result. An empty result is valid.
func (e *Engine) executeRuleList(spec *RuleSpec, input map[string]any, rec *Recorder) ([]RuleListMatch, error) {
	matches := make([]RuleListMatch, 0, len(spec.Rules))
	for _, entry := range spec.Rules {
		ok, err := Matches(entry.Condition, input, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		matches = append(matches, RuleListMatch{
			Name:       entry.Name,
			Adjustment: entry.Adjustment,
			Severity:   entry.Severity,
			Reason:     entry.Reason,
		})
		rec.Record(entry.Name, entry.Adjustment, entry.Reason)
	}
	return matches, nil
}
