package engine

import "fmt"

// executeDecisionTree walks the branches in declared order and returns
// the output of the first branch whose condition matches. Branch order
// is semantically significant: a later branch never fires once an
// earlier one has matched. When no branch matches, the declared
// fallback is returned.
func (e *Engine) executeDecisionTree(spec *RuleSpec, input map[string]any, rec *Recorder) (any, error) {
	for i, branch := range spec.Branches {
		ok, err := Matches(branch.Condition, input, nil)
		if err != nil {
			return nil, err
		}
		if ok {
			reason := branch.Reasoning
			if reason == "" {
				reason = fmt.Sprintf("branch %d matched", i+1)
			}
			rec.Record(fmt.Sprintf("branch_%d", i+1), branch.Output, reason)
			return normalizeValue(branch.Output), nil
		}
	}

	rec.Record("fallback", spec.Fallback, "no branch matched")
	return normalizeValue(spec.Fallback), nil
}
