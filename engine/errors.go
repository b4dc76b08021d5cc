package engine

import "fmt"

// ConfigurationError reports a malformed rule definition. It is
// returned at document load time, before any execution can run.
type ConfigurationError struct {
	Rule  string
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("invalid rule document: %s", e.Msg)
	}
	if e.Field == "" {
		return fmt.Sprintf("invalid rule %q: %s", e.Rule, e.Msg)
	}
	return fmt.Sprintf("invalid rule %q: field %q: %s", e.Rule, e.Field, e.Msg)
}

// RuleNotFoundError reports an unknown rule name passed to Execute.
// Unlike evaluation failures it is returned as a Go error: an unknown
// rule name is a caller bug, not a data condition.
type RuleNotFoundError struct {
	Rule string
}

func (e *RuleNotFoundError) Error() string {
	return fmt.Sprintf("rule %q not found", e.Rule)
}

// EvaluationError reports a failure during one execution: a formula
// that does not parse, an unresolvable variable, or an operator applied
// to a value of the wrong type. It is captured into the execution
// result rather than propagated, so one bad (rule, input) pair cannot
// abort a batch of unrelated decisions.
type EvaluationError struct {
	Rule string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating rule %q: %v", e.Rule, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
