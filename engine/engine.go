package engine

import (
	"fmt"
	"time"
)

// ExecutionResult is the entire boundary surface of one execution.
// Exactly one of the success fields (Result, Variables, Breakdown,
// Confidence) or Error is populated; the identifying metadata is
// always present.
type ExecutionResult struct {
	Result     any            `json:"result,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
	Breakdown  []Step         `json:"breakdown,omitempty"`
	Confidence float64        `json:"confidence"`

	Error string         `json:"error,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	RuleName        string    `json:"ruleName"`
	RuleType        RuleType  `json:"ruleType,omitempty"`
	Version         string    `json:"version"`
	ExecutionTimeMs float64   `json:"executionTimeMs"`
	Timestamp       time.Time `json:"timestamp"`
}

// Failed reports whether the execution produced an error instead of a
// result.
func (r *ExecutionResult) Failed() bool {
	return r.Error != ""
}

// Engine executes the rules of one immutable RuleDocument. An engine
// holds no other state than the document and its compiled-formula
// cache, so concurrent Execute calls are safe without locking: each
// call allocates its own variable scope and trace. Hot-reload is
// construct-and-swap — build a new Engine over a new document and
// atomically replace the reference; in-flight executions keep their
// original instance.
type Engine struct {
	doc       *RuleDocument
	evaluator *Evaluator
}

// New validates the document and constructs an engine over it.
// Construction is the only point a malformed document can surface: a
// ConfigurationError here is fatal before any Execute can run.
func New(doc *RuleDocument) (*Engine, error) {
	if doc == nil {
		return nil, &ConfigurationError{Msg: "rule document is required"}
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	return &Engine{doc: doc, evaluator: NewEvaluator()}, nil
}

// Document returns the engine's rule document.
func (e *Engine) Document() *RuleDocument {
	return e.doc
}

// Version returns the document version this engine executes.
func (e *Engine) Version() string {
	return e.doc.Version
}

// RuleNames lists the rules the document declares.
func (e *Engine) RuleNames() []string {
	names := make([]string, 0, len(e.doc.Rules))
	for name := range e.doc.Rules {
		names = append(names, name)
	}
	return names
}

// Execute runs one named rule against an input attribute bag and
// returns a structured result with its full explanation trace.
//
// The error return is non-nil only for an unknown rule name — a caller
// bug, reported synchronously. Every data-driven failure (formula
// parse error, unresolvable variable, operator type mismatch) is
// captured into the result's Error field instead, so one bad
// (rule, input) pair cannot abort a batch of unrelated decisions.
func (e *Engine) Execute(ruleName string, input map[string]any) (result *ExecutionResult, err error) {
	start := time.Now()

	spec, ok := e.doc.Rules[ruleName]
	if !ok {
		return nil, &RuleNotFoundError{Rule: ruleName}
	}

	if input == nil {
		input = map[string]any{}
	}
	input = normalizeMap(input)

	// Nothing downstream is expected to panic, but the facade contract
	// is that data-driven failures never escape.
	defer func() {
		if rec := recover(); rec != nil {
			result = e.errorResult(ruleName, input, start, fmt.Errorf("panic: %v", rec))
			err = nil
		}
	}()

	rec := NewRecorder()

	var (
		value      any
		variables  map[string]any
		confidence = 1.0
		execErr    error
	)

	switch spec.Type {
	case RuleTypeFormula:
		value, variables, execErr = e.executeFormula(spec, input, rec)

	case RuleTypeDecisionTree:
		value, execErr = e.executeDecisionTree(spec, input, rec)

	case RuleTypeRuleList:
		value, execErr = e.executeRuleList(spec, input, rec)

	case RuleTypeAdditiveScoring:
		var scoring *ScoringResult
		scoring, variables, execErr = e.executeAdditiveScoring(spec, input, rec)
		if execErr == nil {
			value = scoring
			confidence = scoring.Confidence
		}

	default:
		// Unreachable for validated documents.
		execErr = fmt.Errorf("unknown rule type %q", spec.Type)
	}

	if execErr != nil {
		return e.errorResult(ruleName, input, start, execErr), nil
	}

	return &ExecutionResult{
		Result:          value,
		Variables:       variables,
		Breakdown:       rec.Steps(),
		Confidence:      confidence,
		RuleName:        ruleName,
		RuleType:        spec.Type,
		Version:         e.doc.Version,
		ExecutionTimeMs: durationMs(start),
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (e *Engine) errorResult(ruleName string, input map[string]any, start time.Time, execErr error) *ExecutionResult {
	wrapped := &EvaluationError{Rule: ruleName, Err: execErr}
	ruleType := RuleType("")
	if spec, ok := e.doc.Rules[ruleName]; ok {
		ruleType = spec.Type
	}
	return &ExecutionResult{
		Error:           wrapped.Error(),
		Input:           input,
		RuleName:        ruleName,
		RuleType:        ruleType,
		Version:         e.doc.Version,
		ExecutionTimeMs: durationMs(start),
		Timestamp:       time.Now().UTC(),
	}
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
