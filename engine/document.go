package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleType identifies one of the four execution semantics a rule can
// declare. The type is immutable and determines which fields of the
// RuleSpec are required.
type RuleType string

const (
	RuleTypeFormula         RuleType = "formula"
	RuleTypeDecisionTree    RuleType = "decision_tree"
	RuleTypeRuleList        RuleType = "rule_list"
	RuleTypeAdditiveScoring RuleType = "additive_scoring"
)

// Condition is a declarative predicate: a map from dot-path field name
// to either a literal (exact match) or an operator object such as
// {"gte": 10} or {"between": [0, 100)}. All entries are implicitly
// ANDed; OR is expressed structurally (multiple branches, multiple
// rule-list entries, or a multi_condition variable).
type Condition map[string]any

// LookupRange is one half-open numeric range [Min, Max) in a
// lookup_table variable. A nil bound is unbounded on that side.
// Declaration order is load-bearing: overlapping ranges resolve by
// first-in-array-wins and the loader never sorts them.
type LookupRange struct {
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Value any      `json:"value" yaml:"value"`
}

// ConditionalBranch is one if/elif/else arm of a conditional variable.
// A branch with a nil If always matches (the else arm).
type ConditionalBranch struct {
	If    Condition `json:"if,omitempty" yaml:"if,omitempty"`
	Value any       `json:"value" yaml:"value"`
}

// BoolValues carries the two outcomes of an AND/OR multi_condition.
type BoolValues struct {
	True  any `json:"true" yaml:"true"`
	False any `json:"false" yaml:"false"`
}

// CountThreshold maps a matched-condition count to a value. The
// resolver picks the entry with the highest Count that is <= the tally.
type CountThreshold struct {
	Count int `json:"count" yaml:"count"`
	Value any `json:"value" yaml:"value"`
}

// VariableSpec is the tagged union of the six declarative variable
// kinds. Exactly one kind's fields are populated, selected by Type.
type VariableSpec struct {
	Type string `json:"type" yaml:"type"`

	// mapping, lookup_table
	Input string            `json:"input,omitempty" yaml:"input,omitempty"`
	Map   map[string]any    `json:"map,omitempty" yaml:"map,omitempty"`
	Table []LookupRange     `json:"table,omitempty" yaml:"table,omitempty"`

	// constant
	Value any `json:"value,omitempty" yaml:"value,omitempty"`

	// formula
	Formula string `json:"formula,omitempty" yaml:"formula,omitempty"`

	// conditional
	Branches []ConditionalBranch `json:"branches,omitempty" yaml:"branches,omitempty"`

	// multi_condition
	Operator   string           `json:"operator,omitempty" yaml:"operator,omitempty"`
	Conditions []Condition      `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Values     *BoolValues      `json:"values,omitempty" yaml:"values,omitempty"`
	Thresholds []CountThreshold `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Default any `json:"default,omitempty" yaml:"default,omitempty"`
}

// NamedVariable pairs a variable name with its spec.
type NamedVariable struct {
	Name string
	Spec *VariableSpec
}

// Variables is an ordered set of variable declarations. Rule files
// write variables as an object, but declaration order is the
// evaluation order (later variables may reference earlier ones by
// name), so decoding must preserve key order instead of going through
// a Go map.
type Variables []NamedVariable

func (v *Variables) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("variables must be an object, got %v", tok)
	}

	var out Variables
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected variable key %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		spec := &VariableSpec{}
		if err := json.Unmarshal(raw, spec); err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		out = append(out, NamedVariable{Name: name, Spec: spec})
	}

	// consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}

	*v = out
	return nil
}

func (v Variables) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, nv := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(nv.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(nv.Spec)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func (v *Variables) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("variables must be a mapping")
	}

	var out Variables
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		spec := &VariableSpec{}
		if err := valNode.Decode(spec); err != nil {
			return fmt.Errorf("variable %q: %w", keyNode.Value, err)
		}
		out = append(out, NamedVariable{Name: keyNode.Value, Spec: spec})
	}

	*v = out
	return nil
}

// OutputRange is a [lo, hi] clamp applied to a numeric result.
type OutputRange [2]float64

// EdgeCase is a multiplicative adjustment on a formula rule.
type EdgeCase struct {
	Condition Condition      `json:"condition" yaml:"condition"`
	Action    EdgeCaseAction `json:"action" yaml:"action"`
	Reason    string         `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// EdgeCaseAction holds the multiplier an edge case applies.
type EdgeCaseAction struct {
	Multiply float64 `json:"multiply" yaml:"multiply"`
}

// TreeBranch is one ordered arm of a decision_tree rule. Branch order
// is semantically significant: the first matching branch wins.
type TreeBranch struct {
	Condition Condition `json:"condition" yaml:"condition"`
	Output    any       `json:"output" yaml:"output"`
	Reasoning string    `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
}

// ListRule is one independently evaluated entry of a rule_list rule.
type ListRule struct {
	Name       string    `json:"name" yaml:"name"`
	Condition  Condition `json:"condition" yaml:"condition"`
	Adjustment float64   `json:"adjustment,omitempty" yaml:"adjustment,omitempty"`
	Severity   string    `json:"severity,omitempty" yaml:"severity,omitempty"`
	Reason     string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ScoringFactor is one additive contribution to an additive_scoring
// rule. Points is either a number or a formula string evaluated
// against the merged variable/input scope.
type ScoringFactor struct {
	Factor               string    `json:"factor" yaml:"factor"`
	Condition            Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Points               any       `json:"points" yaml:"points"`
	ConfidenceAdjustment float64   `json:"confidence_adjustment,omitempty" yaml:"confidence_adjustment,omitempty"`
	Explanation          string    `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	KeyFactor            bool      `json:"key_factor,omitempty" yaml:"key_factor,omitempty"`
}

// EdgeCaseAdjustment is a multiplicative adjustment on an
// additive_scoring rule. Multipliers are accumulated across all
// matching adjustments and applied once to the whole accumulated score.
type EdgeCaseAdjustment struct {
	Name               string    `json:"name" yaml:"name"`
	Condition          Condition `json:"condition" yaml:"condition"`
	Multiplier         float64   `json:"multiplier" yaml:"multiplier"`
	ConfidenceOverride *float64  `json:"confidence_override,omitempty" yaml:"confidence_override,omitempty"`
	Reason             string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ConfidenceAdjustment adds a (possibly negative) delta to confidence
// when its condition matches.
type ConfidenceAdjustment struct {
	Condition Condition `json:"condition" yaml:"condition"`
	Value     float64   `json:"value" yaml:"value"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// RuleSpec is the tagged union over the four rule kinds. Type selects
// which field groups are meaningful; ValidateSpec enforces the
// per-type required fields at load time.
type RuleSpec struct {
	Type        RuleType `json:"type" yaml:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`

	// formula
	Formula   string       `json:"formula,omitempty" yaml:"formula,omitempty"`
	Variables Variables    `json:"variables,omitempty" yaml:"variables,omitempty"`
	EdgeCases []EdgeCase   `json:"edge_cases,omitempty" yaml:"edge_cases,omitempty"`

	// decision_tree
	Branches []TreeBranch `json:"branches,omitempty" yaml:"branches,omitempty"`
	Fallback any          `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// rule_list
	Rules []ListRule `json:"rules,omitempty" yaml:"rules,omitempty"`

	// additive_scoring
	BaseScore             float64                `json:"base_score,omitempty" yaml:"base_score,omitempty"`
	BaseConfidence        *float64               `json:"base_confidence,omitempty" yaml:"base_confidence,omitempty"`
	ComputedVariables     Variables              `json:"computed_variables,omitempty" yaml:"computed_variables,omitempty"`
	ScoringFactors        []ScoringFactor        `json:"scoring_factors,omitempty" yaml:"scoring_factors,omitempty"`
	EdgeCaseAdjustments   []EdgeCaseAdjustment   `json:"edge_case_adjustments,omitempty" yaml:"edge_case_adjustments,omitempty"`
	ConfidenceAdjustments []ConfidenceAdjustment `json:"confidence_adjustments,omitempty" yaml:"confidence_adjustments,omitempty"`
	ReasoningTemplate     string                 `json:"reasoning_template,omitempty" yaml:"reasoning_template,omitempty"`

	OutputRange *OutputRange `json:"output_range,omitempty" yaml:"output_range,omitempty"`
}

// RuleDocument is the versioned, immutable set of named rule specs the
// engine executes against. A new version is a new RuleDocument; old
// and new instances may coexist for staged rollout. Documents are
// read-only for their entire life and replaced, never mutated, on
// reload.
type RuleDocument struct {
	Version   string               `json:"version" yaml:"version"`
	Rules     map[string]*RuleSpec `json:"rules" yaml:"rules"`
	CreatedAt string               `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// ParseDocumentJSON decodes and validates a rule document from JSON.
func ParseDocumentJSON(data []byte) (*RuleDocument, error) {
	doc := &RuleDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, &ConfigurationError{Msg: err.Error()}
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseDocumentYAML decodes and validates a rule document from YAML.
func ParseDocumentYAML(data []byte) (*RuleDocument, error) {
	doc := &RuleDocument{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, &ConfigurationError{Msg: err.Error()}
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadDocumentFile reads a rule document from a .json, .yaml or .yml
// file.
func LoadDocumentFile(path string) (*RuleDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule document: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseDocumentYAML(data)
	case ".json":
		return ParseDocumentJSON(data)
	default:
		return nil, fmt.Errorf("unsupported rule document extension %q", filepath.Ext(path))
	}
}

// ValidateDocument checks document-level structure plus the per-type
// required fields of every rule. Construction-time failures are fatal
// and immediate, before any Execute can run.
func ValidateDocument(doc *RuleDocument) error {
	if doc.Version == "" {
		return &ConfigurationError{Msg: "version is required"}
	}
	if len(doc.Rules) == 0 {
		return &ConfigurationError{Msg: "document contains no rules"}
	}

	for name, spec := range doc.Rules {
		if spec == nil {
			return &ConfigurationError{Rule: name, Msg: "rule spec is empty"}
		}
		if err := ValidateSpec(name, spec); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSpec checks the fields required by a rule's declared type.
func ValidateSpec(name string, spec *RuleSpec) error {
	switch spec.Type {
	case RuleTypeFormula:
		if spec.Formula == "" {
			return &ConfigurationError{Rule: name, Field: "formula", Msg: "formula rules require a formula expression"}
		}
	case RuleTypeDecisionTree:
		if len(spec.Branches) == 0 {
			return &ConfigurationError{Rule: name, Field: "branches", Msg: "decision_tree rules require at least one branch"}
		}
		if spec.Fallback == nil {
			return &ConfigurationError{Rule: name, Field: "fallback", Msg: "decision_tree rules require a fallback output"}
		}
		for i, b := range spec.Branches {
			if len(b.Condition) == 0 {
				return &ConfigurationError{Rule: name, Field: fmt.Sprintf("branches[%d].condition", i), Msg: "branch condition is required"}
			}
		}
	case RuleTypeRuleList:
		if len(spec.Rules) == 0 {
			return &ConfigurationError{Rule: name, Field: "rules", Msg: "rule_list rules require at least one entry"}
		}
		for i, r := range spec.Rules {
			if r.Name == "" {
				return &ConfigurationError{Rule: name, Field: fmt.Sprintf("rules[%d].name", i), Msg: "entry name is required"}
			}
			if len(r.Condition) == 0 {
				return &ConfigurationError{Rule: name, Field: fmt.Sprintf("rules[%d].condition", i), Msg: "entry condition is required"}
			}
		}
	case RuleTypeAdditiveScoring:
		if len(spec.ScoringFactors) == 0 {
			return &ConfigurationError{Rule: name, Field: "scoring_factors", Msg: "additive_scoring rules require at least one scoring factor"}
		}
		for i, f := range spec.ScoringFactors {
			if f.Factor == "" {
				return &ConfigurationError{Rule: name, Field: fmt.Sprintf("scoring_factors[%d].factor", i), Msg: "factor name is required"}
			}
			if f.Points == nil {
				return &ConfigurationError{Rule: name, Field: fmt.Sprintf("scoring_factors[%d].points", i), Msg: "points is required"}
			}
		}
		for i, ec := range spec.EdgeCaseAdjustments {
			if ec.Multiplier == 0 {
				return &ConfigurationError{Rule: name, Field: fmt.Sprintf("edge_case_adjustments[%d].multiplier", i), Msg: "multiplier is required and cannot be zero"}
			}
			if len(ec.Condition) == 0 {
				return &ConfigurationError{Rule: name, Field: fmt.Sprintf("edge_case_adjustments[%d].condition", i), Msg: "condition is required"}
			}
		}
	case "":
		return &ConfigurationError{Rule: name, Field: "type", Msg: "rule type is required"}
	default:
		return &ConfigurationError{Rule: name, Field: "type", Msg: fmt.Sprintf("unknown rule type %q", spec.Type)}
	}

	for _, nv := range append(append(Variables{}, spec.Variables...), spec.ComputedVariables...) {
		if err := validateVariable(name, nv); err != nil {
			return err
		}
	}

	if spec.OutputRange != nil && spec.OutputRange[0] > spec.OutputRange[1] {
		return &ConfigurationError{Rule: name, Field: "output_range", Msg: "range lower bound exceeds upper bound"}
	}

	return nil
}

func validateVariable(rule string, nv NamedVariable) error {
	field := fmt.Sprintf("variables.%s", nv.Name)
	spec := nv.Spec
	if spec == nil {
		return &ConfigurationError{Rule: rule, Field: field, Msg: "variable spec is empty"}
	}

	switch spec.Type {
	case "mapping":
		if spec.Input == "" {
			return &ConfigurationError{Rule: rule, Field: field, Msg: "mapping variables require an input field"}
		}
		if len(spec.Map) == 0 {
			return &ConfigurationError{Rule: rule, Field: field, Msg: "mapping variables require a map"}
		}
	case "lookup_table":
		if spec.Input == "" {
			return &ConfigurationError{Rule: rule, Field: field, Msg: "lookup_table variables require an input field"}
		}
		if len(spec.Table) == 0 {
			return &ConfigurationError{Rule: rule, Field: field, Msg: "lookup_table variables require a table"}
		}
	case "constant":
		if spec.Value == nil {
			return &ConfigurationError{Rule: rule, Field: field, Msg: "constant variables require a value"}
		}
	case "formula":
		if spec.Formula == "" {
			return &ConfigurationError{Rule: rule, Field: field, Msg: "formula variables require an expression"}
		}
	case "conditional":
		if len(spec.Branches) == 0 {
			return &ConfigurationError{Rule: rule, Field: field, Msg: "conditional variables require branches"}
		}
	case "multi_condition":
		if len(spec.Conditions) == 0 {
			return &ConfigurationError{Rule: rule, Field: field, Msg: "multi_condition variables require conditions"}
		}
		switch spec.Operator {
		case "AND", "OR":
			if spec.Values == nil {
				return &ConfigurationError{Rule: rule, Field: field, Msg: "AND/OR variables require true/false values"}
			}
		case "COUNT":
			if len(spec.Thresholds) == 0 {
				return &ConfigurationError{Rule: rule, Field: field, Msg: "COUNT variables require thresholds"}
			}
		default:
			return &ConfigurationError{Rule: rule, Field: field, Msg: fmt.Sprintf("unknown multi_condition operator %q", spec.Operator)}
		}
	case "":
		return &ConfigurationError{Rule: rule, Field: field, Msg: "variable type is required"}
	default:
		return &ConfigurationError{Rule: rule, Field: field, Msg: fmt.Sprintf("unknown variable type %q", spec.Type)}
	}

	return nil
}
