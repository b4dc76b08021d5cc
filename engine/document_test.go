package engine

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestLoadDocumentJSON(t *testing.T) {
	doc, err := LoadDocumentFile(filepath.Join("testdata", "lead_rules.json"))
	if err != nil {
		t.Fatalf("LoadDocumentFile() failed: %v", err)
	}

	if doc.Version != "2024.3.1" {
		t.Errorf("version = %q, want 2024.3.1", doc.Version)
	}
	if len(doc.Rules) != 4 {
		t.Errorf("expected 4 rules, got %d", len(doc.Rules))
	}

	for name, want := range map[string]RuleType{
		"lead_quality":      RuleTypeAdditiveScoring,
		"contact_tier":      RuleTypeDecisionTree,
		"timing_multiplier": RuleTypeFormula,
		"compliance_flags":  RuleTypeRuleList,
	} {
		spec, ok := doc.Rules[name]
		if !ok {
			t.Fatalf("rule %q missing", name)
		}
		if spec.Type != want {
			t.Errorf("rule %q type = %q, want %q", name, spec.Type, want)
		}
	}
}

func TestLoadDocumentYAML(t *testing.T) {
	doc, err := LoadDocumentFile(filepath.Join("testdata", "lead_rules.yaml"))
	if err != nil {
		t.Fatalf("LoadDocumentFile() failed: %v", err)
	}

	if doc.Version != "2024.3.2" {
		t.Errorf("version = %q, want 2024.3.2", doc.Version)
	}
	if _, ok := doc.Rules["product_fit"]; !ok {
		t.Error("rule product_fit missing")
	}
	if _, ok := doc.Rules["pursue_decision"]; !ok {
		t.Error("rule pursue_decision missing")
	}
}

func TestLoadDocumentUnknownExtension(t *testing.T) {
	if _, err := LoadDocumentFile("rules.toml"); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestVariablesPreserveDeclarationOrderJSON(t *testing.T) {
	data := []byte(`{
		"zeta":  {"type": "constant", "value": 1},
		"alpha": {"type": "constant", "value": 2},
		"mid":   {"type": "constant", "value": 3}
	}`)

	var vars Variables
	if err := vars.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON() failed: %v", err)
	}

	want := []string{"zeta", "alpha", "mid"}
	if len(vars) != len(want) {
		t.Fatalf("expected %d variables, got %d", len(want), len(vars))
	}
	for i, name := range want {
		if vars[i].Name != name {
			t.Errorf("vars[%d] = %q, want %q (file order, not sorted)", i, vars[i].Name, name)
		}
	}
}

func TestVariablesPreserveDeclarationOrderYAML(t *testing.T) {
	data := []byte(`
rules:
  r:
    type: formula
    formula: "z + a"
    variables:
      z: {type: constant, value: 1}
      a: {type: constant, value: 2}
version: "1"
`)

	doc, err := ParseDocumentYAML(data)
	if err != nil {
		t.Fatalf("ParseDocumentYAML() failed: %v", err)
	}
	vars := doc.Rules["r"].Variables
	if len(vars) != 2 || vars[0].Name != "z" || vars[1].Name != "a" {
		t.Errorf("variables out of declaration order: %+v", vars)
	}
}

func TestVariablesMarshalRoundTrip(t *testing.T) {
	vars := Variables{
		{Name: "b", Spec: &VariableSpec{Type: "constant", Value: 1.0}},
		{Name: "a", Spec: &VariableSpec{Type: "constant", Value: 2.0}},
	}

	data, err := vars.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() failed: %v", err)
	}

	var back Variables
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON() failed: %v", err)
	}
	if len(back) != 2 || back[0].Name != "b" || back[1].Name != "a" {
		t.Errorf("round trip lost declaration order: %+v", back)
	}
}

func TestValidateDocument(t *testing.T) {
	valid := func() *RuleDocument {
		return &RuleDocument{
			Version: "1",
			Rules: map[string]*RuleSpec{
				"score": {Type: RuleTypeFormula, Formula: "x * 2"},
			},
		}
	}

	if err := ValidateDocument(valid()); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*RuleDocument)
	}{
		{"missing version", func(d *RuleDocument) { d.Version = "" }},
		{"no rules", func(d *RuleDocument) { d.Rules = nil }},
		{"nil spec", func(d *RuleDocument) { d.Rules["score"] = nil }},
		{"missing type", func(d *RuleDocument) { d.Rules["score"].Type = "" }},
		{"unknown type", func(d *RuleDocument) { d.Rules["score"].Type = "bayesian" }},
		{"formula without expression", func(d *RuleDocument) { d.Rules["score"].Formula = "" }},
		{"inverted output range", func(d *RuleDocument) {
			d.Rules["score"].OutputRange = &OutputRange{10, 0}
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			doc := valid()
			tc.mutate(doc)
			err := ValidateDocument(doc)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected *ConfigurationError, got %T", err)
			}
		})
	}
}

func TestValidateSpecPerType(t *testing.T) {
	testCases := []struct {
		name string
		spec *RuleSpec
		ok   bool
	}{
		{
			"tree without fallback",
			&RuleSpec{Type: RuleTypeDecisionTree, Branches: []TreeBranch{
				{Condition: Condition{"x": 1}, Output: "a"},
			}},
			false,
		},
		{
			"tree without branches",
			&RuleSpec{Type: RuleTypeDecisionTree, Fallback: "a"},
			false,
		},
		{
			"tree with empty branch condition",
			&RuleSpec{Type: RuleTypeDecisionTree, Fallback: "a", Branches: []TreeBranch{
				{Output: "b"},
			}},
			false,
		},
		{
			"list entry without name",
			&RuleSpec{Type: RuleTypeRuleList, Rules: []ListRule{
				{Condition: Condition{"x": 1}},
			}},
			false,
		},
		{
			"scoring without factors",
			&RuleSpec{Type: RuleTypeAdditiveScoring},
			false,
		},
		{
			"scoring factor without points",
			&RuleSpec{Type: RuleTypeAdditiveScoring, ScoringFactors: []ScoringFactor{
				{Factor: "f"},
			}},
			false,
		},
		{
			"scoring edge case with zero multiplier",
			&RuleSpec{Type: RuleTypeAdditiveScoring,
				ScoringFactors:      []ScoringFactor{{Factor: "f", Points: 1.0}},
				EdgeCaseAdjustments: []EdgeCaseAdjustment{{Name: "e", Condition: Condition{"x": 1}}},
			},
			false,
		},
		{
			"valid scoring",
			&RuleSpec{Type: RuleTypeAdditiveScoring,
				ScoringFactors: []ScoringFactor{{Factor: "f", Points: 1.0}},
			},
			true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSpec("r", tc.spec)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateVariableSpecs(t *testing.T) {
	testCases := []struct {
		name string
		spec *VariableSpec
		ok   bool
	}{
		{"mapping without map", &VariableSpec{Type: "mapping", Input: "x"}, false},
		{"lookup without input", &VariableSpec{Type: "lookup_table", Table: []LookupRange{{Value: 1}}}, false},
		{"constant without value", &VariableSpec{Type: "constant"}, false},
		{"formula without expression", &VariableSpec{Type: "formula"}, false},
		{"conditional without branches", &VariableSpec{Type: "conditional"}, false},
		{"AND without values", &VariableSpec{Type: "multi_condition", Operator: "AND",
			Conditions: []Condition{{"x": 1}}}, false},
		{"COUNT without thresholds", &VariableSpec{Type: "multi_condition", Operator: "COUNT",
			Conditions: []Condition{{"x": 1}}}, false},
		{"unknown operator", &VariableSpec{Type: "multi_condition", Operator: "XOR",
			Conditions: []Condition{{"x": 1}},
			Values:     &BoolValues{True: 1, False: 0}}, false},
		{"unknown variable type", &VariableSpec{Type: "regression"}, false},
		{"valid mapping", &VariableSpec{Type: "mapping", Input: "x",
			Map: map[string]any{"a": 1}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			spec := &RuleSpec{Type: RuleTypeFormula, Formula: "v",
				Variables: Variables{{Name: "v", Spec: tc.spec}}}
			err := ValidateSpec("r", spec)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
