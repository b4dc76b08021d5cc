package rollout

import (
	"fmt"
	"regexp"

	"github.com/prospectiq/cortex/engine"
)

const (
	maxRulesPerDocument = 500
	maxRuleNameLength   = 100
)

var validRuleName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateDocument is the swap gate: structural limits a document must
// pass before it is allowed to become a serving engine, on top of the
// per-rule field validation the engine performs at construction.
func ValidateDocument(doc *engine.RuleDocument) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	if doc.Version == "" {
		return fmt.Errorf("document version is required")
	}
	if len(doc.Rules) == 0 {
		return fmt.Errorf("document must contain at least one rule")
	}
	if len(doc.Rules) > maxRulesPerDocument {
		return fmt.Errorf("document contains %d rules, maximum allowed is %d", len(doc.Rules), maxRulesPerDocument)
	}

	for name := range doc.Rules {
		if err := validateRuleName(name); err != nil {
			return fmt.Errorf("invalid rule name %q: %w", name, err)
		}
	}
	return nil
}

func validateRuleName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("rule name cannot be empty")
	}
	if len(name) > maxRuleNameLength {
		return fmt.Errorf("rule name length %d exceeds maximum of %d characters", len(name), maxRuleNameLength)
	}
	if !validRuleName.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}
	return nil
}
