package service

import (
	"insignia/internal/badges/models"
	derrors "insignia/pkg/domain-errors"
	"insignia/pkg/keypath"
)

// Boolean-literal spellings normalized before comparison so configured
// values like "yes" match payload booleans rendered as "True".
var boolLiterals = map[string]string{
	"True": "True", "true": "True", "Yes": "True", "yes": "True", "+": "True",
	"False": "False", "false": "False", "No": "False", "no": "False", "-": "False",
}

func normalizeExpected(value string) string {
	if normalized, ok := boolLiterals[value]; ok {
		return normalized
	}
	return value
}

// applyRule evaluates one comparison against the payload tree. Pure function,
// no side effects. Missing paths resolve to the Nothing sentinel, which never
// equals a configured value: eq fails, ne succeeds. Unsupported operators
// fail closed. A syntactically malformed path is a rule-evaluation error the
// caller isolates to the owning requirement or penalty.
func applyRule(rule models.DataRule, payload keypath.Value) (bool, error) {
	if !keypath.ValidPath(rule.Path) {
		return false, derrors.Newf(derrors.CodeRuleEvaluation, "malformed keypath %q", rule.Path)
	}

	resolved := keypath.Resolve(payload, rule.Path)
	expected := normalizeExpected(rule.Value)

	switch rule.Operator {
	case models.OperatorEq:
		return !resolved.IsNothing() && resolved.Text() == expected, nil
	case models.OperatorNe:
		return resolved.IsNothing() || resolved.Text() != expected, nil
	default:
		return false, nil
	}
}

// satisfiedBy AND-combines a rule set. An empty rule set never satisfies:
// an unconfigured requirement or penalty must not fire on arbitrary events.
func satisfiedBy(rules []models.DataRule, payload keypath.Value) (bool, error) {
	if len(rules) == 0 {
		return false, nil
	}
	for _, rule := range rules {
		ok, err := applyRule(rule, payload)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
