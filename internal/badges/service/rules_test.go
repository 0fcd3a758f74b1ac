package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insignia/internal/badges/models"
	derrors "insignia/pkg/domain-errors"
	"insignia/pkg/keypath"
)

func rulePayload() keypath.Value {
	return keypath.FromAny(map[string]any{
		"status":     "passed",
		"is_passing": true,
		"attempts":   3,
		"nested":     map[string]any{"deep": map[string]any{"flag": false}},
	})
}

func TestApplyRule(t *testing.T) {
	tests := []struct {
		name string
		rule models.DataRule
		want bool
	}{
		{"eq match", models.DataRule{Path: "status", Operator: models.OperatorEq, Value: "passed"}, true},
		{"eq mismatch", models.DataRule{Path: "status", Operator: models.OperatorEq, Value: "failed"}, false},
		{"ne mismatch matches", models.DataRule{Path: "status", Operator: models.OperatorNe, Value: "failed"}, true},
		{"ne match fails", models.DataRule{Path: "status", Operator: models.OperatorNe, Value: "passed"}, false},
		{"eq missing path fails", models.DataRule{Path: "status.absent", Operator: models.OperatorEq, Value: "passed"}, false},
		{"ne missing path succeeds", models.DataRule{Path: "no.such.path", Operator: models.OperatorNe, Value: "anything"}, true},
		{"bool true spelled True", models.DataRule{Path: "is_passing", Operator: models.OperatorEq, Value: "True"}, true},
		{"bool true spelled yes", models.DataRule{Path: "is_passing", Operator: models.OperatorEq, Value: "yes"}, true},
		{"bool true spelled plus", models.DataRule{Path: "is_passing", Operator: models.OperatorEq, Value: "+"}, true},
		{"bool false spelled no", models.DataRule{Path: "nested.deep.flag", Operator: models.OperatorEq, Value: "no"}, true},
		{"bool false spelled minus", models.DataRule{Path: "nested.deep.flag", Operator: models.OperatorEq, Value: "-"}, true},
		{"int rendered base ten", models.DataRule{Path: "attempts", Operator: models.OperatorEq, Value: "3"}, true},
		{"deep traversal", models.DataRule{Path: "nested.deep.flag", Operator: models.OperatorNe, Value: "True"}, true},
		{"unsupported operator fails closed", models.DataRule{Path: "status", Operator: "gt", Value: "passed"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyRule(tt.rule, rulePayload())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyRuleMalformedPath(t *testing.T) {
	_, err := applyRule(models.DataRule{Path: "..bad", Operator: models.OperatorEq, Value: "x"}, rulePayload())
	require.Error(t, err)
	assert.True(t, derrors.HasCode(err, derrors.CodeRuleEvaluation))
}

func TestSatisfiedBy(t *testing.T) {
	t.Run("empty rule set fails closed", func(t *testing.T) {
		ok, err := satisfiedBy(nil, rulePayload())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("all rules must hold", func(t *testing.T) {
		rules := []models.DataRule{
			{Path: "status", Operator: models.OperatorEq, Value: "passed"},
			{Path: "is_passing", Operator: models.OperatorEq, Value: "True"},
		}
		ok, err := satisfiedBy(rules, rulePayload())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("one failing rule fails the set", func(t *testing.T) {
		rules := []models.DataRule{
			{Path: "status", Operator: models.OperatorEq, Value: "passed"},
			{Path: "attempts", Operator: models.OperatorEq, Value: "99"},
		}
		ok, err := satisfiedBy(rules, rulePayload())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestGroupStatusAndRatio(t *testing.T) {
	blendA1 := &models.BadgeRequirement{ID: 1, Blend: "pair"}
	blendA2 := &models.BadgeRequirement{ID: 2, Blend: "pair"}
	solo := &models.BadgeRequirement{ID: 3}

	t.Run("blended requirements share a group", func(t *testing.T) {
		groups := groupStatus([]*models.BadgeRequirement{blendA1, blendA2, solo}, map[int64]bool{2: true})
		assert.Len(t, groups, 2)
		assert.True(t, groups["pair"])
		assert.False(t, groups["req:3"])
	})

	t.Run("ratio rounds to two decimals", func(t *testing.T) {
		groups := map[string]bool{"a": true, "b": false, "c": false}
		assert.InDelta(t, 0.33, ratioOf(groups), 0.001)
	})

	t.Run("zero groups is zero ratio", func(t *testing.T) {
		assert.Zero(t, ratioOf(map[string]bool{}))
	})

	t.Run("all satisfied is exactly one", func(t *testing.T) {
		groups := map[string]bool{"a": true, "b": true}
		assert.InDelta(t, 1.00, ratioOf(groups), 0.0001)
	})
}
