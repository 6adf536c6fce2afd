package dunning

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

func testSequence(name string, triggerConfig []byte) *repository.SequenceDefinition {
	return &repository.SequenceDefinition{
		ID:            "seq-1",
		CompanyID:     "co-1",
		Name:          name,
		IsActive:      true,
		Steps:         []repository.SequenceStep{{Number: 1, Subject: "s", Body: "b"}},
		TriggerConfig: triggerConfig,
	}
}

func TestParseRulesFromConfig(t *testing.T) {
	cfg := []byte(`[
		{
			"type": "OVERDUE_DAYS",
			"conditions": [
				{"type": "DAYS_OVERDUE", "operator": "GREATER_THAN", "value": 14},
				{"type": "STATUS", "operator": "IN", "value": ["overdue", "partially_paid"]}
			],
			"cooldownHours": 48
		}
	]`)

	rules := ParseRules(testSequence("custom escalation", cfg), zerolog.Nop())
	require.Len(t, rules, 1)

	rule := rules[0]
	assert.Equal(t, repository.TriggerOverdueDays, rule.Type)
	assert.Equal(t, 48*time.Hour, rule.Cooldown)
	require.Len(t, rule.Conditions, 2)
	assert.Equal(t, float64(14), rule.Conditions[0].Number)
	assert.Equal(t, []string{"OVERDUE", "PARTIALLY_PAID"}, rule.Conditions[1].Set, "set members are uppercased")
}

func TestParseRulesNameHeuristics(t *testing.T) {
	rules := ParseRules(testSequence("Overdue reminder flow", nil), zerolog.Nop())
	require.Len(t, rules, 2)

	assert.Equal(t, repository.TriggerOverdueDays, rules[0].Type)
	assert.Equal(t, repository.TriggerDueDateApproaching, rules[1].Type)
	assert.Equal(t, reminderCooldown, rules[1].Cooldown)
}

func TestParseRulesConfigOverridesHeuristic(t *testing.T) {
	cfg := []byte(`[
		{
			"type": "OVERDUE_DAYS",
			"conditions": [{"type": "DAYS_OVERDUE", "operator": "GREATER_THAN", "value": 7}],
			"cooldownHours": 12
		}
	]`)

	rules := ParseRules(testSequence("overdue chase", cfg), zerolog.Nop())
	require.Len(t, rules, 1)
	assert.Equal(t, 12*time.Hour, rules[0].Cooldown, "configured rule replaces the name-derived one")
	assert.Equal(t, float64(7), rules[0].Conditions[0].Number)
}

func TestParseRulesUnparsableConfigFallsBack(t *testing.T) {
	rules := ParseRules(testSequence("payment chase", []byte(`{not json`)), zerolog.Nop())
	require.Len(t, rules, 1)
	assert.Equal(t, DefaultRule(), rules[0])
}

func TestParseRulesSkipsInvalidRules(t *testing.T) {
	cfg := []byte(`[
		{"type": "BOGUS_TYPE", "conditions": [{"type": "DAYS_OVERDUE", "operator": "GREATER_THAN", "value": 1}]},
		{"type": "OVERDUE_DAYS", "conditions": []},
		{"type": "OVERDUE_DAYS", "conditions": [{"type": "DAYS_OVERDUE", "operator": "BETWEEN", "value": 1}]},
		{"type": "OVERDUE_DAYS", "conditions": [{"type": "DAYS_OVERDUE", "operator": "GREATER_THAN", "value": 3}], "cooldownHours": 24}
	]`)

	rules := ParseRules(testSequence("payment chase", cfg), zerolog.Nop())
	require.Len(t, rules, 1, "only the valid rule survives")
	assert.Equal(t, float64(3), rules[0].Conditions[0].Number)
}

func TestDefaultRule(t *testing.T) {
	rule := DefaultRule()

	assert.Equal(t, repository.TriggerOverdueDays, rule.Type)
	assert.Equal(t, 24*time.Hour, rule.Cooldown)
	require.Len(t, rule.Conditions, 1)
	assert.Equal(t, repository.ConditionDaysOverdue, rule.Conditions[0].Type)
	assert.Equal(t, repository.OperatorGreaterThan, rule.Conditions[0].Operator)
}

func TestValidateSteps(t *testing.T) {
	valid := []repository.SequenceStep{
		{Number: 1, DelayDays: 0},
		{Number: 2, DelayDays: 7},
		{Number: 3, DelayDays: 14},
	}
	assert.True(t, ValidateSteps(valid))

	assert.False(t, ValidateSteps(nil))
	assert.False(t, ValidateSteps([]repository.SequenceStep{{Number: 2}}))
	assert.False(t, ValidateSteps([]repository.SequenceStep{{Number: 1}, {Number: 3}}))
	assert.False(t, ValidateSteps([]repository.SequenceStep{{Number: 1, DelayDays: -1}}))
}
