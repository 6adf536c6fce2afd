package dunning

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

// Default cooldowns for rules derived from the sequence name.
const (
	overdueCooldown  = 24 * time.Hour
	reminderCooldown = 72 * time.Hour

	// Lookahead used by the name-derived due-date-approaching rule.
	reminderLookaheadDays = 7
)

// rawRule is the trigger configuration wire format. Unknown fields are
// ignored by json.Unmarshal.
type rawRule struct {
	Type          string         `json:"type"`
	Conditions    []rawCondition `json:"conditions"`
	CooldownHours int            `json:"cooldownHours"`
}

type rawCondition struct {
	Type     string          `json:"type"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

// DefaultRule is the safe minimal rule used when a sequence's configuration
// cannot be parsed: trigger once the invoice is overdue, at most once a day.
func DefaultRule() repository.TriggerRule {
	return repository.TriggerRule{
		Type: repository.TriggerOverdueDays,
		Conditions: []repository.Condition{
			{Type: repository.ConditionDaysOverdue, Operator: repository.OperatorGreaterThan, Number: 0},
		},
		Cooldown: overdueCooldown,
	}
}

// ParseRules derives trigger rules for a sequence: heuristic rules from the
// sequence name first, then explicitly configured rules, which override a
// heuristic rule of the same type. A malformed configuration is never fatal;
// the result degrades to the single default overdue rule.
func ParseRules(seq *repository.SequenceDefinition, log zerolog.Logger) []repository.TriggerRule {
	byType := make(map[repository.TriggerType]repository.TriggerRule)
	var order []repository.TriggerType

	add := func(r repository.TriggerRule) {
		if _, seen := byType[r.Type]; !seen {
			order = append(order, r.Type)
		}
		byType[r.Type] = r
	}

	for _, r := range rulesFromName(seq.Name) {
		add(r)
	}

	for _, r := range rulesFromConfig(seq, log) {
		add(r)
	}

	if len(order) == 0 {
		log.Warn().
			Str("sequence_id", seq.ID).
			Str("sequence_name", seq.Name).
			Msg("No usable trigger rules; falling back to default overdue rule")
		return []repository.TriggerRule{DefaultRule()}
	}

	rules := make([]repository.TriggerRule, 0, len(order))
	for _, t := range order {
		rules = append(rules, byType[t])
	}
	return rules
}

// rulesFromName derives rules from well-known substrings in the sequence name.
func rulesFromName(name string) []repository.TriggerRule {
	lower := strings.ToLower(name)
	var rules []repository.TriggerRule

	if strings.Contains(lower, "overdue") {
		rules = append(rules, DefaultRule())
	}
	if strings.Contains(lower, "reminder") || strings.Contains(lower, "follow") {
		rules = append(rules, repository.TriggerRule{
			Type: repository.TriggerDueDateApproaching,
			Conditions: []repository.Condition{
				{Type: repository.ConditionDaysToDue, Operator: repository.OperatorLessThan, Number: reminderLookaheadDays},
			},
			Cooldown: reminderCooldown,
		})
	}
	return rules
}

// rulesFromConfig parses the raw trigger configuration. A rule with an
// unrecognized type or operator, or with no conditions, is skipped on its
// own; an unparsable configuration skips the whole block with a warning.
func rulesFromConfig(seq *repository.SequenceDefinition, log zerolog.Logger) []repository.TriggerRule {
	if len(seq.TriggerConfig) == 0 {
		return nil
	}

	var raw []rawRule
	if err := json.Unmarshal(seq.TriggerConfig, &raw); err != nil {
		log.Warn().Err(err).
			Str("sequence_id", seq.ID).
			Msg("Unparsable trigger configuration; ignoring configured rules")
		return nil
	}

	var rules []repository.TriggerRule
	for i, rr := range raw {
		rule, ok := parseRule(rr)
		if !ok {
			log.Warn().
				Str("sequence_id", seq.ID).
				Int("rule_index", i).
				Str("rule_type", rr.Type).
				Msg("Skipping invalid trigger rule")
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

func parseRule(rr rawRule) (repository.TriggerRule, bool) {
	t := repository.ParseTriggerType(rr.Type)
	if t == repository.TriggerUnknown {
		return repository.TriggerRule{}, false
	}
	if len(rr.Conditions) == 0 {
		return repository.TriggerRule{}, false
	}

	conditions := make([]repository.Condition, 0, len(rr.Conditions))
	for _, rc := range rr.Conditions {
		c, ok := parseCondition(rc)
		if !ok {
			return repository.TriggerRule{}, false
		}
		conditions = append(conditions, c)
	}

	cooldown := time.Duration(rr.CooldownHours) * time.Hour
	if cooldown < 0 {
		return repository.TriggerRule{}, false
	}

	return repository.TriggerRule{Type: t, Conditions: conditions, Cooldown: cooldown}, true
}

// parseCondition normalizes the loosely-typed value field: numbers for
// numeric comparisons, a string for EQUALS, a string array for IN / NOT_IN.
func parseCondition(rc rawCondition) (repository.Condition, bool) {
	c := repository.Condition{
		Type:     repository.ParseConditionType(rc.Type),
		Operator: repository.ParseOperator(rc.Operator),
	}
	if c.Type == repository.ConditionUnknown || c.Operator == repository.OperatorUnknown {
		return repository.Condition{}, false
	}

	switch c.Operator {
	case repository.OperatorIn, repository.OperatorNotIn:
		var set []string
		if err := json.Unmarshal(rc.Value, &set); err != nil || len(set) == 0 {
			return repository.Condition{}, false
		}
		for i := range set {
			set[i] = strings.ToUpper(set[i])
		}
		c.Set = set
	default:
		var num float64
		if err := json.Unmarshal(rc.Value, &num); err == nil {
			c.Number = num
			break
		}
		var text string
		if err := json.Unmarshal(rc.Value, &text); err != nil || text == "" {
			return repository.Condition{}, false
		}
		c.Text = strings.ToUpper(text)
	}

	return c, true
}

// ValidateSteps checks that step numbers form a contiguous 1-based range.
func ValidateSteps(steps []repository.SequenceStep) bool {
	if len(steps) == 0 {
		return false
	}
	for i, s := range steps {
		if s.Number != i+1 || s.DelayDays < 0 {
			return false
		}
	}
	return true
}
