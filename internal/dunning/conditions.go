package dunning

import (
	"time"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

// ── Invoice facts ─────────────────────────────────────────────────────────────

// DaysToDue returns whole days from now until the due date (negative when past).
func DaysToDue(inv *repository.Invoice, now time.Time) int {
	return int(inv.DueDate.Sub(now).Hours() / 24)
}

// DaysOverdue returns whole days past the due date, never negative.
func DaysOverdue(inv *repository.Invoice, now time.Time) int {
	d := int(now.Sub(inv.DueDate).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// AmountPaid sums all recorded payments.
func AmountPaid(inv *repository.Invoice) int64 {
	var total int64
	for _, p := range inv.Payments {
		total += p.Amount
	}
	return total
}

// Outstanding returns the unpaid remainder, never negative.
func Outstanding(inv *repository.Invoice) int64 {
	rest := inv.TotalAmount - AmountPaid(inv)
	if rest < 0 {
		return 0
	}
	return rest
}

// LastPaymentAt returns the most recent payment time, or zero when none exist.
func LastPaymentAt(inv *repository.Invoice) time.Time {
	var last time.Time
	for _, p := range inv.Payments {
		if p.PaidAt.After(last) {
			last = p.PaidAt
		}
	}
	return last
}

// ── Rule evaluation ───────────────────────────────────────────────────────────

// RuleMatches reports whether every condition of the rule holds for the
// invoice snapshot. Conditions are ANDed; an empty condition list never
// matches.
func RuleMatches(rule repository.TriggerRule, inv *repository.Invoice, now time.Time) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, c := range rule.Conditions {
		if !conditionHolds(c, inv, now) {
			return false
		}
	}
	return true
}

// conditionHolds evaluates a single condition. Unknown condition types and
// operators evaluate false: fail closed, never error.
func conditionHolds(c repository.Condition, inv *repository.Invoice, now time.Time) bool {
	switch c.Type {
	case repository.ConditionStatus:
		return compareText(string(inv.Status), c)
	case repository.ConditionDaysToDue:
		return compareNumber(float64(DaysToDue(inv, now)), c)
	case repository.ConditionDaysOverdue:
		return compareNumber(float64(DaysOverdue(inv, now)), c)
	case repository.ConditionAmountPaid:
		return compareNumber(float64(AmountPaid(inv)), c)
	}
	return false
}

func compareNumber(fact float64, c repository.Condition) bool {
	switch c.Operator {
	case repository.OperatorEquals:
		return fact == c.Number
	case repository.OperatorGreaterThan:
		return fact > c.Number
	case repository.OperatorLessThan:
		return fact < c.Number
	}
	return false
}

func compareText(fact string, c repository.Condition) bool {
	switch c.Operator {
	case repository.OperatorEquals:
		return fact == c.Text
	case repository.OperatorIn:
		return inSet(fact, c.Set)
	case repository.OperatorNotIn:
		return len(c.Set) > 0 && !inSet(fact, c.Set)
	}
	return false
}

func inSet(v string, set []string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
