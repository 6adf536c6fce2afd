package dunning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testInvoice(status repository.InvoiceStatus, dueDate time.Time, total int64, payments ...*repository.Payment) *repository.Invoice {
	return &repository.Invoice{
		ID:            "inv-1",
		CompanyID:     "co-1",
		CompanyName:   "Acme GmbH",
		InvoiceNumber: "INV-2026-001",
		CustomerName:  "Jane Doe",
		CustomerEmail: "jane@example.com",
		Status:        status,
		DueDate:       dueDate,
		TotalAmount:   total,
		Currency:      "EUR",
		Payments:      payments,
	}
}

func TestInvoiceFacts(t *testing.T) {
	inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -5), 10000,
		&repository.Payment{Amount: 2500, PaidAt: testNow.AddDate(0, 0, -2)},
		&repository.Payment{Amount: 1500, PaidAt: testNow.AddDate(0, 0, -10)},
	)

	assert.Equal(t, 5, DaysOverdue(inv, testNow))
	assert.Equal(t, -5, DaysToDue(inv, testNow))
	assert.Equal(t, int64(4000), AmountPaid(inv))
	assert.Equal(t, int64(6000), Outstanding(inv))
	assert.Equal(t, testNow.AddDate(0, 0, -2), LastPaymentAt(inv))
}

func TestDaysOverdueNeverNegative(t *testing.T) {
	inv := testInvoice(repository.InvoiceStatusSent, testNow.AddDate(0, 0, 3), 10000)
	assert.Equal(t, 0, DaysOverdue(inv, testNow))
}

func TestOutstandingNeverNegative(t *testing.T) {
	inv := testInvoice(repository.InvoiceStatusPaid, testNow, 1000,
		&repository.Payment{Amount: 1500, PaidAt: testNow})
	assert.Equal(t, int64(0), Outstanding(inv))
}

func TestRuleMatchesAllConditionsAnded(t *testing.T) {
	inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -10), 10000)

	rule := repository.TriggerRule{
		Type: repository.TriggerOverdueDays,
		Conditions: []repository.Condition{
			{Type: repository.ConditionDaysOverdue, Operator: repository.OperatorGreaterThan, Number: 5},
			{Type: repository.ConditionStatus, Operator: repository.OperatorEquals, Text: "OVERDUE"},
		},
	}
	assert.True(t, RuleMatches(rule, inv, testNow))

	rule.Conditions[0].Number = 30
	assert.False(t, RuleMatches(rule, inv, testNow), "one failing condition fails the rule")
}

func TestRuleMatchesEmptyConditionsNeverMatch(t *testing.T) {
	inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -10), 10000)
	rule := repository.TriggerRule{Type: repository.TriggerOverdueDays}

	assert.False(t, RuleMatches(rule, inv, testNow))
}

func TestConditionOperators(t *testing.T) {
	inv := testInvoice(repository.InvoiceStatusPartiallyPaid, testNow.AddDate(0, 0, -3), 10000,
		&repository.Payment{Amount: 4000, PaidAt: testNow.AddDate(0, 0, -5)})

	tests := []struct {
		name string
		cond repository.Condition
		want bool
	}{
		{
			name: "amount paid greater than",
			cond: repository.Condition{Type: repository.ConditionAmountPaid, Operator: repository.OperatorGreaterThan, Number: 3000},
			want: true,
		},
		{
			name: "amount paid equals",
			cond: repository.Condition{Type: repository.ConditionAmountPaid, Operator: repository.OperatorEquals, Number: 4000},
			want: true,
		},
		{
			name: "days overdue less than",
			cond: repository.Condition{Type: repository.ConditionDaysOverdue, Operator: repository.OperatorLessThan, Number: 2},
			want: false,
		},
		{
			name: "status in set",
			cond: repository.Condition{Type: repository.ConditionStatus, Operator: repository.OperatorIn, Set: []string{"OVERDUE", "PARTIALLY_PAID"}},
			want: true,
		},
		{
			name: "status not in set",
			cond: repository.Condition{Type: repository.ConditionStatus, Operator: repository.OperatorNotIn, Set: []string{"PAID", "WRITTEN_OFF"}},
			want: true,
		},
		{
			name: "not in with empty set fails closed",
			cond: repository.Condition{Type: repository.ConditionStatus, Operator: repository.OperatorNotIn},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := repository.TriggerRule{Type: repository.TriggerOverdueDays, Conditions: []repository.Condition{tt.cond}}
			assert.Equal(t, tt.want, RuleMatches(rule, inv, testNow))
		})
	}
}

func TestUnknownConditionAndOperatorFailClosed(t *testing.T) {
	inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -10), 10000)

	unknownType := repository.TriggerRule{
		Type: repository.TriggerOverdueDays,
		Conditions: []repository.Condition{
			{Type: repository.ConditionUnknown, Operator: repository.OperatorGreaterThan, Number: 0},
		},
	}
	assert.False(t, RuleMatches(unknownType, inv, testNow))

	unknownOp := repository.TriggerRule{
		Type: repository.TriggerOverdueDays,
		Conditions: []repository.Condition{
			{Type: repository.ConditionDaysOverdue, Operator: repository.OperatorUnknown, Number: 0},
		},
	}
	assert.False(t, RuleMatches(unknownOp, inv, testNow))
}
