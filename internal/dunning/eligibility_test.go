package dunning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

func TestCheckEligibility(t *testing.T) {
	cfg := EligibilityConfig{
		MinOutstanding:      1000,
		RecentPaymentWindow: 48 * time.Hour,
	}

	t.Run("eligible invoice", func(t *testing.T) {
		inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -5), 10000)
		ok, reason := CheckEligibility(inv, cfg, testNow)
		assert.True(t, ok)
		assert.Empty(t, reason)
	})

	t.Run("outstanding below minimum", func(t *testing.T) {
		inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -5), 10000,
			&repository.Payment{Amount: 9500, PaidAt: testNow.AddDate(0, 0, -10)})
		ok, reason := CheckEligibility(inv, cfg, testNow)
		assert.False(t, ok)
		assert.Contains(t, reason, "below minimum")
	})

	t.Run("recent payment suppresses follow-up", func(t *testing.T) {
		inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -5), 10000,
			&repository.Payment{Amount: 2000, PaidAt: testNow.Add(-12 * time.Hour)})
		ok, reason := CheckEligibility(inv, cfg, testNow)
		assert.False(t, ok)
		assert.Contains(t, reason, "payment recorded")
	})

	t.Run("old payment does not suppress", func(t *testing.T) {
		inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -5), 10000,
			&repository.Payment{Amount: 2000, PaidAt: testNow.AddDate(0, 0, -10)})
		ok, _ := CheckEligibility(inv, cfg, testNow)
		assert.True(t, ok)
	})

	t.Run("zero window disables payment check", func(t *testing.T) {
		inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -5), 10000,
			&repository.Payment{Amount: 2000, PaidAt: testNow.Add(-time.Hour)})
		ok, _ := CheckEligibility(inv, EligibilityConfig{MinOutstanding: 1000}, testNow)
		assert.True(t, ok)
	})
}
