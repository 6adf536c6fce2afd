package dunning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

func TestTemplateVars(t *testing.T) {
	inv := testInvoice(repository.InvoiceStatusOverdue, testNow.AddDate(0, 0, -9), 125050,
		&repository.Payment{Amount: 25050, PaidAt: testNow.AddDate(0, 0, -20)})

	vars := TemplateVars(inv, testNow)

	assert.Equal(t, "INV-2026-001", vars["invoice_number"])
	assert.Equal(t, "Jane Doe", vars["customer_name"])
	assert.Equal(t, "1000.00 EUR", vars["amount_due"])
	assert.Equal(t, "2026-03-01", vars["due_date"])
	assert.Equal(t, "9", vars["days_past_due"])
	assert.Equal(t, "Acme GmbH", vars["company_name"])
}

func TestRenderTemplate(t *testing.T) {
	vars := map[string]string{
		"invoice_number": "INV-42",
		"customer_name":  "Jane",
	}

	out := RenderTemplate("Dear {{customer_name}}, invoice {{invoice_number}} is due.", vars)
	assert.Equal(t, "Dear Jane, invoice INV-42 is due.", out)
}

func TestRenderTemplateLeavesUnknownPlaceholders(t *testing.T) {
	out := RenderTemplate("Hello {{customer_name}}, ref {{unknown_field}}.", map[string]string{
		"customer_name": "Jane",
	})
	assert.Equal(t, "Hello Jane, ref {{unknown_field}}.", out)
}

func TestRenderTemplateRepeatedPlaceholder(t *testing.T) {
	out := RenderTemplate("{{n}} and {{n}}", map[string]string{"n": "x"})
	assert.Equal(t, "x and x", out)
}
