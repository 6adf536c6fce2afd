package dunning

import (
	"fmt"
	"strings"
	"time"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

// TemplateVars builds the substitution map for a step template. Amounts are
// formatted in major units with two decimals.
func TemplateVars(inv *repository.Invoice, now time.Time) map[string]string {
	return map[string]string{
		"invoice_number": inv.InvoiceNumber,
		"customer_name":  inv.CustomerName,
		"amount_due":     fmt.Sprintf("%.2f %s", float64(Outstanding(inv))/100, inv.Currency),
		"due_date":       inv.DueDate.Format("2006-01-02"),
		"days_past_due":  fmt.Sprintf("%d", DaysOverdue(inv, now)),
		"company_name":   inv.CompanyName,
	}
}

// RenderTemplate substitutes {{name}} placeholders from vars. Placeholders
// without a matching variable are left as literal text, never dropped.
func RenderTemplate(body string, vars map[string]string) string {
	out := body
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}
