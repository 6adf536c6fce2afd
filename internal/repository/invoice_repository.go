package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/database"
)

// InvoiceRepository reads AR invoices and their payments. The dunning core
// never mutates invoices; status transitions are only observed.
type InvoiceRepository struct {
	db *database.DB
}

// NewInvoiceRepository creates a new InvoiceRepository.
func NewInvoiceRepository(db *database.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// GetByID retrieves an invoice snapshot with all payments.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*Invoice, error) {
	query := `
		SELECT i.id, i.company_id, c.name, i.invoice_number,
		       i.customer_name, i.customer_email,
		       i.status, i.due_date, i.total_amount, i.currency,
		       i.created_at, i.updated_at
		FROM invoices i
		JOIN companies c ON c.id = i.company_id
		WHERE i.id = $1
	`

	inv, err := r.scanInvoice(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("invoice", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get invoice")
	}

	payments, err := r.getPayments(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Payments = payments
	return inv, nil
}

// ListCandidates returns a bounded batch of invoices that could plausibly
// match a trigger rule: company-scoped, unpaid statuses only, with a coarse
// due-date window per trigger type. Fine-grained condition evaluation
// happens in Go.
func (r *InvoiceRepository) ListCandidates(
	ctx context.Context,
	companyID string,
	triggerType TriggerType,
	now time.Time,
	lookaheadDays int,
	limit int,
) ([]*Invoice, error) {
	query := `
		SELECT i.id, i.company_id, c.name, i.invoice_number,
		       i.customer_name, i.customer_email,
		       i.status, i.due_date, i.total_amount, i.currency,
		       i.created_at, i.updated_at
		FROM invoices i
		JOIN companies c ON c.id = i.company_id
		WHERE i.company_id = $1
		  AND i.status NOT IN ('DRAFT', 'PAID', 'WRITTEN_OFF')
	`

	args := []any{companyID}
	switch triggerType {
	case TriggerDueDateApproaching:
		query += " AND i.due_date >= $2 AND i.due_date <= $3"
		args = append(args, now, now.AddDate(0, 0, lookaheadDays))
	default:
		// Overdue, status-change and partial-payment rules all look at
		// invoices whose due date has passed.
		query += " AND i.due_date < $2"
		args = append(args, now)
	}

	query += fmt.Sprintf(" ORDER BY i.due_date ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list candidate invoices")
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan invoice")
		}
		invoices = append(invoices, inv)
	}

	for _, inv := range invoices {
		payments, err := r.getPayments(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		inv.Payments = payments
	}
	return invoices, nil
}

// getPayments loads all payments for an invoice ordered oldest-first.
func (r *InvoiceRepository) getPayments(ctx context.Context, invoiceID string) ([]*Payment, error) {
	query := `
		SELECT id, invoice_id, amount, paid_at
		FROM invoice_payments
		WHERE invoice_id = $1
		ORDER BY paid_at ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get payments")
	}
	defer rows.Close()

	payments := make([]*Payment, 0)
	for rows.Next() {
		p := &Payment{}
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaidAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan payment")
		}
		payments = append(payments, p)
	}
	return payments, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type invoiceScanner interface {
	Scan(dest ...any) error
}

func (r *InvoiceRepository) scanInvoice(row invoiceScanner) (*Invoice, error) {
	inv := &Invoice{}
	var status string

	err := row.Scan(
		&inv.ID,
		&inv.CompanyID,
		&inv.CompanyName,
		&inv.InvoiceNumber,
		&inv.CustomerName,
		&inv.CustomerEmail,
		&status,
		&inv.DueDate,
		&inv.TotalAmount,
		&inv.Currency,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Status = ParseInvoiceStatus(status)
	return inv, nil
}
