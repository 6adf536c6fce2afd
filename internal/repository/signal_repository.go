package repository

import (
	"context"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/database"
)

// SignalRepository stores external stop signals (e.g. customer_responded)
// referenced by step stop tags.
type SignalRepository struct {
	db *database.DB
}

// NewSignalRepository creates a new SignalRepository.
func NewSignalRepository(db *database.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Append records a signal for an invoice. Duplicate signals are harmless.
func (r *SignalRepository) Append(ctx context.Context, s *StopSignal) error {
	query := `
		INSERT INTO dunning_stop_signals (id, invoice_id, signal)
		VALUES ($1, $2, $3)
		ON CONFLICT (invoice_id, signal) DO NOTHING
	`

	if _, err := r.db.Exec(ctx, query, s.ID, s.InvoiceID, s.Signal); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append stop signal")
	}
	return nil
}

// ListForInvoice returns the distinct signals present for an invoice.
func (r *SignalRepository) ListForInvoice(ctx context.Context, invoiceID string) ([]string, error) {
	query := `
		SELECT signal
		FROM dunning_stop_signals
		WHERE invoice_id = $1
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list stop signals")
	}
	defer rows.Close()

	var signals []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan stop signal")
		}
		signals = append(signals, s)
	}
	return signals, nil
}
