package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/database"
)

// StepLogRepository appends and queries the append-only step log. A row for
// (execution, step N) is the authoritative evidence that step N was
// dispatched; the cooldown guard and continuation logic are both derived
// from this table.
type StepLogRepository struct {
	db *database.DB
}

// NewStepLogRepository creates a new StepLogRepository.
func NewStepLogRepository(db *database.DB) *StepLogRepository {
	return &StepLogRepository{db: db}
}

// Append inserts one step log entry.
func (r *StepLogRepository) Append(ctx context.Context, e *StepLogEntry) error {
	query := `
		INSERT INTO dunning_step_log
		    (id, execution_id, sequence_id, invoice_id,
		     step_number, trigger_type, dispatch_handle, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		e.ID,
		e.ExecutionID,
		e.SequenceID,
		e.InvoiceID,
		e.StepNumber,
		e.TriggerType,
		e.DispatchHandle,
		e.SentAt,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append step log entry")
	}
	return nil
}

// LastStep returns the highest step number logged for an execution, or 0
// when no step has run yet.
func (r *StepLogRepository) LastStep(ctx context.Context, executionID string) (int, error) {
	query := `
		SELECT COALESCE(MAX(step_number), 0)
		FROM dunning_step_log
		WHERE execution_id = $1
	`

	var last int
	if err := r.db.QueryRow(ctx, query, executionID).Scan(&last); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get last step")
	}
	return last, nil
}

// LastTriggerAt returns when a step for the given trigger type last went out
// for an invoice, or nil when it never did. Backs the cooldown guard.
func (r *StepLogRepository) LastTriggerAt(ctx context.Context, invoiceID string, triggerType TriggerType) (*time.Time, error) {
	query := `
		SELECT sent_at
		FROM dunning_step_log
		WHERE invoice_id = $1 AND trigger_type = $2
		ORDER BY sent_at DESC
		LIMIT 1
	`

	var sentAt time.Time
	err := r.db.QueryRow(ctx, query, invoiceID, triggerType).Scan(&sentAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get last trigger time")
	}
	return &sentAt, nil
}

// ListForExecution returns all step log entries for an execution ordered by
// step number.
func (r *StepLogRepository) ListForExecution(ctx context.Context, executionID string) ([]*StepLogEntry, error) {
	query := `
		SELECT id, execution_id, sequence_id, invoice_id,
		       step_number, trigger_type, dispatch_handle, sent_at
		FROM dunning_step_log
		WHERE execution_id = $1
		ORDER BY step_number ASC
	`

	rows, err := r.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list step log entries")
	}
	defer rows.Close()

	var entries []*StepLogEntry
	for rows.Next() {
		e := &StepLogEntry{}
		var triggerType string
		err := rows.Scan(
			&e.ID,
			&e.ExecutionID,
			&e.SequenceID,
			&e.InvoiceID,
			&e.StepNumber,
			&triggerType,
			&e.DispatchHandle,
			&e.SentAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan step log entry")
		}
		e.TriggerType = ParseTriggerType(triggerType)
		entries = append(entries, e)
	}
	return entries, nil
}
