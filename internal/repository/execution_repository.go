package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/database"
)

// ExecutionRepository manages execution records. One row per
// (sequence, invoice) start; a partial unique index on ACTIVE pairs backs
// the no-duplicate-run guarantee.
type ExecutionRepository struct {
	db *database.DB
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(db *database.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create inserts a new execution record. Returns created=false when a
// concurrent caller already inserted an active execution for the pair; the
// losing write is a no-op.
func (r *ExecutionRepository) Create(ctx context.Context, rec *ExecutionRecord) (bool, error) {
	query := `
		INSERT INTO dunning_executions
		    (id, sequence_id, invoice_id, company_id, trigger_type,
		     current_step, total_steps, status, trigger_reason,
		     started_at, next_step_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rec.ID,
		rec.SequenceID,
		rec.InvoiceID,
		rec.CompanyID,
		rec.TriggerType,
		rec.CurrentStep,
		rec.TotalSteps,
		rec.Status,
		rec.TriggerReason,
		rec.StartedAt,
		rec.NextStepAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)

	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create execution")
	}
	return true, nil
}

// GetByID retrieves an execution by primary key.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*ExecutionRecord, error) {
	query := selectExecution + ` WHERE id = $1`

	rec, err := r.scanExecution(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("execution", id)
	}
	return rec, err
}

// GetByPair returns the most recent execution for a (sequence, invoice)
// pair, or nil when none exists.
func (r *ExecutionRepository) GetByPair(ctx context.Context, sequenceID, invoiceID string) (*ExecutionRecord, error) {
	query := selectExecution + `
		WHERE sequence_id = $1 AND invoice_id = $2
		ORDER BY started_at DESC
		LIMIT 1
	`

	rec, err := r.scanExecution(r.db.QueryRow(ctx, query, sequenceID, invoiceID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ExistsSince reports whether any execution for the pair — regardless of
// status — started after the given time. Recently finished runs block a
// restart until the window lapses.
func (r *ExecutionRepository) ExistsSince(ctx context.Context, sequenceID, invoiceID string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM dunning_executions
			WHERE sequence_id = $1 AND invoice_id = $2 AND started_at >= $3
		)
	`

	var exists bool
	err := r.db.QueryRow(ctx, query, sequenceID, invoiceID, since).Scan(&exists)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check recent executions")
	}
	return exists, nil
}

// ListActiveForInvoice returns all in-flight executions for an invoice,
// across sequences.
func (r *ExecutionRepository) ListActiveForInvoice(ctx context.Context, invoiceID string) ([]*ExecutionRecord, error) {
	query := selectExecution + `
		WHERE invoice_id = $1 AND status = 'ACTIVE'
		ORDER BY started_at ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list active executions")
	}
	defer rows.Close()

	return r.scanExecutions(rows)
}

// ListDue returns ACTIVE executions whose next step time has arrived.
func (r *ExecutionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*ExecutionRecord, error) {
	query := selectExecution + `
		WHERE status = 'ACTIVE'
		  AND next_step_at IS NOT NULL
		  AND next_step_at <= $1
		ORDER BY next_step_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list due executions")
	}
	defer rows.Close()

	return r.scanExecutions(rows)
}

// RecordStep advances the step counter after a successful dispatch and
// schedules (or clears) the next step time.
func (r *ExecutionRepository) RecordStep(ctx context.Context, id string, step int, lastStepAt time.Time, nextStepAt *time.Time) error {
	query := `
		UPDATE dunning_executions
		SET current_step = $2,
		    last_step_at = $3,
		    next_step_at = $4,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, step, lastStepAt, nextStepAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("execution", id)
	}
	return err
}

// MarkStatus transitions the execution to a terminal (or refreshed ACTIVE)
// status. Terminal transitions clear the scheduled next step, cancelling
// any queued continuation.
func (r *ExecutionRepository) MarkStatus(ctx context.Context, id string, status ExecutionStatus, stopReason *string) error {
	query := `
		UPDATE dunning_executions
		SET status       = $2,
		    stop_reason  = COALESCE($3, stop_reason),
		    next_step_at = CASE WHEN $2 = 'ACTIVE' THEN next_step_at ELSE NULL END,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, stopReason).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("execution", id)
	}
	return err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

const selectExecution = `
	SELECT id, sequence_id, invoice_id, company_id, trigger_type,
	       current_step, total_steps, status, trigger_reason, stop_reason,
	       started_at, last_step_at, next_step_at,
	       created_at, updated_at
	FROM dunning_executions
`

type executionScanner interface {
	Scan(dest ...any) error
}

func (r *ExecutionRepository) scanExecution(row executionScanner) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var status, triggerType string

	err := row.Scan(
		&rec.ID,
		&rec.SequenceID,
		&rec.InvoiceID,
		&rec.CompanyID,
		&triggerType,
		&rec.CurrentStep,
		&rec.TotalSteps,
		&status,
		&rec.TriggerReason,
		&rec.StopReason,
		&rec.StartedAt,
		&rec.LastStepAt,
		&rec.NextStepAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = ExecutionStatus(status)
	rec.TriggerType = ParseTriggerType(triggerType)
	return rec, nil
}

func (r *ExecutionRepository) scanExecutions(rows pgx.Rows) ([]*ExecutionRecord, error) {
	var recs []*ExecutionRecord
	for rows.Next() {
		rec, err := r.scanExecution(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan execution")
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
