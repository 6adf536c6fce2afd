package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/database"
)

// TriggerAuditRepository appends and reads immutable trigger audit entries.
// Every decision to trigger or not is recorded here so it can be explained
// after the fact; the core logic itself never reads this table.
type TriggerAuditRepository struct {
	db *database.DB
}

// NewTriggerAuditRepository creates a new TriggerAuditRepository.
func NewTriggerAuditRepository(db *database.DB) *TriggerAuditRepository {
	return &TriggerAuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation exposed.
func (r *TriggerAuditRepository) Append(ctx context.Context, entry *TriggerEvent) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO dunning_trigger_audit
		    (id, sequence_id, invoice_id, company_id,
		     trigger_type, outcome, reason, actor, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return r.db.QueryRow(ctx, query,
		entry.ID,
		entry.SequenceID,
		entry.InvoiceID,
		entry.CompanyID,
		entry.TriggerType,
		entry.Outcome,
		entry.Reason,
		entry.Actor,
		metadataJSON,
	).Scan(&entry.CreatedAt)
}

// GetByInvoiceID returns the audit trail for an invoice ordered oldest-first.
func (r *TriggerAuditRepository) GetByInvoiceID(ctx context.Context, invoiceID string) ([]*TriggerEvent, error) {
	query := `
		SELECT id, sequence_id, invoice_id, company_id,
		       trigger_type, outcome, reason, actor, metadata, created_at
		FROM dunning_trigger_audit
		WHERE invoice_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get trigger audit")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *TriggerAuditRepository) scanRows(rows pgx.Rows) ([]*TriggerEvent, error) {
	var entries []*TriggerEvent
	for rows.Next() {
		entry := &TriggerEvent{}
		var triggerType, outcome string
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.SequenceID,
			&entry.InvoiceID,
			&entry.CompanyID,
			&triggerType,
			&outcome,
			&entry.Reason,
			&entry.Actor,
			&metadataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
		}

		entry.TriggerType = ParseTriggerType(triggerType)
		entry.Outcome = TriggerOutcome(outcome)
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
