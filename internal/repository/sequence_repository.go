package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/database"
)

// SequenceRepository reads dunning sequence definitions. Sequences are
// configured by another service; this one never writes them.
type SequenceRepository struct {
	db *database.DB
}

// NewSequenceRepository creates a new SequenceRepository.
func NewSequenceRepository(db *database.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// ListActive returns all active sequences across companies.
func (r *SequenceRepository) ListActive(ctx context.Context) ([]*SequenceDefinition, error) {
	query := `
		SELECT id, company_id, name, is_active, steps, trigger_config,
		       created_at, updated_at
		FROM dunning_sequences
		WHERE is_active = TRUE
		ORDER BY company_id, name
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list sequences")
	}
	defer rows.Close()

	var seqs []*SequenceDefinition
	for rows.Next() {
		seq, err := r.scanSequence(rows)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

// GetByID retrieves a sequence by primary key.
func (r *SequenceRepository) GetByID(ctx context.Context, id string) (*SequenceDefinition, error) {
	query := `
		SELECT id, company_id, name, is_active, steps, trigger_config,
		       created_at, updated_at
		FROM dunning_sequences
		WHERE id = $1
	`

	seq, err := r.scanSequence(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("sequence", id)
	}
	return seq, err
}

// ── scan helper ───────────────────────────────────────────────────────────────

type sequenceScanner interface {
	Scan(dest ...any) error
}

// scanSequence decodes one row. An invalid steps encoding leaves Steps nil
// instead of failing the scan: one misconfigured sequence must not take
// down a whole monitor cycle.
func (r *SequenceRepository) scanSequence(row sequenceScanner) (*SequenceDefinition, error) {
	seq := &SequenceDefinition{}
	var stepsJSON []byte

	err := row.Scan(
		&seq.ID,
		&seq.CompanyID,
		&seq.Name,
		&seq.IsActive,
		&stepsJSON,
		&seq.TriggerConfig,
		&seq.CreatedAt,
		&seq.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &seq.Steps); err != nil {
			seq.Steps = nil
		}
	}
	return seq, nil
}
