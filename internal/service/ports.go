package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

// ── Store ports ───────────────────────────────────────────────────────────────
//
// Narrow interfaces over the repository layer so that the monitor and the
// execution controller can be exercised with in-memory substitutes.

// SequenceStore reads sequence definitions.
type SequenceStore interface {
	ListActive(ctx context.Context) ([]*repository.SequenceDefinition, error)
	GetByID(ctx context.Context, id string) (*repository.SequenceDefinition, error)
}

// InvoiceStore reads invoice snapshots.
type InvoiceStore interface {
	GetByID(ctx context.Context, id string) (*repository.Invoice, error)
	ListCandidates(ctx context.Context, companyID string, triggerType repository.TriggerType, now time.Time, lookaheadDays, limit int) ([]*repository.Invoice, error)
}

// ExecutionStore owns execution records.
type ExecutionStore interface {
	Create(ctx context.Context, rec *repository.ExecutionRecord) (created bool, err error)
	GetByID(ctx context.Context, id string) (*repository.ExecutionRecord, error)
	GetByPair(ctx context.Context, sequenceID, invoiceID string) (*repository.ExecutionRecord, error)
	ExistsSince(ctx context.Context, sequenceID, invoiceID string, since time.Time) (bool, error)
	ListActiveForInvoice(ctx context.Context, invoiceID string) ([]*repository.ExecutionRecord, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*repository.ExecutionRecord, error)
	RecordStep(ctx context.Context, id string, step int, lastStepAt time.Time, nextStepAt *time.Time) error
	MarkStatus(ctx context.Context, id string, status repository.ExecutionStatus, stopReason *string) error
}

// StepLogStore owns the append-only step log.
type StepLogStore interface {
	Append(ctx context.Context, e *repository.StepLogEntry) error
	LastStep(ctx context.Context, executionID string) (int, error)
	LastTriggerAt(ctx context.Context, invoiceID string, triggerType repository.TriggerType) (*time.Time, error)
	ListForExecution(ctx context.Context, executionID string) ([]*repository.StepLogEntry, error)
}

// AuditStore appends trigger audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.TriggerEvent) error
}

// SignalStore records and reads external stop signals.
type SignalStore interface {
	Append(ctx context.Context, s *repository.StopSignal) error
	ListForInvoice(ctx context.Context, invoiceID string) ([]string, error)
}

// ── External ports ────────────────────────────────────────────────────────────

// CalendarOracle answers whether an instant falls in a permitted sending
// window. Pure lookup, safe for concurrent use.
type CalendarOracle interface {
	IsPermittedNow(ctx context.Context, t time.Time) (bool, error)
	NextPermittedInstant(ctx context.Context, t time.Time) (time.Time, error)
}

// RenderedMessage is a fully rendered step message ready for dispatch.
type RenderedMessage struct {
	InvoiceID  string `json:"invoice_id"`
	SequenceID string `json:"sequence_id"`
	StepNumber int    `json:"step_number"`
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Language   string `json:"language,omitempty"`
	Tone       string `json:"tone,omitempty"`
}

// DispatchHints carries scheduling hints for the delivery subsystem.
type DispatchHints struct {
	Channel   string    `json:"channel"`
	NotBefore time.Time `json:"not_before"`
}

// Dispatcher hands rendered messages to the delivery subsystem. Dispatch
// returns an opaque handle on acceptance; it does not guarantee delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg RenderedMessage, hints DispatchHints) (handle string, err error)
	Cancel(ctx context.Context, handle string) (bool, error)
}

// ── Utilities ─────────────────────────────────────────────────────────────────

// IDGenerator supplies record IDs; tests inject deterministic ones.
type IDGenerator func() string

// NewUUID is the production ID generator.
func NewUUID() string {
	return uuid.NewString()
}
