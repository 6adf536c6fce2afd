package repository

import (
	"strings"
	"time"
)

// ── Enumerations ──────────────────────────────────────────────────────────────

// InvoiceStatus is the observed lifecycle state of an AR invoice.
// The dunning core never writes it; transitions are only observed.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusSent          InvoiceStatus = "SENT"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusOverdue       InvoiceStatus = "OVERDUE"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusWrittenOff    InvoiceStatus = "WRITTEN_OFF"
	InvoiceStatusUnknown       InvoiceStatus = "UNKNOWN"
)

// ParseInvoiceStatus maps a stored status string to the closed enum.
func ParseInvoiceStatus(s string) InvoiceStatus {
	switch InvoiceStatus(strings.ToUpper(s)) {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartiallyPaid,
		InvoiceStatusOverdue, InvoiceStatusPaid, InvoiceStatusWrittenOff:
		return InvoiceStatus(strings.ToUpper(s))
	}
	return InvoiceStatusUnknown
}

// TriggerType identifies why a sequence should start for an invoice.
type TriggerType string

const (
	TriggerDueDateApproaching TriggerType = "DUE_DATE_APPROACHING"
	TriggerOverdueDays        TriggerType = "OVERDUE_DAYS"
	TriggerStatusChanged      TriggerType = "STATUS_CHANGED"
	TriggerPaymentPartial     TriggerType = "PAYMENT_PARTIAL"
	TriggerManual             TriggerType = "MANUAL"
	TriggerUnknown            TriggerType = "UNKNOWN"
)

// ParseTriggerType maps a configured trigger type string to the closed enum.
func ParseTriggerType(s string) TriggerType {
	switch TriggerType(strings.ToUpper(s)) {
	case TriggerDueDateApproaching, TriggerOverdueDays, TriggerStatusChanged,
		TriggerPaymentPartial, TriggerManual:
		return TriggerType(strings.ToUpper(s))
	}
	return TriggerUnknown
}

// ConditionType names the invoice fact a condition compares against.
type ConditionType string

const (
	ConditionStatus      ConditionType = "STATUS"
	ConditionDaysToDue   ConditionType = "DAYS_TO_DUE"
	ConditionDaysOverdue ConditionType = "DAYS_OVERDUE"
	ConditionAmountPaid  ConditionType = "AMOUNT_PAID"
	ConditionUnknown     ConditionType = "UNKNOWN"
)

// ParseConditionType maps a configured condition type string to the closed enum.
func ParseConditionType(s string) ConditionType {
	switch ConditionType(strings.ToUpper(s)) {
	case ConditionStatus, ConditionDaysToDue, ConditionDaysOverdue, ConditionAmountPaid:
		return ConditionType(strings.ToUpper(s))
	}
	return ConditionUnknown
}

// Operator is the comparison applied between an invoice fact and the operand.
type Operator string

const (
	OperatorEquals      Operator = "EQUALS"
	OperatorGreaterThan Operator = "GREATER_THAN"
	OperatorLessThan    Operator = "LESS_THAN"
	OperatorIn          Operator = "IN"
	OperatorNotIn       Operator = "NOT_IN"
	OperatorUnknown     Operator = "UNKNOWN"
)

// ParseOperator maps a configured operator string to the closed enum.
func ParseOperator(s string) Operator {
	switch Operator(strings.ToUpper(s)) {
	case OperatorEquals, OperatorGreaterThan, OperatorLessThan, OperatorIn, OperatorNotIn:
		return Operator(strings.ToUpper(s))
	}
	return OperatorUnknown
}

// ExecutionStatus is the state of one sequence execution for one invoice.
// COMPLETED, STOPPED and FAILED are terminal.
type ExecutionStatus string

const (
	ExecutionStatusActive    ExecutionStatus = "ACTIVE"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusStopped   ExecutionStatus = "STOPPED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// IsTerminal reports whether no further steps may run for this status.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusStopped || s == ExecutionStatusFailed
}

// TriggerOutcome is the audited result of one trigger evaluation.
type TriggerOutcome string

const (
	OutcomeNotMatched     TriggerOutcome = "not_matched"
	OutcomeCooldown       TriggerOutcome = "cooldown"
	OutcomeAlreadyHandled TriggerOutcome = "already_handled"
	OutcomeDeferred       TriggerOutcome = "deferred"
	OutcomeIneligible     TriggerOutcome = "ineligible"
	OutcomeStarted        TriggerOutcome = "started"
	OutcomeFailed         TriggerOutcome = "failed"
)

// ── Rules ─────────────────────────────────────────────────────────────────────

// Condition is one typed predicate over an invoice fact. Number carries the
// operand for numeric comparisons, Text for EQUALS on status, Set for
// IN / NOT_IN.
type Condition struct {
	Type     ConditionType
	Operator Operator
	Number   float64
	Text     string
	Set      []string
}

// TriggerRule is a condition set plus cooldown deciding whether a sequence
// should start for an invoice.
type TriggerRule struct {
	Type       TriggerType
	Conditions []Condition
	Cooldown   time.Duration
}

// ── Sequences ────────────────────────────────────────────────────────────────

// SequenceStep is one entry in a sequence's steps JSONB array.
// Step numbers are 1-based and contiguous within a sequence.
type SequenceStep struct {
	Number     int      `json:"step"`
	DelayDays  int      `json:"delay_days"`
	TemplateID string   `json:"template_id,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body,omitempty"`
	Language   string   `json:"language,omitempty"`
	Tone       string   `json:"tone,omitempty"`
	StopTags   []string `json:"stop_tags,omitempty"`
}

// SequenceDefinition is a dunning sequence configured per company.
// Read-only to this service; created and edited elsewhere.
type SequenceDefinition struct {
	ID            string         `json:"id"`
	CompanyID     string         `json:"company_id"`
	Name          string         `json:"name"`
	IsActive      bool           `json:"is_active"`
	Steps         []SequenceStep `json:"steps"` // nil when the stored encoding is invalid
	TriggerConfig []byte         `json:"-"`     // raw JSONB, opaque until parsed
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ── Invoices (read-only) ─────────────────────────────────────────────────────

// Payment is one recorded payment against an invoice.
type Payment struct {
	ID        string    `json:"id"`
	InvoiceID string    `json:"invoice_id"`
	Amount    int64     `json:"amount"` // cents
	PaidAt    time.Time `json:"paid_at"`
}

// Invoice is an AR invoice snapshot at evaluation time.
type Invoice struct {
	ID            string        `json:"id"`
	CompanyID     string        `json:"company_id"`
	CompanyName   string        `json:"company_name"`
	InvoiceNumber string        `json:"invoice_number"`
	CustomerName  string        `json:"customer_name"`
	CustomerEmail string        `json:"customer_email"`
	Status        InvoiceStatus `json:"status"`
	DueDate       time.Time     `json:"due_date"`
	TotalAmount   int64         `json:"total_amount"` // cents
	Currency      string        `json:"currency"`
	Payments      []*Payment    `json:"payments,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ── Executions ───────────────────────────────────────────────────────────────

// ExecutionRecord tracks one sequence applied to one invoice.
// Written exclusively by the execution controller.
type ExecutionRecord struct {
	ID            string          `json:"id"`
	SequenceID    string          `json:"sequence_id"`
	InvoiceID     string          `json:"invoice_id"`
	CompanyID     string          `json:"company_id"`
	TriggerType   TriggerType     `json:"trigger_type"`
	CurrentStep   int             `json:"current_step"` // 0 until step 1 has run
	TotalSteps    int             `json:"total_steps"`
	Status        ExecutionStatus `json:"status"`
	TriggerReason string          `json:"trigger_reason"`
	StopReason    *string         `json:"stop_reason,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	LastStepAt    *time.Time      `json:"last_step_at,omitempty"`
	NextStepAt    *time.Time      `json:"next_step_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// StepLogEntry is the authoritative evidence that a step was dispatched.
// Append-only; its existence prevents duplicate execution across cycles.
type StepLogEntry struct {
	ID             string      `json:"id"`
	ExecutionID    string      `json:"execution_id"`
	SequenceID     string      `json:"sequence_id"`
	InvoiceID      string      `json:"invoice_id"`
	StepNumber     int         `json:"step_number"`
	TriggerType    TriggerType `json:"trigger_type"`
	DispatchHandle string      `json:"dispatch_handle"`
	SentAt         time.Time   `json:"sent_at"`
}

// ── Audit ────────────────────────────────────────────────────────────────────

// TriggerEvent is one immutable audit record per trigger evaluation.
// Never read back by the core logic.
type TriggerEvent struct {
	ID          string                 `json:"id"`
	SequenceID  string                 `json:"sequence_id"`
	InvoiceID   string                 `json:"invoice_id"`
	CompanyID   string                 `json:"company_id"`
	TriggerType TriggerType            `json:"trigger_type"`
	Outcome     TriggerOutcome         `json:"outcome"`
	Reason      string                 `json:"reason"`
	Actor       string                 `json:"actor"` // "monitor" or a user ID for manual triggers
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// StopSignal is an externally observed event referenced by step stop tags,
// e.g. "customer_responded".
type StopSignal struct {
	ID        string    `json:"id"`
	InvoiceID string    `json:"invoice_id"`
	Signal    string    `json:"signal"`
	CreatedAt time.Time `json:"created_at"`
}
