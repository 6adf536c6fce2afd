package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/dunning"
	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

// ErrDuplicateExecution is returned by Start when another caller created an
// execution for the same pair first. The losing write is a no-op.
var ErrDuplicateExecution = apperrors.New(apperrors.ErrCodeConflict, "execution already exists for this sequence and invoice")

// ErrSequenceInactive is returned by Start when the sequence has been
// deactivated; callers treat it differently from a duplicate run.
var ErrSequenceInactive = apperrors.New(apperrors.ErrCodeConflict, "sequence is not active")

// ExecutionConfig tunes the execution controller.
type ExecutionConfig struct {
	// MaxDispatchRetries bounds dispatch attempts per step; exhaustion
	// marks the execution FAILED without advancing the step counter.
	MaxDispatchRetries int
	// Now is the clock; nil means time.Now. Tests inject a fixed clock.
	Now func() time.Time
}

// ExecutionService owns the per-(sequence, invoice) execution state machine:
// it starts executions, renders and dispatches step messages, and advances
// or terminates the run. It is the only writer of execution records and
// step log entries.
type ExecutionService struct {
	executions ExecutionStore
	stepLog    StepLogStore
	sequences  SequenceStore
	invoices   InvoiceStore
	signals    SignalStore
	calendar   CalendarOracle
	dispatcher Dispatcher
	newID      IDGenerator
	now        func() time.Time
	maxRetries int
	log        zerolog.Logger
}

// NewExecutionService creates a new ExecutionService.
func NewExecutionService(
	executions ExecutionStore,
	stepLog StepLogStore,
	sequences SequenceStore,
	invoices InvoiceStore,
	signals SignalStore,
	calendar CalendarOracle,
	dispatcher Dispatcher,
	newID IDGenerator,
	cfg ExecutionConfig,
	log zerolog.Logger,
) *ExecutionService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	retries := cfg.MaxDispatchRetries
	if retries < 1 {
		retries = 3
	}
	return &ExecutionService{
		executions: executions,
		stepLog:    stepLog,
		sequences:  sequences,
		invoices:   invoices,
		signals:    signals,
		calendar:   calendar,
		dispatcher: dispatcher,
		newID:      newID,
		now:        now,
		maxRetries: retries,
		log:        log,
	}
}

// ── Start ─────────────────────────────────────────────────────────────────────

// Start creates an execution for the pair and either runs step 1
// synchronously (zero delay) or schedules it. Returns ErrDuplicateExecution
// when a concurrent start won the race.
func (s *ExecutionService) Start(
	ctx context.Context,
	seq *repository.SequenceDefinition,
	inv *repository.Invoice,
	triggerType repository.TriggerType,
	reason string,
) (*repository.ExecutionRecord, error) {
	if !seq.IsActive {
		return nil, ErrSequenceInactive
	}
	if !dunning.ValidateSteps(seq.Steps) {
		return nil, apperrors.InvalidInput("steps", "sequence has no valid step list")
	}

	existing, err := s.executions.GetByPair(ctx, seq.ID, inv.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return nil, ErrDuplicateExecution
	}

	now := s.now()
	firstDelay := time.Duration(seq.Steps[0].DelayDays) * 24 * time.Hour

	rec := &repository.ExecutionRecord{
		ID:            s.newID(),
		SequenceID:    seq.ID,
		InvoiceID:     inv.ID,
		CompanyID:     seq.CompanyID,
		TriggerType:   triggerType,
		CurrentStep:   0,
		TotalSteps:    len(seq.Steps),
		Status:        repository.ExecutionStatusActive,
		TriggerReason: reason,
		StartedAt:     now,
	}

	if firstDelay > 0 {
		at, err := s.clampToPermitted(ctx, now.Add(firstDelay))
		if err != nil {
			return nil, err
		}
		rec.NextStepAt = &at
	} else {
		rec.NextStepAt = &now
	}

	// The store does a final existence check at write time; losing the
	// race is a no-op, not an error condition.
	created, err := s.executions.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrDuplicateExecution
	}

	s.log.Info().
		Str("execution_id", rec.ID).
		Str("sequence_id", seq.ID).
		Str("invoice_id", inv.ID).
		Str("trigger_type", string(triggerType)).
		Int("total_steps", rec.TotalSteps).
		Msg("Execution started")

	if firstDelay == 0 {
		if err := s.advance(ctx, rec, seq, inv); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// ── Continue ──────────────────────────────────────────────────────────────────

// Continue advances one execution by at most one step. Calling it on a
// terminal execution is a no-op. A missing sequence or invoice marks the
// execution FAILED and reports the error.
func (s *ExecutionService) Continue(ctx context.Context, executionID string) error {
	rec, err := s.executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	seq, err := s.sequences.GetByID(ctx, rec.SequenceID)
	if err != nil {
		return s.fail(ctx, rec, fmt.Sprintf("sequence %s unavailable: %v", rec.SequenceID, err))
	}
	inv, err := s.invoices.GetByID(ctx, rec.InvoiceID)
	if err != nil {
		return s.fail(ctx, rec, fmt.Sprintf("invoice %s unavailable: %v", rec.InvoiceID, err))
	}

	return s.advance(ctx, rec, seq, inv)
}

// ContinueResult summarizes one continuation batch.
type ContinueResult struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

// ContinueDue advances every ACTIVE execution whose next step time has
// arrived. Individual failures never abort the batch.
func (s *ExecutionService) ContinueDue(ctx context.Context, limit int) *ContinueResult {
	res := &ContinueResult{Errors: []string{}}

	due, err := s.executions.ListDue(ctx, s.now(), limit)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list due executions: %v", err))
		return res
	}

	for _, rec := range due {
		res.Processed++
		if err := s.Continue(ctx, rec.ID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("execution %s: %v", rec.ID, err))
		}
	}
	return res
}

// advance runs the next pending step: stop-condition check, render,
// dispatch with bounded retries, then log and schedule the following step.
func (s *ExecutionService) advance(
	ctx context.Context,
	rec *repository.ExecutionRecord,
	seq *repository.SequenceDefinition,
	inv *repository.Invoice,
) error {
	last, err := s.stepLog.LastStep(ctx, rec.ID)
	if err != nil {
		return err
	}
	next := last + 1

	if next > rec.TotalSteps {
		return s.complete(ctx, rec)
	}
	step := seq.Steps[next-1]

	signals, err := s.signals.ListForInvoice(ctx, inv.ID)
	if err != nil {
		return err
	}
	if decision := dunning.EvaluateStop(inv, step.StopTags, toSet(signals)); decision.Stop {
		return s.stopRecord(ctx, rec, decision.Reason)
	}

	now := s.now()
	vars := dunning.TemplateVars(inv, now)
	msg := RenderedMessage{
		InvoiceID:  inv.ID,
		SequenceID: seq.ID,
		StepNumber: next,
		Recipient:  inv.CustomerEmail,
		Subject:    dunning.RenderTemplate(step.Subject, vars),
		Body:       dunning.RenderTemplate(step.Body, vars),
		Language:   step.Language,
		Tone:       step.Tone,
	}
	hints := DispatchHints{Channel: "email", NotBefore: now}

	handle, err := s.dispatchWithRetry(ctx, rec, msg, hints)
	if err != nil {
		return err
	}

	entry := &repository.StepLogEntry{
		ID:             s.newID(),
		ExecutionID:    rec.ID,
		SequenceID:     seq.ID,
		InvoiceID:      inv.ID,
		StepNumber:     next,
		TriggerType:    rec.TriggerType,
		DispatchHandle: handle,
		SentAt:         now,
	}
	if err := s.stepLog.Append(ctx, entry); err != nil {
		return err
	}

	var nextAt *time.Time
	if next < rec.TotalSteps {
		delay := time.Duration(seq.Steps[next].DelayDays) * 24 * time.Hour
		at, err := s.clampToPermitted(ctx, now.Add(delay))
		if err != nil {
			return err
		}
		nextAt = &at
	}
	if err := s.executions.RecordStep(ctx, rec.ID, next, now, nextAt); err != nil {
		return err
	}

	s.log.Info().
		Str("execution_id", rec.ID).
		Str("invoice_id", inv.ID).
		Int("step", next).
		Str("dispatch_handle", handle).
		Msg("Step dispatched")

	if next == rec.TotalSteps {
		return s.complete(ctx, rec)
	}
	return nil
}

// dispatchWithRetry attempts dispatch up to the retry bound. Exhaustion
// marks the execution FAILED; the step counter is never advanced on failure.
func (s *ExecutionService) dispatchWithRetry(
	ctx context.Context,
	rec *repository.ExecutionRecord,
	msg RenderedMessage,
	hints DispatchHints,
) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		handle, err := s.dispatcher.Dispatch(ctx, msg, hints)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		s.log.Warn().Err(err).
			Str("execution_id", rec.ID).
			Int("step", msg.StepNumber).
			Int("attempt", attempt).
			Msg("Dispatch attempt failed")
	}

	reason := fmt.Sprintf("dispatch failed after %d attempts: %v", s.maxRetries, lastErr)
	return "", s.fail(ctx, rec, reason)
}

// ── Stop ──────────────────────────────────────────────────────────────────────

// Stop halts the current execution for the pair. Idempotent: stopping an
// already-terminal execution, or a pair that never ran, is a no-op.
func (s *ExecutionService) Stop(ctx context.Context, sequenceID, invoiceID, reason string) error {
	rec, err := s.executions.GetByPair(ctx, sequenceID, invoiceID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status.IsTerminal() {
		return nil
	}
	return s.stopRecord(ctx, rec, reason)
}

func (s *ExecutionService) stopRecord(ctx context.Context, rec *repository.ExecutionRecord, reason string) error {
	if err := s.executions.MarkStatus(ctx, rec.ID, repository.ExecutionStatusStopped, &reason); err != nil {
		return err
	}

	// Best effort: ask the delivery subsystem to pull back the latest
	// accepted message in case it has not gone out yet.
	if entries, err := s.stepLog.ListForExecution(ctx, rec.ID); err == nil && len(entries) > 0 {
		handle := entries[len(entries)-1].DispatchHandle
		if ok, err := s.dispatcher.Cancel(ctx, handle); err == nil && ok {
			s.log.Debug().Str("dispatch_handle", handle).Msg("Pending dispatch cancelled")
		}
	}

	s.log.Info().
		Str("execution_id", rec.ID).
		Str("invoice_id", rec.InvoiceID).
		Str("reason", reason).
		Msg("Execution stopped")
	return nil
}

func (s *ExecutionService) complete(ctx context.Context, rec *repository.ExecutionRecord) error {
	if err := s.executions.MarkStatus(ctx, rec.ID, repository.ExecutionStatusCompleted, nil); err != nil {
		return err
	}
	s.log.Info().
		Str("execution_id", rec.ID).
		Str("invoice_id", rec.InvoiceID).
		Int("total_steps", rec.TotalSteps).
		Msg("Execution completed")
	return nil
}

func (s *ExecutionService) fail(ctx context.Context, rec *repository.ExecutionRecord, reason string) error {
	if err := s.executions.MarkStatus(ctx, rec.ID, repository.ExecutionStatusFailed, &reason); err != nil {
		return err
	}
	s.log.Error().
		Str("execution_id", rec.ID).
		Str("invoice_id", rec.InvoiceID).
		Str("reason", reason).
		Msg("Execution failed")
	return apperrors.New(apperrors.ErrCodeInternal, reason)
}

// clampToPermitted pushes an instant forward to the next permitted sending
// window when it falls outside one.
func (s *ExecutionService) clampToPermitted(ctx context.Context, t time.Time) (time.Time, error) {
	ok, err := s.calendar.IsPermittedNow(ctx, t)
	if err != nil {
		return time.Time{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "calendar oracle unavailable")
	}
	if ok {
		return t, nil
	}
	next, err := s.calendar.NextPermittedInstant(ctx, t)
	if err != nil {
		return time.Time{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "calendar oracle unavailable")
	}
	return next, nil
}

func toSet(signals []string) map[string]bool {
	set := make(map[string]bool, len(signals))
	for _, s := range signals {
		set[s] = true
	}
	return set
}
