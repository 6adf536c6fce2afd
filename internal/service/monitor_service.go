package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/dunning"
	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

const monitorActor = "monitor"

// MonitorConfig tunes one evaluation cycle.
type MonitorConfig struct {
	// CandidateLimit caps invoices fetched per sequence per cycle.
	CandidateLimit int
	// WorkerCount bounds concurrent candidate evaluations.
	WorkerCount int
	// LookaheadDays is the window for due-date-approaching candidates.
	LookaheadDays int
	// RecentExecutionWindow blocks a restart for a pair that already ran
	// this recently, regardless of how that run ended.
	RecentExecutionWindow time.Duration
	// DeferHorizon: outside a permitted sending window, triggering is
	// deferred to a later cycle when the next window opens more than this
	// span away; a window opening sooner lets triggering proceed with the
	// first step clamped into it.
	DeferHorizon time.Duration
	// MinOutstandingCents and RecentPaymentWindow feed the eligibility gate.
	MinOutstandingCents int64
	RecentPaymentWindow time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// CycleResult summarizes one monitor cycle.
type CycleResult struct {
	Processed int      `json:"processed"`
	Triggered int      `json:"triggered"`
	Errors    []string `json:"errors"`

	mu sync.Mutex
}

func (r *CycleResult) addProcessed() {
	r.mu.Lock()
	r.Processed++
	r.mu.Unlock()
}

func (r *CycleResult) addTriggered() {
	r.mu.Lock()
	r.Triggered++
	r.mu.Unlock()
}

func (r *CycleResult) addError(format string, args ...any) {
	r.mu.Lock()
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

// ManualTriggerResult reports the outcome of a manual trigger request.
type ManualTriggerResult struct {
	Triggered   bool   `json:"triggered"`
	ExecutionID string `json:"execution_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// MonitorService walks active sequences, evaluates trigger rules against
// candidate invoices, and starts executions. It also reacts to payment and
// status-change events observed from the ledger.
type MonitorService struct {
	sequences SequenceStore
	invoices  InvoiceStore
	exec      *ExecutionService
	stepLog   StepLogStore
	audit     AuditStore
	signals   SignalStore
	calendar  CalendarOracle
	newID     IDGenerator
	cfg       MonitorConfig
	now       func() time.Time
	log       zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(
	sequences SequenceStore,
	invoices InvoiceStore,
	exec *ExecutionService,
	stepLog StepLogStore,
	audit AuditStore,
	signals SignalStore,
	calendar CalendarOracle,
	newID IDGenerator,
	cfg MonitorConfig,
	log zerolog.Logger,
) *MonitorService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.CandidateLimit < 1 {
		cfg.CandidateLimit = 100
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 4
	}
	return &MonitorService{
		sequences: sequences,
		invoices:  invoices,
		exec:      exec,
		stepLog:   stepLog,
		audit:     audit,
		signals:   signals,
		calendar:  calendar,
		newID:     newID,
		cfg:       cfg,
		now:       now,
		log:       log,
	}
}

// ── Cycle ─────────────────────────────────────────────────────────────────────

// RunCycle runs one full evaluation pass over all active sequences. Errors
// are collected per sequence and per candidate; a single bad sequence never
// aborts the cycle.
func (s *MonitorService) RunCycle(ctx context.Context) *CycleResult {
	res := &CycleResult{Errors: []string{}}
	now := s.now()

	// One calendar probe per cycle. An unreachable oracle aborts the whole
	// cycle: without it neither deferral nor step scheduling is sound.
	deferAll, err := s.shouldDefer(ctx, now)
	if err != nil {
		res.addError("calendar oracle: %v", err)
		return res
	}

	sequences, err := s.sequences.ListActive(ctx)
	if err != nil {
		res.addError("list active sequences: %v", err)
		return res
	}

	for _, seq := range sequences {
		s.processSequence(ctx, seq, now, deferAll, res)
	}

	s.log.Info().
		Int("sequences", len(sequences)).
		Int("processed", res.Processed).
		Int("triggered", res.Triggered).
		Int("errors", len(res.Errors)).
		Msg("Monitor cycle finished")
	return res
}

// shouldDefer reports whether triggering should wait for a later cycle
// because the next permitted sending window is too far away.
func (s *MonitorService) shouldDefer(ctx context.Context, now time.Time) (bool, error) {
	ok, err := s.calendar.IsPermittedNow(ctx, now)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	next, err := s.calendar.NextPermittedInstant(ctx, now)
	if err != nil {
		return false, err
	}
	return next.Sub(now) > s.cfg.DeferHorizon, nil
}

// processSequence evaluates one sequence's rules against its candidate
// invoices. Panics are contained to the sequence.
func (s *MonitorService) processSequence(ctx context.Context, seq *repository.SequenceDefinition, now time.Time, deferAll bool, res *CycleResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().
				Str("sequence_id", seq.ID).
				Interface("panic", rec).
				Msg("Panic while processing sequence")
			res.addError("sequence %s: panic: %v", seq.ID, rec)
		}
	}()

	if !dunning.ValidateSteps(seq.Steps) {
		s.log.Warn().
			Str("sequence_id", seq.ID).
			Str("sequence_name", seq.Name).
			Msg("Skipping sequence with invalid step list")
		return
	}

	for _, rule := range dunning.ParseRules(seq, s.log) {
		if rule.Type == repository.TriggerManual {
			continue
		}

		candidates, err := s.invoices.ListCandidates(ctx, seq.CompanyID, rule.Type, now, s.cfg.LookaheadDays, s.cfg.CandidateLimit)
		if err != nil {
			res.addError("sequence %s: list candidates: %v", seq.ID, err)
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.WorkerCount)
		for _, inv := range candidates {
			inv := inv
			g.Go(func() error {
				res.addProcessed()
				if err := s.evaluateCandidate(gctx, seq, rule, inv, now, deferAll, res); err != nil {
					res.addError("sequence %s invoice %s: %v", seq.ID, inv.ID, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
}

// evaluateCandidate runs the full trigger decision chain for one
// (sequence, rule, invoice) triple and audits the outcome.
func (s *MonitorService) evaluateCandidate(
	ctx context.Context,
	seq *repository.SequenceDefinition,
	rule repository.TriggerRule,
	inv *repository.Invoice,
	now time.Time,
	deferAll bool,
	res *CycleResult,
) error {
	if !dunning.RuleMatches(rule, inv, now) {
		s.appendAudit(ctx, seq, inv, rule.Type, repository.OutcomeNotMatched, "rule conditions not met", monitorActor, nil)
		return nil
	}

	if rule.Cooldown > 0 {
		last, err := s.stepLog.LastTriggerAt(ctx, inv.ID, rule.Type)
		if err != nil {
			return err
		}
		if last != nil && now.Sub(*last) < rule.Cooldown {
			s.appendAudit(ctx, seq, inv, rule.Type, repository.OutcomeCooldown,
				fmt.Sprintf("last trigger %s ago, cooldown %s", now.Sub(*last).Round(time.Minute), rule.Cooldown), monitorActor, nil)
			return nil
		}
	}

	if s.cfg.RecentExecutionWindow > 0 {
		exists, err := s.exec.executions.ExistsSince(ctx, seq.ID, inv.ID, now.Add(-s.cfg.RecentExecutionWindow))
		if err != nil {
			return err
		}
		if exists {
			s.appendAudit(ctx, seq, inv, rule.Type, repository.OutcomeAlreadyHandled,
				fmt.Sprintf("execution started within the last %s", s.cfg.RecentExecutionWindow), monitorActor, nil)
			return nil
		}
	}

	if deferAll {
		s.appendAudit(ctx, seq, inv, rule.Type, repository.OutcomeDeferred,
			"outside permitted sending window, deferred to a later cycle", monitorActor, nil)
		return nil
	}

	eligCfg := dunning.EligibilityConfig{
		MinOutstanding:      s.cfg.MinOutstandingCents,
		RecentPaymentWindow: s.cfg.RecentPaymentWindow,
	}
	if ok, reason := dunning.CheckEligibility(inv, eligCfg, now); !ok {
		s.appendAudit(ctx, seq, inv, rule.Type, repository.OutcomeIneligible, reason, monitorActor, nil)
		return nil
	}

	reason := fmt.Sprintf("rule %s matched", rule.Type)
	rec, err := s.exec.Start(ctx, seq, inv, rule.Type, reason)
	if err != nil {
		if errors.Is(err, ErrDuplicateExecution) {
			s.appendAudit(ctx, seq, inv, rule.Type, repository.OutcomeAlreadyHandled, "active execution already exists", monitorActor, nil)
			return nil
		}
		s.appendAudit(ctx, seq, inv, rule.Type, repository.OutcomeFailed, err.Error(), monitorActor, nil)
		return err
	}

	res.addTriggered()
	s.appendAudit(ctx, seq, inv, rule.Type, repository.OutcomeStarted, reason, monitorActor,
		map[string]interface{}{"execution_id": rec.ID})
	return nil
}

// ── Manual trigger ────────────────────────────────────────────────────────────

// ManualTrigger starts a sequence for an invoice on explicit request. Rule
// conditions and cooldowns are bypassed; duplicate-execution and eligibility
// guards still apply. The acting user lands in the audit trail.
func (s *MonitorService) ManualTrigger(ctx context.Context, sequenceID, invoiceID, actorID, reason string) (*ManualTriggerResult, error) {
	seq, err := s.sequences.GetByID(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	eligCfg := dunning.EligibilityConfig{
		MinOutstanding:      s.cfg.MinOutstandingCents,
		RecentPaymentWindow: s.cfg.RecentPaymentWindow,
	}
	if ok, why := dunning.CheckEligibility(inv, eligCfg, now); !ok {
		s.appendAudit(ctx, seq, inv, repository.TriggerManual, repository.OutcomeIneligible, why, actorID, nil)
		return &ManualTriggerResult{Triggered: false, Reason: why}, nil
	}

	if reason == "" {
		reason = "manual trigger"
	}
	rec, err := s.exec.Start(ctx, seq, inv, repository.TriggerManual, reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateExecution):
			why := "active execution already exists"
			s.appendAudit(ctx, seq, inv, repository.TriggerManual, repository.OutcomeAlreadyHandled, why, actorID, nil)
			return &ManualTriggerResult{Triggered: false, Reason: why}, nil
		case errors.Is(err, ErrSequenceInactive):
			why := "sequence is not active"
			s.appendAudit(ctx, seq, inv, repository.TriggerManual, repository.OutcomeIneligible, why, actorID, nil)
			return &ManualTriggerResult{Triggered: false, Reason: why}, nil
		}
		s.appendAudit(ctx, seq, inv, repository.TriggerManual, repository.OutcomeFailed, err.Error(), actorID, nil)
		return nil, err
	}

	s.appendAudit(ctx, seq, inv, repository.TriggerManual, repository.OutcomeStarted, reason, actorID,
		map[string]interface{}{"execution_id": rec.ID})

	s.log.Info().
		Str("execution_id", rec.ID).
		Str("sequence_id", sequenceID).
		Str("invoice_id", invoiceID).
		Str("actor", actorID).
		Msg("Manual trigger accepted")
	return &ManualTriggerResult{Triggered: true, ExecutionID: rec.ID}, nil
}

// ── Ledger event hooks ────────────────────────────────────────────────────────

// OnPaymentReceived reacts to a recorded payment. Full settlement stops
// every in-flight execution for the invoice; a pending schedule never
// outlives the payment that satisfies it.
func (s *MonitorService) OnPaymentReceived(ctx context.Context, invoiceID string, amount int64) error {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}

	s.log.Info().
		Str("invoice_id", invoiceID).
		Int64("amount", amount).
		Int64("outstanding", dunning.Outstanding(inv)).
		Msg("Payment observed")

	if dunning.Outstanding(inv) > 0 {
		return nil
	}
	return s.stopAllForInvoice(ctx, invoiceID, dunning.StopReasonPaymentReceived)
}

// OnInvoiceStatusChanged reacts to an observed status transition. Terminal
// invoice states stop all executions; a transition into OVERDUE gets an
// immediate evaluation instead of waiting for the next cycle.
func (s *MonitorService) OnInvoiceStatusChanged(ctx context.Context, invoiceID string, from, to repository.InvoiceStatus) error {
	switch to {
	case repository.InvoiceStatusPaid:
		return s.stopAllForInvoice(ctx, invoiceID, dunning.StopReasonInvoicePaid)
	case repository.InvoiceStatusWrittenOff:
		return s.stopAllForInvoice(ctx, invoiceID, dunning.StopReasonWrittenOff)
	case repository.InvoiceStatusOverdue:
		return s.evaluateInvoiceNow(ctx, invoiceID)
	}
	return nil
}

// OnStopSignal records an externally observed signal (e.g. a customer
// reply) for an invoice. Executions are not stopped here; the signal takes
// effect when a step carrying the matching stop tag comes up.
func (s *MonitorService) OnStopSignal(ctx context.Context, invoiceID, signal string) error {
	if invoiceID == "" || signal == "" {
		return apperrors.InvalidInput("signal", "invoice id and signal are required")
	}

	if err := s.signals.Append(ctx, &repository.StopSignal{
		ID:        s.newID(),
		InvoiceID: invoiceID,
		Signal:    signal,
	}); err != nil {
		return err
	}

	s.log.Info().
		Str("invoice_id", invoiceID).
		Str("signal", signal).
		Msg("Stop signal recorded")
	return nil
}

func (s *MonitorService) stopAllForInvoice(ctx context.Context, invoiceID, reason string) error {
	active, err := s.exec.executions.ListActiveForInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	for _, rec := range active {
		if err := s.exec.Stop(ctx, rec.SequenceID, invoiceID, reason); err != nil {
			return err
		}
	}
	if len(active) > 0 {
		s.log.Info().
			Str("invoice_id", invoiceID).
			Int("stopped", len(active)).
			Str("reason", reason).
			Msg("Stopped executions for invoice")
	}
	return nil
}

// evaluateInvoiceNow runs overdue-type rules for a single invoice without
// waiting for the scheduler.
func (s *MonitorService) evaluateInvoiceNow(ctx context.Context, invoiceID string) error {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}

	now := s.now()
	deferAll, err := s.shouldDefer(ctx, now)
	if err != nil {
		return err
	}

	sequences, err := s.sequences.ListActive(ctx)
	if err != nil {
		return err
	}

	res := &CycleResult{Errors: []string{}}
	for _, seq := range sequences {
		if seq.CompanyID != inv.CompanyID || !dunning.ValidateSteps(seq.Steps) {
			continue
		}
		for _, rule := range dunning.ParseRules(seq, s.log) {
			if rule.Type != repository.TriggerOverdueDays {
				continue
			}
			if err := s.evaluateCandidate(ctx, seq, rule, inv, now, deferAll, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// ── Audit ─────────────────────────────────────────────────────────────────────

// appendAudit records a trigger evaluation outcome. Audit failures are
// logged and swallowed: the trail must never block the operation it records.
func (s *MonitorService) appendAudit(
	ctx context.Context,
	seq *repository.SequenceDefinition,
	inv *repository.Invoice,
	triggerType repository.TriggerType,
	outcome repository.TriggerOutcome,
	reason, actor string,
	metadata map[string]interface{},
) {
	entry := &repository.TriggerEvent{
		ID:          s.newID(),
		SequenceID:  seq.ID,
		InvoiceID:   inv.ID,
		CompanyID:   seq.CompanyID,
		TriggerType: triggerType,
		Outcome:     outcome,
		Reason:      reason,
		Actor:       actor,
		Metadata:    metadata,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("sequence_id", seq.ID).
			Str("invoice_id", inv.ID).
			Str("outcome", string(outcome)).
			Msg("Failed to append trigger audit entry")
	}
}
