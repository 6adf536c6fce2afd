package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finflow-ai/be-ar-dunning/internal/apperrors"
	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

func errNotFound(resource, id string) error {
	return apperrors.NotFound(resource, id)
}

// In-memory test doubles with overridable func fields. Each fake keeps just
// enough state for the state-machine assertions; anything not overridden
// behaves like an empty store.

type fakeSequenceStore struct {
	sequences map[string]*repository.SequenceDefinition
}

func newFakeSequenceStore(seqs ...*repository.SequenceDefinition) *fakeSequenceStore {
	m := make(map[string]*repository.SequenceDefinition)
	for _, s := range seqs {
		m[s.ID] = s
	}
	return &fakeSequenceStore{sequences: m}
}

func (f *fakeSequenceStore) ListActive(ctx context.Context) ([]*repository.SequenceDefinition, error) {
	var out []*repository.SequenceDefinition
	for _, s := range f.sequences {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSequenceStore) GetByID(ctx context.Context, id string) (*repository.SequenceDefinition, error) {
	if s, ok := f.sequences[id]; ok {
		return s, nil
	}
	return nil, errNotFound("sequence", id)
}

type fakeInvoiceStore struct {
	invoices   map[string]*repository.Invoice
	candidates []*repository.Invoice
}

func newFakeInvoiceStore(invs ...*repository.Invoice) *fakeInvoiceStore {
	m := make(map[string]*repository.Invoice)
	for _, inv := range invs {
		m[inv.ID] = inv
	}
	return &fakeInvoiceStore{invoices: m, candidates: invs}
}

func (f *fakeInvoiceStore) GetByID(ctx context.Context, id string) (*repository.Invoice, error) {
	if inv, ok := f.invoices[id]; ok {
		return inv, nil
	}
	return nil, errNotFound("invoice", id)
}

func (f *fakeInvoiceStore) ListCandidates(ctx context.Context, companyID string, triggerType repository.TriggerType, now time.Time, lookaheadDays, limit int) ([]*repository.Invoice, error) {
	var out []*repository.Invoice
	for _, inv := range f.candidates {
		if inv.CompanyID == companyID {
			out = append(out, inv)
		}
	}
	return out, nil
}

type fakeExecutionStore struct {
	mu      sync.Mutex
	records map[string]*repository.ExecutionRecord
}

func newFakeExecutionStore() *fakeExecutionStore {
	return &fakeExecutionStore{records: make(map[string]*repository.ExecutionRecord)}
}

func (f *fakeExecutionStore) Create(ctx context.Context, rec *repository.ExecutionRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.records {
		if existing.SequenceID == rec.SequenceID && existing.InvoiceID == rec.InvoiceID && !existing.Status.IsTerminal() {
			return false, nil
		}
	}
	cp := *rec
	f.records[rec.ID] = &cp
	return true, nil
}

func (f *fakeExecutionStore) GetByID(ctx context.Context, id string) (*repository.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, errNotFound("execution", id)
}

func (f *fakeExecutionStore) GetByPair(ctx context.Context, sequenceID, invoiceID string) (*repository.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *repository.ExecutionRecord
	for _, rec := range f.records {
		if rec.SequenceID == sequenceID && rec.InvoiceID == invoiceID {
			if latest == nil || rec.StartedAt.After(latest.StartedAt) {
				latest = rec
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeExecutionStore) ExistsSince(ctx context.Context, sequenceID, invoiceID string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.SequenceID == sequenceID && rec.InvoiceID == invoiceID && !rec.StartedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeExecutionStore) ListActiveForInvoice(ctx context.Context, invoiceID string) ([]*repository.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ExecutionRecord
	for _, rec := range f.records {
		if rec.InvoiceID == invoiceID && rec.Status == repository.ExecutionStatusActive {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeExecutionStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*repository.ExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ExecutionRecord
	for _, rec := range f.records {
		if rec.Status == repository.ExecutionStatusActive && rec.NextStepAt != nil && !rec.NextStepAt.After(now) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeExecutionStore) RecordStep(ctx context.Context, id string, step int, lastStepAt time.Time, nextStepAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return errNotFound("execution", id)
	}
	rec.CurrentStep = step
	rec.LastStepAt = &lastStepAt
	rec.NextStepAt = nextStepAt
	return nil
}

func (f *fakeExecutionStore) MarkStatus(ctx context.Context, id string, status repository.ExecutionStatus, stopReason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return errNotFound("execution", id)
	}
	rec.Status = status
	if stopReason != nil {
		rec.StopReason = stopReason
	}
	if status.IsTerminal() {
		rec.NextStepAt = nil
	}
	return nil
}

type fakeStepLogStore struct {
	mu      sync.Mutex
	entries []*repository.StepLogEntry
}

func (f *fakeStepLogStore) Append(ctx context.Context, e *repository.StepLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeStepLogStore) LastStep(ctx context.Context, executionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := 0
	for _, e := range f.entries {
		if e.ExecutionID == executionID && e.StepNumber > last {
			last = e.StepNumber
		}
	}
	return last, nil
}

func (f *fakeStepLogStore) LastTriggerAt(ctx context.Context, invoiceID string, triggerType repository.TriggerType) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *time.Time
	for _, e := range f.entries {
		if e.InvoiceID == invoiceID && e.TriggerType == triggerType {
			if last == nil || e.SentAt.After(*last) {
				t := e.SentAt
				last = &t
			}
		}
	}
	return last, nil
}

func (f *fakeStepLogStore) ListForExecution(ctx context.Context, executionID string) ([]*repository.StepLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.StepLogEntry
	for _, e := range f.entries {
		if e.ExecutionID == executionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*repository.TriggerEvent
	err     error
}

func (f *fakeAuditStore) Append(ctx context.Context, entry *repository.TriggerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := *entry
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeAuditStore) outcomes() []repository.TriggerOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.TriggerOutcome, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Outcome)
	}
	return out
}

type fakeSignalStore struct {
	mu      sync.Mutex
	signals map[string][]string
}

func (f *fakeSignalStore) Append(ctx context.Context, s *repository.StopSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signals == nil {
		f.signals = make(map[string][]string)
	}
	for _, existing := range f.signals[s.InvoiceID] {
		if existing == s.Signal {
			return nil
		}
	}
	f.signals[s.InvoiceID] = append(f.signals[s.InvoiceID], s.Signal)
	return nil
}

func (f *fakeSignalStore) ListForInvoice(ctx context.Context, invoiceID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signals == nil {
		return nil, nil
	}
	return f.signals[invoiceID], nil
}

// fakeCalendar permits everything unless told otherwise.
type fakeCalendar struct {
	permitted bool
	next      time.Time
	err       error
}

func allowAllCalendar() *fakeCalendar {
	return &fakeCalendar{permitted: true}
}

func (f *fakeCalendar) IsPermittedNow(ctx context.Context, t time.Time) (bool, error) {
	return f.permitted, f.err
}

func (f *fakeCalendar) NextPermittedInstant(ctx context.Context, t time.Time) (time.Time, error) {
	if f.err != nil {
		return time.Time{}, f.err
	}
	if f.next.IsZero() {
		return t, nil
	}
	return f.next, nil
}

type dispatchCall struct {
	Msg   RenderedMessage
	Hints DispatchHints
}

type fakeDispatcher struct {
	mu        sync.Mutex
	calls     []dispatchCall
	cancelled []string
	failures  int // first N calls fail
	err       error
	seq       int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg RenderedMessage, hints DispatchHints) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return "", f.err
	}
	f.calls = append(f.calls, dispatchCall{Msg: msg, Hints: hints})
	f.seq++
	return fmt.Sprintf("handle-%d", f.seq), nil
}

func (f *fakeDispatcher) Cancel(ctx context.Context, handle string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, handle)
	return true, nil
}

// sequentialIDs yields id-1, id-2, ... deterministically.
func sequentialIDs() IDGenerator {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}
