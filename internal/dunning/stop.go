package dunning

import (
	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

// Stop reasons recorded on the execution and in the audit trail.
const (
	StopReasonPaymentReceived = "payment received"
	StopReasonInvoicePaid     = "invoice paid"
	StopReasonWrittenOff      = "invoice written off"
)

// StopDecision is the outcome of a stop-condition check before a step advance.
type StopDecision struct {
	Stop   bool
	Reason string
}

// EvaluateStop checks stop conditions in a fixed order — payments, then
// status, then custom stop tags — so the recorded reason is deterministic
// when several hold at once. stopTags come from the upcoming step; signals
// is the set of external signals currently present for the invoice.
func EvaluateStop(inv *repository.Invoice, stopTags []string, signals map[string]bool) StopDecision {
	if inv.TotalAmount > 0 && AmountPaid(inv) >= inv.TotalAmount {
		return StopDecision{Stop: true, Reason: StopReasonPaymentReceived}
	}

	switch inv.Status {
	case repository.InvoiceStatusPaid:
		return StopDecision{Stop: true, Reason: StopReasonInvoicePaid}
	case repository.InvoiceStatusWrittenOff:
		return StopDecision{Stop: true, Reason: StopReasonWrittenOff}
	}

	for _, tag := range stopTags {
		if signals[tag] {
			return StopDecision{Stop: true, Reason: "stop tag " + tag}
		}
	}

	return StopDecision{}
}
