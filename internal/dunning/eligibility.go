package dunning

import (
	"fmt"
	"time"

	"github.com/finflow-ai/be-ar-dunning/internal/repository"
)

// EligibilityConfig bounds which invoices are worth automated follow-up.
type EligibilityConfig struct {
	// MinOutstanding is the smallest unpaid amount (cents) that justifies
	// an automated message.
	MinOutstanding int64
	// RecentPaymentWindow suppresses follow-up when any payment landed
	// this recently; payment activity means the account is in flux.
	RecentPaymentWindow time.Duration
}

// CheckEligibility runs the per-invoice gate that is independent of rule
// conditions. Returns ok=false with a human-readable reason for the audit
// trail.
func CheckEligibility(inv *repository.Invoice, cfg EligibilityConfig, now time.Time) (ok bool, reason string) {
	if rest := Outstanding(inv); rest < cfg.MinOutstanding {
		return false, fmt.Sprintf("outstanding amount %d below minimum %d", rest, cfg.MinOutstanding)
	}

	if cfg.RecentPaymentWindow > 0 {
		if last := LastPaymentAt(inv); !last.IsZero() && now.Sub(last) < cfg.RecentPaymentWindow {
			return false, fmt.Sprintf("payment recorded %s ago", now.Sub(last).Round(time.Minute))
		}
	}

	return true, ""
}
