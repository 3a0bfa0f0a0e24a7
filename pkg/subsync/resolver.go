package subsync

import "time"

// Resolve derives the entitlement set from the canonical subscription state.
// It is a pure function: no I/O, no clock reads, deterministic for a given
// input tuple, so the server-authoritative check and any client-side mirror
// can share the exact same logic.
//
// A subscriber is pro iff their plan is pro AND the canonical status is
// entitling. A cancelled subscription stays entitling until the paid period
// elapses (grace period), which is why the caller must pass now explicitly.
func Resolve(plan PlanTier, status CanonicalStatus, periodEnd *time.Time, now time.Time) Entitlements {
	if plan == PlanPro && entitling(status, periodEnd, now) {
		return Entitlements{
			EffectivePlan:        PlanPro,
			MaxInvoicesPerPeriod: Unlimited,
			CustomExchangeRate:   true,
			InvoiceSharing:       true,
			RemoveBranding:       true,
		}
	}
	return Entitlements{
		EffectivePlan:        PlanFree,
		MaxInvoicesPerPeriod: FreeInvoiceLimit,
	}
}

func entitling(status CanonicalStatus, periodEnd *time.Time, now time.Time) bool {
	switch status {
	case StatusActive, StatusOnTrial, StatusPaused:
		return true
	case StatusCancelled:
		// Grace period: the user keeps access until the paid period runs out.
		return periodEnd != nil && periodEnd.After(now)
	}
	return false
}
