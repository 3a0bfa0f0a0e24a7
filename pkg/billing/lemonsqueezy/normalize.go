package lemonsqueezy

import (
	"strings"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// NormalizeStatus maps a provider event name and raw status string into the
// canonical vocabulary. Two steps: the raw status maps through a fixed table
// (unknown strings fail closed to cancelled), then the event name overrides
// it where the status field is known to lag the semantic event by one
// delivery.
func NormalizeStatus(eventName, rawStatus string) subsync.CanonicalStatus {
	status := mapRawStatus(rawStatus)

	switch {
	case strings.HasSuffix(eventName, "_payment_failed"):
		// Payment failure is the authoritative signal for revoking trust,
		// even when the status field has not caught up upstream.
		if status != subsync.StatusPastDue && status != subsync.StatusUnpaid {
			return subsync.StatusPastDue
		}
		return status

	case strings.HasSuffix(eventName, "_cancelled"):
		// Recorded as cancelled; the grace period until the paid period
		// elapses is the resolver's concern, not the normalizer's.
		return subsync.StatusCancelled

	case strings.HasSuffix(eventName, "_expired"):
		return subsync.StatusExpired

	case strings.HasSuffix(eventName, "_paused"):
		return subsync.StatusPaused
	}

	return status
}

func mapRawStatus(raw string) subsync.CanonicalStatus {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "active":
		return subsync.StatusActive
	case "on_trial":
		return subsync.StatusOnTrial
	case "paused":
		return subsync.StatusPaused
	case "past_due":
		return subsync.StatusPastDue
	case "unpaid":
		return subsync.StatusUnpaid
	case "cancelled", "canceled":
		return subsync.StatusCancelled
	case "expired":
		return subsync.StatusExpired
	default:
		// Fail closed toward non-entitlement, never open.
		return subsync.StatusCancelled
	}
}

// subscriptionEvents is the set of provider event names this engine
// reconciles. Anything else is acknowledged and ignored.
var subscriptionEvents = map[string]bool{
	"subscription_created":           true,
	"subscription_updated":           true,
	"subscription_cancelled":         true,
	"subscription_resumed":           true,
	"subscription_expired":           true,
	"subscription_paused":            true,
	"subscription_unpaused":          true,
	"subscription_payment_success":   true,
	"subscription_payment_failed":    true,
	"subscription_payment_recovered": true,
}
