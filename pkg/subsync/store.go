package subsync

import (
	"context"
	"time"
)

// Store defines the interface for the reconciliation store.
// All methods use concrete types from this package to avoid import cycles.
//
// Implementations must serialize ApplyEvent calls for the same subscription
// ref and make ConsumeInvoiceCredit a single atomic read-modify-write per
// user; the engine relies on both for its consistency guarantees.
type Store interface {
	// GetSubscriber retrieves the canonical record for a user.
	// Returns ErrSubscriberNotFound when the user has never been seen.
	GetSubscriber(ctx context.Context, userID string) (*Subscriber, error)

	// ApplyEvent reconciles one event. A history record is appended
	// unconditionally; the Subscriber's canonical fields are overwritten
	// only when req.ObservedAt is >= the newest history record's observed
	// time for that subscription ref (last-writer-wins by observed time).
	// Older events are recorded for audit and reported as Stale.
	ApplyEvent(ctx context.Context, req *ApplyRequest) (*ApplyResult, error)

	// SubscriptionHistory returns history records for a subscription,
	// newest first, up to limit (0 means implementation default).
	SubscriptionHistory(ctx context.Context, subscriptionRef string, limit int) ([]*HistoryRecord, error)

	// ConsumeInvoiceCredit atomically applies the lazy calendar-month reset
	// and then increments the invoice counter if req.Limit permits.
	// The reset and the allow-decision happen under the same lock so two
	// concurrent callers can never both observe a pre-reset count.
	ConsumeInvoiceCredit(ctx context.Context, req *ConsumeRequest) (*QuotaDecision, error)

	// PeekInvoiceUsage applies the same lazy reset but does not increment.
	PeekInvoiceUsage(ctx context.Context, userID string, now time.Time) (*QuotaDecision, error)
}
