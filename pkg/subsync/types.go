package subsync

import (
	"context"
	"time"
)

// PlanTier identifies the plan a subscriber is on.
type PlanTier string

const (
	// PlanFree is the default tier for users without a paid subscription
	PlanFree PlanTier = "free"
	// PlanPro is the paid tier
	PlanPro PlanTier = "pro"
)

// CanonicalStatus is the provider-agnostic subscription state.
// Provider status strings are mapped into this vocabulary exactly once,
// at the ingestion boundary.
type CanonicalStatus string

const (
	StatusActive    CanonicalStatus = "active"
	StatusOnTrial   CanonicalStatus = "on_trial"
	StatusPaused    CanonicalStatus = "paused"
	StatusPastDue   CanonicalStatus = "past_due"
	StatusUnpaid    CanonicalStatus = "unpaid"
	StatusCancelled CanonicalStatus = "cancelled"
	StatusExpired   CanonicalStatus = "expired"
	// StatusNone is the state of a subscriber that has never had a subscription
	StatusNone CanonicalStatus = "none"
)

// Valid reports whether s is a member of the canonical vocabulary.
func (s CanonicalStatus) Valid() bool {
	switch s {
	case StatusActive, StatusOnTrial, StatusPaused, StatusPastDue,
		StatusUnpaid, StatusCancelled, StatusExpired, StatusNone:
		return true
	}
	return false
}

// Unlimited marks a quota with no upper bound.
const Unlimited = -1

// FreeInvoiceLimit is the number of invoices a free-tier user may create
// per calendar month.
const FreeInvoiceLimit = 5

// Subscriber is the canonical per-user subscription record.
type Subscriber struct {
	UserID string
	Email  string

	PlanTier PlanTier
	Status   CanonicalStatus

	// CustomerRef and SubscriptionRef are provider-issued identifiers,
	// stored verbatim and never parsed.
	CustomerRef     string
	SubscriptionRef string

	// CurrentPeriodEnd is when the current paid period elapses (nil if unknown).
	// After a cancellation this bounds the grace period.
	CurrentPeriodEnd *time.Time

	// InvoiceCount is the number of invoices created in the current
	// calendar month. PeriodResetAt is the first instant of the next
	// calendar month; the counter resets lazily when it is crossed.
	InvoiceCount  int
	PeriodResetAt time.Time

	UpdatedAt   time.Time
	LastEventID string

	// Provider-hosted URLs, stored verbatim for the product surface.
	PortalURL        string
	UpdatePaymentURL string
}

// HistoryRecord is an append-only audit record, one per reconciled event.
// Records are never mutated or deleted; they also carry the observed times
// that drive last-writer-wins conflict resolution.
type HistoryRecord struct {
	SubscriptionRef string
	UserID          string
	RawStatus       string
	Status          CanonicalStatus
	ObservedAt      time.Time
	EventID         string
}

// Entitlements is the derived set of plan-gated capabilities for a user.
type Entitlements struct {
	EffectivePlan PlanTier

	// MaxInvoicesPerPeriod is the monthly invoice-creation quota
	// (Unlimited for pro).
	MaxInvoicesPerPeriod int

	CustomExchangeRate bool
	InvoiceSharing     bool
	RemoveBranding     bool
}

// ApplyRequest carries one normalized provider event into the store.
type ApplyRequest struct {
	UserID          string
	SubscriptionRef string
	CustomerRef     string
	Email           string

	RawStatus string
	Status    CanonicalStatus
	PlanTier  PlanTier

	CurrentPeriodEnd *time.Time

	// ObservedAt is the event's semantic timestamp from the provider,
	// not its arrival time. Events are applied last-writer-wins on it.
	ObservedAt time.Time
	EventID    string

	PortalURL        string
	UpdatePaymentURL string
}

// ApplyResult is the outcome of applying an event.
type ApplyResult struct {
	// Subscriber is the canonical record after the apply.
	Subscriber *Subscriber

	// Stale is true when the event was older than the newest history
	// record for its subscription and therefore only recorded for audit.
	Stale bool
}

// ConsumeRequest asks the store for one invoice-creation credit.
type ConsumeRequest struct {
	UserID string

	// Limit is the quota for the current period (Unlimited disables the check).
	Limit int

	Now time.Time
}

// QuotaDecision is the result of a quota check.
type QuotaDecision struct {
	Allowed bool

	// Remaining is the quota left after the decision (Unlimited for pro).
	Remaining int

	Used    int
	ResetAt time.Time
}

// ChangeEvent notifies subscribers of the change feed that a user's
// effective plan flipped.
type ChangeEvent struct {
	UserID          string
	SubscriptionRef string
	PreviousPlan    PlanTier
	NewPlan         PlanTier
	Status          CanonicalStatus
	ObservedAt      time.Time
	EventID         string
}

// ChangeHandler is called after an event that flipped the effective plan
// has been persisted. The engine does not assume any transport; push it
// to a websocket, a message bus, or drop it.
type ChangeHandler func(ctx context.Context, ev ChangeEvent) error

// Config holds engine configuration.
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking engine operations (default: NoopMetrics)
	Metrics Metrics

	// OnChange is an optional change-feed hook (see ChangeHandler)
	OnChange ChangeHandler

	// Now overrides the clock, for tests. Defaults to time.Now UTC.
	Now func() time.Time
}
