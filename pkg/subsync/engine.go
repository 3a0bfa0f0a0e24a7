package subsync

import (
	"context"
	"time"
)

// Engine reconciles billing-provider events into canonical subscriber state
// and answers entitlement and quota queries from the product surface.
type Engine struct {
	store  Store
	config Config
}

// NewEngine creates a new engine on top of the given store.
func NewEngine(store Store, config Config) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Engine{
		store:  store,
		config: config,
	}, nil
}

// ApplyEvent reconciles one normalized provider event. Events without a user
// correlation id never touch the store. Duplicate and out-of-order deliveries
// are safe: the store applies last-writer-wins by observed time and a stale
// event only lands in history.
func (e *Engine) ApplyEvent(ctx context.Context, req *ApplyRequest) (*ApplyResult, error) {
	if req == nil || req.UserID == "" {
		return nil, ErrMissingUserID
	}
	if req.SubscriptionRef == "" {
		return nil, ErrMissingSubscriptionRef
	}
	if !req.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if req.ObservedAt.IsZero() {
		req.ObservedAt = e.config.Now()
	}

	// Snapshot the previous effective plan for change detection.
	previousPlan := PlanFree
	prev, err := e.store.GetSubscriber(ctx, req.UserID)
	if err != nil && err != ErrSubscriberNotFound {
		return nil, err
	}
	now := e.config.Now()
	if prev != nil {
		previousPlan = Resolve(prev.PlanTier, prev.Status, prev.CurrentPeriodEnd, now).EffectivePlan
	}

	start := time.Now()
	res, err := e.store.ApplyEvent(ctx, req)
	e.config.Metrics.RecordStoreOpDuration("apply_event", time.Since(start))
	if err != nil {
		e.config.Metrics.RecordStoreOpError("apply_event")
		return nil, err
	}

	outcome := "applied"
	if res.Stale {
		outcome = "stale"
	}
	e.config.Metrics.RecordEventApplied(string(req.Status), outcome)
	e.config.Logger.Info("subscription event reconciled",
		Field{Key: "user_id", Value: req.UserID},
		Field{Key: "subscription_ref", Value: req.SubscriptionRef},
		Field{Key: "status", Value: string(req.Status)},
		Field{Key: "event_id", Value: req.EventID},
		Field{Key: "stale", Value: res.Stale},
	)

	if res.Stale {
		return res, nil
	}

	newPlan := Resolve(res.Subscriber.PlanTier, res.Subscriber.Status, res.Subscriber.CurrentPeriodEnd, now).EffectivePlan
	if newPlan != previousPlan {
		e.config.Metrics.RecordPlanChange(string(previousPlan), string(newPlan))
		if e.config.OnChange != nil {
			ev := ChangeEvent{
				UserID:          req.UserID,
				SubscriptionRef: req.SubscriptionRef,
				PreviousPlan:    previousPlan,
				NewPlan:         newPlan,
				Status:          res.Subscriber.Status,
				ObservedAt:      req.ObservedAt,
				EventID:         req.EventID,
			}
			if cbErr := e.config.OnChange(ctx, ev); cbErr != nil {
				// The event is already persisted; a change-feed failure
				// must not turn the delivery into an error.
				e.config.Logger.Warn("change handler failed",
					Field{Key: "user_id", Value: req.UserID},
					Field{Key: "error", Value: cbErr.Error()},
				)
			}
		}
	}

	return res, nil
}

// GetEntitlements resolves the current entitlement set for a user.
// Users without any subscription record resolve to free-tier entitlements.
func (e *Engine) GetEntitlements(ctx context.Context, userID string) (Entitlements, error) {
	sub, err := e.store.GetSubscriber(ctx, userID)
	if err == ErrSubscriberNotFound {
		return Resolve(PlanFree, StatusNone, nil, e.config.Now()), nil
	}
	if err != nil {
		return Entitlements{}, err
	}
	return Resolve(sub.PlanTier, sub.Status, sub.CurrentPeriodEnd, e.config.Now()), nil
}

// GetSubscriber returns the canonical record for a user.
func (e *Engine) GetSubscriber(ctx context.Context, userID string) (*Subscriber, error) {
	return e.store.GetSubscriber(ctx, userID)
}

// IncrementAndCheck consumes one invoice-creation credit for the user.
// The quota limit comes from the resolved entitlements, so pro users always
// pass; the counter is still advanced for them, for audit.
func (e *Engine) IncrementAndCheck(ctx context.Context, userID string) (*QuotaDecision, error) {
	ent, err := e.GetEntitlements(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	dec, err := e.store.ConsumeInvoiceCredit(ctx, &ConsumeRequest{
		UserID: userID,
		Limit:  ent.MaxInvoicesPerPeriod,
		Now:    e.config.Now(),
	})
	e.config.Metrics.RecordStoreOpDuration("consume_credit", time.Since(start))
	if err != nil {
		e.config.Metrics.RecordStoreOpError("consume_credit")
		return nil, err
	}

	e.config.Metrics.RecordQuotaDecision(string(ent.EffectivePlan), dec.Allowed)
	return dec, nil
}

// PeekRemaining returns the remaining invoice quota without consuming.
// Returns Unlimited for pro users.
func (e *Engine) PeekRemaining(ctx context.Context, userID string) (int, error) {
	ent, err := e.GetEntitlements(ctx, userID)
	if err != nil {
		return 0, err
	}
	if ent.MaxInvoicesPerPeriod == Unlimited {
		return Unlimited, nil
	}

	dec, err := e.store.PeekInvoiceUsage(ctx, userID, e.config.Now())
	if err != nil {
		return 0, err
	}
	remaining := ent.MaxInvoicesPerPeriod - dec.Used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Usage returns the current invoice counter standing without consuming.
// Remaining is computed against the resolved entitlements.
func (e *Engine) Usage(ctx context.Context, userID string) (*QuotaDecision, error) {
	ent, err := e.GetEntitlements(ctx, userID)
	if err != nil {
		return nil, err
	}

	dec, err := e.store.PeekInvoiceUsage(ctx, userID, e.config.Now())
	if err != nil {
		return nil, err
	}

	if ent.MaxInvoicesPerPeriod == Unlimited {
		dec.Remaining = Unlimited
	} else {
		remaining := ent.MaxInvoicesPerPeriod - dec.Used
		if remaining < 0 {
			remaining = 0
		}
		dec.Remaining = remaining
	}
	return dec, nil
}

// History returns the reconciliation audit trail for a subscription,
// newest first.
func (e *Engine) History(ctx context.Context, subscriptionRef string, limit int) ([]*HistoryRecord, error) {
	return e.store.SubscriptionHistory(ctx, subscriptionRef, limit)
}
