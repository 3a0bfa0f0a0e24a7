// Package memory provides an in-memory implementation of the subsync.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// Store implements subsync.Store using in-memory maps.
// A single mutex serializes event application and counter updates, which
// satisfies both the per-subscription ordering and the atomic
// reset-then-increment requirements.
type Store struct {
	mu          sync.Mutex
	subscribers map[string]*subsync.Subscriber
	history     map[string][]*subsync.HistoryRecord
	newest      map[string]time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		subscribers: make(map[string]*subsync.Subscriber),
		history:     make(map[string][]*subsync.HistoryRecord),
		newest:      make(map[string]time.Time),
	}
}

// GetSubscriber implements subsync.Store
func (s *Store) GetSubscriber(ctx context.Context, userID string) (*subsync.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[userID]
	if !ok {
		return nil, subsync.ErrSubscriberNotFound
	}

	// Return a copy to prevent external mutations
	subCopy := *sub
	return &subCopy, nil
}

// ApplyEvent implements subsync.Store
func (s *Store) ApplyEvent(ctx context.Context, req *subsync.ApplyRequest) (*subsync.ApplyResult, error) {
	if req == nil || req.UserID == "" {
		return nil, subsync.ErrMissingUserID
	}
	if req.SubscriptionRef == "" {
		return nil, subsync.ErrMissingSubscriptionRef
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// History is append-only and unconditional: stale events are still audit.
	s.history[req.SubscriptionRef] = append(s.history[req.SubscriptionRef], &subsync.HistoryRecord{
		SubscriptionRef: req.SubscriptionRef,
		UserID:          req.UserID,
		RawStatus:       req.RawStatus,
		Status:          req.Status,
		ObservedAt:      req.ObservedAt,
		EventID:         req.EventID,
	})

	newest, seen := s.newest[req.SubscriptionRef]
	if seen && req.ObservedAt.Before(newest) {
		// Older than the canonical state: record only, never regress.
		sub := s.subscribers[req.UserID]
		var subCopy *subsync.Subscriber
		if sub != nil {
			c := *sub
			subCopy = &c
		}
		return &subsync.ApplyResult{Subscriber: subCopy, Stale: true}, nil
	}
	s.newest[req.SubscriptionRef] = req.ObservedAt

	sub, ok := s.subscribers[req.UserID]
	if !ok {
		sub = &subsync.Subscriber{
			UserID:        req.UserID,
			PlanTier:      subsync.PlanFree,
			Status:        subsync.StatusNone,
			PeriodResetAt: subsync.NextMonthStart(req.ObservedAt),
		}
		s.subscribers[req.UserID] = sub
	}

	sub.Email = req.Email
	sub.PlanTier = req.PlanTier
	sub.Status = req.Status
	sub.CustomerRef = req.CustomerRef
	sub.SubscriptionRef = req.SubscriptionRef
	sub.CurrentPeriodEnd = req.CurrentPeriodEnd
	sub.UpdatedAt = req.ObservedAt
	sub.LastEventID = req.EventID
	if req.PortalURL != "" {
		sub.PortalURL = req.PortalURL
	}
	if req.UpdatePaymentURL != "" {
		sub.UpdatePaymentURL = req.UpdatePaymentURL
	}

	subCopy := *sub
	return &subsync.ApplyResult{Subscriber: &subCopy, Stale: false}, nil
}

// SubscriptionHistory implements subsync.Store
func (s *Store) SubscriptionHistory(ctx context.Context, subscriptionRef string, limit int) ([]*subsync.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.history[subscriptionRef]
	out := make([]*subsync.HistoryRecord, 0, len(records))
	// Newest first
	for i := len(records) - 1; i >= 0; i-- {
		rec := *records[i]
		out = append(out, &rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ConsumeInvoiceCredit implements subsync.Store
func (s *Store) ConsumeInvoiceCredit(ctx context.Context, req *subsync.ConsumeRequest) (*subsync.QuotaDecision, error) {
	if req == nil || req.UserID == "" {
		return nil, subsync.ErrMissingUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.ensureSubscriberLocked(req.UserID, req.Now)
	s.resetIfDueLocked(sub, req.Now)

	dec := &subsync.QuotaDecision{ResetAt: sub.PeriodResetAt}
	switch {
	case req.Limit == subsync.Unlimited:
		sub.InvoiceCount++
		dec.Allowed = true
		dec.Remaining = subsync.Unlimited
	case sub.InvoiceCount < req.Limit:
		sub.InvoiceCount++
		dec.Allowed = true
		dec.Remaining = req.Limit - sub.InvoiceCount
	default:
		dec.Allowed = false
		dec.Remaining = 0
	}
	dec.Used = sub.InvoiceCount
	sub.UpdatedAt = req.Now

	return dec, nil
}

// PeekInvoiceUsage implements subsync.Store
func (s *Store) PeekInvoiceUsage(ctx context.Context, userID string, now time.Time) (*subsync.QuotaDecision, error) {
	if userID == "" {
		return nil, subsync.ErrMissingUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.ensureSubscriberLocked(userID, now)
	s.resetIfDueLocked(sub, now)

	return &subsync.QuotaDecision{
		Used:    sub.InvoiceCount,
		ResetAt: sub.PeriodResetAt,
	}, nil
}

// ensureSubscriberLocked creates an implicit free-tier record for users that
// create invoices before any billing event has been seen.
func (s *Store) ensureSubscriberLocked(userID string, now time.Time) *subsync.Subscriber {
	sub, ok := s.subscribers[userID]
	if !ok {
		sub = &subsync.Subscriber{
			UserID:        userID,
			PlanTier:      subsync.PlanFree,
			Status:        subsync.StatusNone,
			PeriodResetAt: subsync.NextMonthStart(now),
			UpdatedAt:     now,
		}
		s.subscribers[userID] = sub
	}
	return sub
}

// resetIfDueLocked applies the lazy calendar-month reset. Idempotent:
// re-observing the boundary never double-resets because PeriodResetAt is
// advanced past now in the same step.
func (s *Store) resetIfDueLocked(sub *subsync.Subscriber, now time.Time) {
	if !now.Before(sub.PeriodResetAt) {
		sub.InvoiceCount = 0
		sub.PeriodResetAt = subsync.NextMonthStart(now)
	}
}

// Clear removes all data (useful for testing)
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[string]*subsync.Subscriber)
	s.history = make(map[string][]*subsync.HistoryRecord)
	s.newest = make(map[string]time.Time)
}
