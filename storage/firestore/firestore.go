// Package firestore provides a Firestore implementation of the subsync.Store
// interface, using transactions for the observed-time comparison and the
// counter's reset-then-increment sequence.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// Store implements subsync.Store using Google Cloud Firestore
type Store struct {
	client                *firestore.Client
	subscribersCollection string
	historyCollection     string
	watermarksCollection  string
}

// Config holds Firestore store configuration
type Config struct {
	// SubscribersCollection is the Firestore collection for subscriber state
	// Default: "billing_subscribers"
	SubscribersCollection string

	// HistoryCollection is the Firestore collection for the append-only
	// event history
	// Default: "billing_subscription_history"
	HistoryCollection string

	// WatermarksCollection is the Firestore collection holding the newest
	// observed time per subscription ref
	// Default: "billing_subscription_watermarks"
	WatermarksCollection string
}

// New creates a new Firestore store adapter
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SubscribersCollection == "" {
		config.SubscribersCollection = "billing_subscribers"
	}
	if config.HistoryCollection == "" {
		config.HistoryCollection = "billing_subscription_history"
	}
	if config.WatermarksCollection == "" {
		config.WatermarksCollection = "billing_subscription_watermarks"
	}

	return &Store{
		client:                client,
		subscribersCollection: config.SubscribersCollection,
		historyCollection:     config.HistoryCollection,
		watermarksCollection:  config.WatermarksCollection,
	}, nil
}

// GetSubscriber implements subsync.Store
func (s *Store) GetSubscriber(ctx context.Context, userID string) (*subsync.Subscriber, error) {
	snap, err := s.subscriberDoc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, subsync.ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	if !snap.Exists() {
		return nil, subsync.ErrSubscriberNotFound
	}
	return subscriberFromDoc(userID, snap.Data()), nil
}

// ApplyEvent implements subsync.Store
func (s *Store) ApplyEvent(ctx context.Context, req *subsync.ApplyRequest) (*subsync.ApplyResult, error) {
	if req == nil || req.UserID == "" {
		return nil, subsync.ErrMissingUserID
	}
	if req.SubscriptionRef == "" {
		return nil, subsync.ErrMissingSubscriptionRef
	}

	subDoc := s.subscriberDoc(req.UserID)
	wmDoc := s.client.Collection(s.watermarksCollection).Doc(req.SubscriptionRef)
	histDoc := s.client.Collection(s.historyCollection).NewDoc()

	var result subsync.ApplyResult

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		// Firestore transactions require all reads before any write.
		var newest time.Time
		wmSnap, err := tx.Get(wmDoc)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read watermark: %w", err)
		}
		if err == nil && wmSnap.Exists() {
			if v, ok := wmSnap.Data()["observedAt"].(time.Time); ok {
				newest = v
			}
		}

		var sub *subsync.Subscriber
		subSnap, err := tx.Get(subDoc)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read subscriber: %w", err)
		}
		if err == nil && subSnap.Exists() {
			sub = subscriberFromDoc(req.UserID, subSnap.Data())
		}

		// History is append-only and unconditional.
		if err := tx.Create(histDoc, map[string]interface{}{
			"subscriptionRef": req.SubscriptionRef,
			"userId":          req.UserID,
			"rawStatus":       req.RawStatus,
			"status":          string(req.Status),
			"observedAt":      req.ObservedAt,
			"eventId":         req.EventID,
		}); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}

		if !newest.IsZero() && req.ObservedAt.Before(newest) {
			result = subsync.ApplyResult{Subscriber: sub, Stale: true}
			return nil
		}

		if err := tx.Set(wmDoc, map[string]interface{}{
			"observedAt": req.ObservedAt,
		}); err != nil {
			return fmt.Errorf("failed to advance watermark: %w", err)
		}

		if sub == nil {
			sub = &subsync.Subscriber{
				UserID:        req.UserID,
				PlanTier:      subsync.PlanFree,
				Status:        subsync.StatusNone,
				PeriodResetAt: subsync.NextMonthStart(req.ObservedAt),
			}
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

		if err := tx.Set(subDoc, subscriberToDoc(sub)); err != nil {
			return fmt.Errorf("failed to write subscriber: %w", err)
		}

		result = subsync.ApplyResult{Subscriber: sub, Stale: false}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// SubscriptionHistory implements subsync.Store
func (s *Store) SubscriptionHistory(ctx context.Context, subscriptionRef string, limit int) ([]*subsync.HistoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	snaps, err := s.client.Collection(s.historyCollection).
		Where("subscriptionRef", "==", subscriptionRef).
		OrderBy("observedAt", firestore.Desc).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	records := make([]*subsync.HistoryRecord, 0, len(snaps))
	for _, snap := range snaps {
		data := snap.Data()
		records = append(records, &subsync.HistoryRecord{
			SubscriptionRef: getString(data, "subscriptionRef"),
			UserID:          getString(data, "userId"),
			RawStatus:       getString(data, "rawStatus"),
			Status:          subsync.CanonicalStatus(getString(data, "status")),
			ObservedAt:      getTime(data, "observedAt"),
			EventID:         getString(data, "eventId"),
		})
	}
	return records, nil
}

// ConsumeInvoiceCredit implements subsync.Store
func (s *Store) ConsumeInvoiceCredit(ctx context.Context, req *subsync.ConsumeRequest) (*subsync.QuotaDecision, error) {
	if req == nil || req.UserID == "" {
		return nil, subsync.ErrMissingUserID
	}
	return s.runCounter(ctx, req.UserID, req.Limit, req.Now, true)
}

// PeekInvoiceUsage implements subsync.Store
func (s *Store) PeekInvoiceUsage(ctx context.Context, userID string, now time.Time) (*subsync.QuotaDecision, error) {
	if userID == "" {
		return nil, subsync.ErrMissingUserID
	}
	return s.runCounter(ctx, userID, 0, now, false)
}

func (s *Store) runCounter(ctx context.Context, userID string, limit int, now time.Time, increment bool) (*subsync.QuotaDecision, error) {
	subDoc := s.subscriberDoc(userID)

	var dec subsync.QuotaDecision

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var sub *subsync.Subscriber
		snap, err := tx.Get(subDoc)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read subscriber: %w", err)
		}
		if err == nil && snap.Exists() {
			sub = subscriberFromDoc(userID, snap.Data())
		} else {
			sub = &subsync.Subscriber{
				UserID:        userID,
				PlanTier:      subsync.PlanFree,
				Status:        subsync.StatusNone,
				PeriodResetAt: subsync.NextMonthStart(now),
				UpdatedAt:     now,
			}
		}

		if !now.Before(sub.PeriodResetAt) {
			sub.InvoiceCount = 0
			sub.PeriodResetAt = subsync.NextMonthStart(now)
		}

		dec = subsync.QuotaDecision{ResetAt: sub.PeriodResetAt}
		if increment {
			switch {
			case limit == subsync.Unlimited:
				sub.InvoiceCount++
				dec.Allowed = true
				dec.Remaining = subsync.Unlimited
			case sub.InvoiceCount < limit:
				sub.InvoiceCount++
				dec.Allowed = true
				dec.Remaining = limit - sub.InvoiceCount
			default:
				dec.Allowed = false
				dec.Remaining = 0
			}
			sub.UpdatedAt = now
		}
		dec.Used = sub.InvoiceCount

		if err := tx.Set(subDoc, subscriberToDoc(sub)); err != nil {
			return fmt.Errorf("failed to write subscriber: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &dec, nil
}

// Close closes the Firestore client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) subscriberDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.subscribersCollection).Doc(userID)
}

func subscriberToDoc(sub *subsync.Subscriber) map[string]interface{} {
	data := map[string]interface{}{
		"email":            sub.Email,
		"planTier":         string(sub.PlanTier),
		"status":           string(sub.Status),
		"customerRef":      sub.CustomerRef,
		"subscriptionRef":  sub.SubscriptionRef,
		"invoiceCount":     sub.InvoiceCount,
		"periodResetAt":    sub.PeriodResetAt,
		"updatedAt":        sub.UpdatedAt,
		"lastEventId":      sub.LastEventID,
		"portalUrl":        sub.PortalURL,
		"updatePaymentUrl": sub.UpdatePaymentURL,
	}
	if sub.CurrentPeriodEnd != nil {
		data["currentPeriodEnd"] = *sub.CurrentPeriodEnd
	}
	return data
}

func subscriberFromDoc(userID string, data map[string]interface{}) *subsync.Subscriber {
	sub := &subsync.Subscriber{
		UserID:           userID,
		Email:            getString(data, "email"),
		PlanTier:         subsync.PlanTier(getString(data, "planTier")),
		Status:           subsync.CanonicalStatus(getString(data, "status")),
		CustomerRef:      getString(data, "customerRef"),
		SubscriptionRef:  getString(data, "subscriptionRef"),
		InvoiceCount:     getInt(data, "invoiceCount"),
		PeriodResetAt:    getTime(data, "periodResetAt"),
		UpdatedAt:        getTime(data, "updatedAt"),
		LastEventID:      getString(data, "lastEventId"),
		PortalURL:        getString(data, "portalUrl"),
		UpdatePaymentURL: getString(data, "updatePaymentUrl"),
	}
	if sub.PlanTier == "" {
		sub.PlanTier = subsync.PlanFree
	}
	if sub.Status == "" {
		sub.Status = subsync.StatusNone
	}
	if v, ok := data["currentPeriodEnd"].(time.Time); ok && !v.IsZero() {
		sub.CurrentPeriodEnd = &v
	}
	return sub
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getInt(data map[string]interface{}, key string) int {
	if v, ok := data[key].(int64); ok {
		return int(v)
	}
	return 0
}
