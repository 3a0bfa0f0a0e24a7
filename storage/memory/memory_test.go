package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

func applyReq(userID, ref, eventID string, status subsync.CanonicalStatus, observed time.Time) *subsync.ApplyRequest {
	return &subsync.ApplyRequest{
		UserID:          userID,
		SubscriptionRef: ref,
		RawStatus:       string(status),
		Status:          status,
		PlanTier:        subsync.PlanPro,
		ObservedAt:      observed,
		EventID:         eventID,
	}
}

func TestApplyEvent_CreatesSubscriber(t *testing.T) {
	store := New()
	ctx := context.Background()
	observed := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	res, err := store.ApplyEvent(ctx, applyReq("user1", "sub_1", "e1", subsync.StatusActive, observed))
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if res.Stale {
		t.Fatal("first event must not be stale")
	}

	sub := res.Subscriber
	if sub.UserID != "user1" || sub.PlanTier != subsync.PlanPro || sub.Status != subsync.StatusActive {
		t.Errorf("unexpected subscriber: %+v", sub)
	}
	if !sub.PeriodResetAt.Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected period reset at July 1st, got %s", sub.PeriodResetAt)
	}
	if sub.InvoiceCount != 0 {
		t.Errorf("new subscriber must start with zero invoices, got %d", sub.InvoiceCount)
	}
}

func TestApplyEvent_Validation(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.ApplyEvent(ctx, nil); err != subsync.ErrMissingUserID {
		t.Errorf("expected ErrMissingUserID for nil request, got %v", err)
	}
	if _, err := store.ApplyEvent(ctx, applyReq("", "sub_1", "e1", subsync.StatusActive, now)); err != subsync.ErrMissingUserID {
		t.Errorf("expected ErrMissingUserID, got %v", err)
	}
	if _, err := store.ApplyEvent(ctx, applyReq("user1", "", "e1", subsync.StatusActive, now)); err != subsync.ErrMissingSubscriptionRef {
		t.Errorf("expected ErrMissingSubscriptionRef, got %v", err)
	}
}

func TestApplyEvent_LastWriterWins(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	if _, err := store.ApplyEvent(ctx, applyReq("user1", "sub_1", "e2", subsync.StatusCancelled, base.Add(time.Hour))); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}

	res, err := store.ApplyEvent(ctx, applyReq("user1", "sub_1", "e1", subsync.StatusActive, base))
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if !res.Stale {
		t.Fatal("older event must be stale")
	}
	if res.Subscriber.Status != subsync.StatusCancelled {
		t.Errorf("stale result must carry canonical state, got %s", res.Subscriber.Status)
	}

	// Equal observed time applies (idempotent redelivery).
	res, err = store.ApplyEvent(ctx, applyReq("user1", "sub_1", "e2", subsync.StatusCancelled, base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if res.Stale {
		t.Fatal("equal-time redelivery must not be stale")
	}
}

func TestApplyEvent_PreservesCounterAcrossUpdates(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	if _, err := store.ApplyEvent(ctx, applyReq("user1", "sub_1", "e1", subsync.StatusActive, base)); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{
			UserID: "user1", Limit: subsync.Unlimited, Now: base,
		}); err != nil {
			t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
		}
	}

	res, err := store.ApplyEvent(ctx, applyReq("user1", "sub_1", "e2", subsync.StatusActive, base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if res.Subscriber.InvoiceCount != 3 {
		t.Errorf("billing events must not reset the counter, got %d", res.Subscriber.InvoiceCount)
	}
}

func TestApplyEvent_PortalURLsOnlyOverwrittenWhenPresent(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	first := applyReq("user1", "sub_1", "e1", subsync.StatusActive, base)
	first.PortalURL = "https://portal.example.com/sub"
	first.UpdatePaymentURL = "https://portal.example.com/pay"
	if _, err := store.ApplyEvent(ctx, first); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}

	// Later event without URLs must not blank them.
	res, err := store.ApplyEvent(ctx, applyReq("user1", "sub_1", "e2", subsync.StatusActive, base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if res.Subscriber.PortalURL != "https://portal.example.com/sub" {
		t.Errorf("portal URL was blanked: %q", res.Subscriber.PortalURL)
	}
	if res.Subscriber.UpdatePaymentURL != "https://portal.example.com/pay" {
		t.Errorf("update payment URL was blanked: %q", res.Subscriber.UpdatePaymentURL)
	}
}

func TestSubscriptionHistory_NewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ev := applyReq("user1", "sub_1", "e"+string(rune('1'+i)), subsync.StatusActive, base.Add(time.Duration(i)*time.Minute))
		if _, err := store.ApplyEvent(ctx, ev); err != nil {
			t.Fatalf("ApplyEvent failed: %v", err)
		}
	}

	records, err := store.SubscriptionHistory(ctx, "sub_1", 3)
	if err != nil {
		t.Fatalf("SubscriptionHistory failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].ObservedAt.After(records[i-1].ObservedAt) {
			t.Fatal("history must be newest first")
		}
	}
	if records[0].EventID != "e5" {
		t.Errorf("expected newest record first, got %s", records[0].EventID)
	}
}

func TestConsumeInvoiceCredit_ImplicitFreeSubscriber(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	// Users can create invoices before any billing event has been seen.
	dec, err := store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{
		UserID: "user1", Limit: subsync.FreeInvoiceLimit, Now: now,
	})
	if err != nil {
		t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
	}
	if !dec.Allowed || dec.Used != 1 {
		t.Errorf("unexpected decision: %+v", dec)
	}

	sub, err := store.GetSubscriber(ctx, "user1")
	if err != nil {
		t.Fatalf("GetSubscriber failed: %v", err)
	}
	if sub.PlanTier != subsync.PlanFree || sub.Status != subsync.StatusNone {
		t.Errorf("implicit subscriber must be free/none, got %s/%s", sub.PlanTier, sub.Status)
	}
}

func TestConsumeInvoiceCredit_LimitAndReset(t *testing.T) {
	store := New()
	ctx := context.Background()
	june := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if _, err := store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{
			UserID: "user1", Limit: 2, Now: june,
		}); err != nil {
			t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
		}
	}

	dec, err := store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{UserID: "user1", Limit: 2, Now: june})
	if err != nil {
		t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected denial at the limit")
	}
	if dec.Used != 2 || dec.Remaining != 0 {
		t.Errorf("denied decision must report current usage, got %+v", dec)
	}

	// Next month: lazy reset on first touch.
	july := time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC)
	dec, err = store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{UserID: "user1", Limit: 2, Now: july})
	if err != nil {
		t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
	}
	if !dec.Allowed || dec.Used != 1 {
		t.Errorf("expected fresh counter in July, got %+v", dec)
	}
	if !dec.ResetAt.Equal(time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected August reset, got %s", dec.ResetAt)
	}
}

func TestConsumeInvoiceCredit_UnlimitedStillCounts(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 10; i++ {
		dec, err := store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{
			UserID: "user1", Limit: subsync.Unlimited, Now: now,
		})
		if err != nil {
			t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
		}
		if !dec.Allowed {
			t.Fatal("unlimited must always allow")
		}
		if dec.Used != i {
			t.Errorf("counter must advance for audit, expected %d got %d", i, dec.Used)
		}
		if dec.Remaining != subsync.Unlimited {
			t.Errorf("expected unlimited remaining, got %d", dec.Remaining)
		}
	}
}

func TestPeekInvoiceUsage_DoesNotConsume(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	if _, err := store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{UserID: "user1", Limit: 5, Now: now}); err != nil {
		t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		dec, err := store.PeekInvoiceUsage(ctx, "user1", now)
		if err != nil {
			t.Fatalf("PeekInvoiceUsage failed: %v", err)
		}
		if dec.Used != 1 {
			t.Errorf("peek must not consume, got used=%d", dec.Used)
		}
	}
}

func TestGetSubscriber_NotFound(t *testing.T) {
	store := New()
	if _, err := store.GetSubscriber(context.Background(), "nobody"); err != subsync.ErrSubscriberNotFound {
		t.Fatalf("expected ErrSubscriberNotFound, got %v", err)
	}
}

func TestGetSubscriber_ReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	if _, err := store.ApplyEvent(ctx, applyReq("user1", "sub_1", "e1", subsync.StatusActive, now)); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}

	sub, _ := store.GetSubscriber(ctx, "user1")
	sub.Status = subsync.StatusExpired

	again, _ := store.GetSubscriber(ctx, "user1")
	if again.Status != subsync.StatusActive {
		t.Fatal("mutating a returned subscriber must not affect the store")
	}
}

func TestClear(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.ApplyEvent(ctx, applyReq("user1", "sub_1", "e1", subsync.StatusActive, now)); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	store.Clear()

	if _, err := store.GetSubscriber(ctx, "user1"); err != subsync.ErrSubscriberNotFound {
		t.Fatal("Clear must remove subscribers")
	}
	records, err := store.SubscriptionHistory(ctx, "sub_1", 0)
	if err != nil {
		t.Fatalf("SubscriptionHistory failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatal("Clear must remove history")
	}
}
