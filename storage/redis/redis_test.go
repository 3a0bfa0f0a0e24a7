package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *goredis.Client {
	t.Helper()

	client := goredis.NewClient(&goredis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(setupTestRedis(t), DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Fatal("expected error for nil client")
	}

	store, err := New(setupTestRedis(t), Config{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if store.config.KeyPrefix != "subsync:" {
		t.Errorf("expected default key prefix, got %q", store.config.KeyPrefix)
	}
}

func TestApplyEvent_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	periodEnd := base.AddDate(0, 1, 0)

	res, err := store.ApplyEvent(ctx, &subsync.ApplyRequest{
		UserID:           "user1",
		SubscriptionRef:  "sub_1",
		Email:            "user@example.com",
		RawStatus:        "active",
		Status:           subsync.StatusActive,
		PlanTier:         subsync.PlanPro,
		CurrentPeriodEnd: &periodEnd,
		ObservedAt:       base,
		EventID:          "e1",
		PortalURL:        "https://portal.example.com/sub",
	})
	if err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	if res.Stale {
		t.Fatal("first event must not be stale")
	}

	sub, err := store.GetSubscriber(ctx, "user1")
	if err != nil {
		t.Fatalf("GetSubscriber failed: %v", err)
	}
	if sub.PlanTier != subsync.PlanPro || sub.Status != subsync.StatusActive {
		t.Errorf("unexpected state: %+v", sub)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(periodEnd) {
		t.Errorf("unexpected period end: %v", sub.CurrentPeriodEnd)
	}
	if sub.PortalURL != "https://portal.example.com/sub" {
		t.Errorf("portal URL not stored: %q", sub.PortalURL)
	}
	if !sub.PeriodResetAt.Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected period reset: %s", sub.PeriodResetAt)
	}
}

func TestApplyEvent_StaleDetection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	apply := func(eventID string, status subsync.CanonicalStatus, observed time.Time) *subsync.ApplyResult {
		res, err := store.ApplyEvent(ctx, &subsync.ApplyRequest{
			UserID:          "user1",
			SubscriptionRef: "sub_1",
			RawStatus:       string(status),
			Status:          status,
			PlanTier:        subsync.PlanPro,
			ObservedAt:      observed,
			EventID:         eventID,
		})
		if err != nil {
			t.Fatalf("ApplyEvent failed: %v", err)
		}
		return res
	}

	apply("e2", subsync.StatusCancelled, base.Add(time.Hour))

	res := apply("e1", subsync.StatusActive, base)
	if !res.Stale {
		t.Fatal("older event must be stale")
	}
	if res.Subscriber.Status != subsync.StatusCancelled {
		t.Errorf("stale event regressed state to %s", res.Subscriber.Status)
	}

	// Equal observed time applies (idempotent redelivery).
	if res := apply("e2", subsync.StatusCancelled, base.Add(time.Hour)); res.Stale {
		t.Fatal("equal-time redelivery must not be stale")
	}

	records, err := store.SubscriptionHistory(ctx, "sub_1", 0)
	if err != nil {
		t.Fatalf("SubscriptionHistory failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 history records, got %d", len(records))
	}
	if records[0].ObservedAt.Before(records[len(records)-1].ObservedAt) {
		t.Error("history must be newest first")
	}
}

func TestConsumeInvoiceCredit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	june := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		dec, err := store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{UserID: "user1", Limit: 2, Now: june})
		if err != nil {
			t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
		}
		if !dec.Allowed || dec.Used != i {
			t.Fatalf("attempt %d: unexpected decision %+v", i, dec)
		}
	}

	dec, err := store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{UserID: "user1", Limit: 2, Now: june})
	if err != nil {
		t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("expected denial at the limit")
	}

	// Peek does not consume.
	peek, err := store.PeekInvoiceUsage(ctx, "user1", june)
	if err != nil {
		t.Fatalf("PeekInvoiceUsage failed: %v", err)
	}
	if peek.Used != 2 {
		t.Errorf("expected used=2, got %d", peek.Used)
	}

	// Lazy calendar-month reset.
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

func TestConsumeInvoiceCredit_Unlimited(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 10; i++ {
		dec, err := store.ConsumeInvoiceCredit(ctx, &subsync.ConsumeRequest{
			UserID: "user1", Limit: subsync.Unlimited, Now: now,
		})
		if err != nil {
			t.Fatalf("ConsumeInvoiceCredit failed: %v", err)
		}
		if !dec.Allowed || dec.Used != i || dec.Remaining != subsync.Unlimited {
			t.Fatalf("attempt %d: unexpected decision %+v", i, dec)
		}
	}
}

func TestGetSubscriber_NotFound(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.GetSubscriber(context.Background(), "nobody"); err != subsync.ErrSubscriberNotFound {
		t.Fatalf("expected ErrSubscriberNotFound, got %v", err)
	}
}
