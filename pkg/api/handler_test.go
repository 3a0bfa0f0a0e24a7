package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/api"
	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
	"github.com/Ahmad-beast/invoicepak-pro-sub000/storage/memory"
)

func newTestHandler(t *testing.T) (*api.Handler, *subsync.Engine) {
	t.Helper()

	engine, err := subsync.NewEngine(memory.New(), subsync.Config{})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	handler, err := api.NewHandler(api.Config{
		Engine:    engine,
		GetUserID: api.FromHeader("X-User-ID"),
	})
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}
	return handler, engine
}

func upgradeToPro(t *testing.T, engine *subsync.Engine, userID string) {
	t.Helper()

	periodEnd := time.Now().UTC().AddDate(0, 1, 0)
	_, err := engine.ApplyEvent(context.Background(), &subsync.ApplyRequest{
		UserID:           userID,
		SubscriptionRef:  "sub_1",
		RawStatus:        "active",
		Status:           subsync.StatusActive,
		PlanTier:         subsync.PlanPro,
		CurrentPeriodEnd: &periodEnd,
		ObservedAt:       time.Now().UTC(),
		EventID:          "subscription_created:sub_1:1",
		PortalURL:        "https://portal.example.com/sub",
	})
	if err != nil {
		t.Fatalf("Failed to apply event: %v", err)
	}
}

func TestNewHandler_Validation(t *testing.T) {
	if _, err := api.NewHandler(api.Config{}); err == nil {
		t.Fatal("expected error for missing engine")
	}

	engine, _ := subsync.NewEngine(memory.New(), subsync.Config{})
	if _, err := api.NewHandler(api.Config{Engine: engine}); err == nil {
		t.Fatal("expected error for missing GetUserID")
	}
}

func TestGetEntitlements_Unauthorized(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/entitlements", nil)
	w := httptest.NewRecorder()
	handler.GetEntitlements(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestGetEntitlements_UnknownUserIsFree(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/entitlements", nil)
	req.Header.Set("X-User-ID", "user1")
	w := httptest.NewRecorder()
	handler.GetEntitlements(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp api.EntitlementsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Plan != string(subsync.PlanFree) {
		t.Errorf("expected free plan, got %s", resp.Plan)
	}
	if resp.MaxInvoicesPerMonth != subsync.FreeInvoiceLimit {
		t.Errorf("expected limit %d, got %d", subsync.FreeInvoiceLimit, resp.MaxInvoicesPerMonth)
	}
	if resp.CustomExchangeRate || resp.InvoiceSharing || resp.RemoveBranding {
		t.Error("free plan must not unlock pro features")
	}
}

func TestGetEntitlements_ProUser(t *testing.T) {
	handler, engine := newTestHandler(t)
	upgradeToPro(t, engine, "user1")

	req := httptest.NewRequest(http.MethodGet, "/api/entitlements", nil)
	req.Header.Set("X-User-ID", "user1")
	w := httptest.NewRecorder()
	handler.GetEntitlements(w, req)

	var resp api.EntitlementsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Plan != string(subsync.PlanPro) {
		t.Errorf("expected pro plan, got %s", resp.Plan)
	}
	if resp.Status != string(subsync.StatusActive) {
		t.Errorf("expected active status, got %s", resp.Status)
	}
	if resp.MaxInvoicesPerMonth != subsync.Unlimited {
		t.Errorf("expected unlimited, got %d", resp.MaxInvoicesPerMonth)
	}
	if resp.PortalURL != "https://portal.example.com/sub" {
		t.Errorf("expected portal URL, got %q", resp.PortalURL)
	}
}

func TestGetQuota(t *testing.T) {
	handler, engine := newTestHandler(t)

	for i := 0; i < 2; i++ {
		if _, err := engine.IncrementAndCheck(context.Background(), "user1"); err != nil {
			t.Fatalf("IncrementAndCheck failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req.Header.Set("X-User-ID", "user1")
	w := httptest.NewRecorder()
	handler.GetQuota(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp api.QuotaResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Used != 2 {
		t.Errorf("expected used=2, got %d", resp.Used)
	}
	if resp.Limit != subsync.FreeInvoiceLimit {
		t.Errorf("expected limit=%d, got %d", subsync.FreeInvoiceLimit, resp.Limit)
	}
	if resp.Remaining != subsync.FreeInvoiceLimit-2 {
		t.Errorf("expected remaining=%d, got %d", subsync.FreeInvoiceLimit-2, resp.Remaining)
	}
	if resp.ResetAt.IsZero() {
		t.Error("expected a reset time")
	}
}

func TestGetHistory(t *testing.T) {
	handler, engine := newTestHandler(t)
	upgradeToPro(t, engine, "user1")

	req := httptest.NewRequest(http.MethodGet, "/api/subscription/history", nil)
	req.Header.Set("X-User-ID", "user1")
	w := httptest.NewRecorder()
	handler.GetHistory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp api.HistoryResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.SubscriptionRef != "sub_1" {
		t.Errorf("expected subscription ref sub_1, got %s", resp.SubscriptionRef)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(resp.Events))
	}
	if resp.Events[0].Status != string(subsync.StatusActive) {
		t.Errorf("unexpected event status: %s", resp.Events[0].Status)
	}
}

func TestGetHistory_UnknownUser(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/subscription/history", nil)
	req.Header.Set("X-User-ID", "nobody")
	w := httptest.NewRecorder()
	handler.GetHistory(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.HistoryResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Events) != 0 {
		t.Errorf("expected empty history, got %d events", len(resp.Events))
	}
}
