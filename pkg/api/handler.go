package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for subscription inspection
type Handler struct {
	config Config
}

// GetEntitlements returns the user's resolved plan, status and feature set.
// Users with no subscription record resolve to the free tier rather than 404:
// every user of the product has a standing.
func (h *Handler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	ent, err := h.config.Engine.GetEntitlements(ctx, userID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to resolve entitlements: %w", err), http.StatusInternalServerError)
		return
	}

	resp := EntitlementsResponse{
		UserID:              userID,
		Plan:                string(ent.EffectivePlan),
		Status:              string(subsync.StatusNone),
		MaxInvoicesPerMonth: ent.MaxInvoicesPerPeriod,
		CustomExchangeRate:  ent.CustomExchangeRate,
		InvoiceSharing:      ent.InvoiceSharing,
		RemoveBranding:      ent.RemoveBranding,
	}

	sub, err := h.config.Engine.GetSubscriber(ctx, userID)
	if err != nil && err != subsync.ErrSubscriberNotFound {
		h.handleError(w, r, fmt.Errorf("failed to get subscriber: %w", err), http.StatusInternalServerError)
		return
	}
	if sub != nil {
		resp.Status = string(sub.Status)
		resp.CurrentPeriodEnd = sub.CurrentPeriodEnd
		resp.PortalURL = sub.PortalURL
		resp.UpdatePaymentURL = sub.UpdatePaymentURL
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetQuota returns the user's invoice quota standing for the current
// calendar month
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	ent, err := h.config.Engine.GetEntitlements(ctx, userID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to resolve entitlements: %w", err), http.StatusInternalServerError)
		return
	}

	dec, err := h.config.Engine.Usage(ctx, userID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to read usage: %w", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, QuotaResponse{
		UserID:    userID,
		Plan:      string(ent.EffectivePlan),
		Limit:     ent.MaxInvoicesPerPeriod,
		Used:      dec.Used,
		Remaining: dec.Remaining,
		ResetAt:   dec.ResetAt,
	})
}

// GetHistory returns the observed billing events for the user's current
// subscription, newest first
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	sub, err := h.config.Engine.GetSubscriber(ctx, userID)
	if err == subsync.ErrSubscriberNotFound {
		writeJSON(w, http.StatusOK, HistoryResponse{UserID: userID, Events: []HistoryEvent{}})
		return
	}
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get subscriber: %w", err), http.StatusInternalServerError)
		return
	}

	resp := HistoryResponse{
		UserID:          userID,
		SubscriptionRef: sub.SubscriptionRef,
		Events:          []HistoryEvent{},
	}

	if sub.SubscriptionRef != "" {
		records, err := h.config.Engine.History(ctx, sub.SubscriptionRef, h.config.HistoryLimit)
		if err != nil {
			h.handleError(w, r, fmt.Errorf("failed to read history: %w", err), http.StatusInternalServerError)
			return
		}
		for _, rec := range records {
			resp.Events = append(resp.Events, HistoryEvent{
				EventID:    rec.EventID,
				RawStatus:  rec.RawStatus,
				Status:     string(rec.Status),
				ObservedAt: rec.ObservedAt,
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, code int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
