package lemonsqueezy

import (
	"context"
	"net/http"
	"time"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/billing/internal"
	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// ackResponse is the acknowledgement body. Anything short of an auth or
// configuration failure answers 200 so the provider's retry machinery stops;
// success=false flags deliveries that need operator attention.
type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// handleWebhook processes one inbound delivery:
// received -> verified -> normalized -> persisted -> acknowledged.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	// Only the documented method, rejected before any body read.
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// A missing secret is an operator-fixable outage, not a bad event.
	// This is the one case where acknowledgement is withheld.
	if len(p.secret) == 0 {
		p.metrics.RecordWebhookError(providerName, "not_configured")
		http.Error(w, "webhook not configured", http.StatusInternalServerError)
		return
	}

	// The signature covers the raw bytes; parse-then-reserialize would
	// change the byte layout and invalidate it.
	body, err := internal.ReadBodyStrict(w, r, 256*1024)
	if err != nil {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if !VerifySignature(body, r.Header.Get("X-Signature"), p.secret) {
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Signature passed: from here on every outcome is acknowledged.
	var payload webhookPayload
	if err := parseWebhookPayload(body, &payload); err != nil {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		p.logger.Warn("webhook payload unparseable",
			subsync.Field{Key: "error", Value: err.Error()},
		)
		p.ack(w, ackResponse{Success: false, Message: "unprocessable payload"})
		return
	}

	eventName := payload.Meta.EventName
	if eventName == "" {
		eventName = "unknown"
	}

	if !subscriptionEvents[eventName] {
		// Not a subscription event - acknowledge and ignore.
		p.metrics.RecordWebhookEvent(providerName, eventName, "success")
		p.ack(w, ackResponse{Success: true, Message: "event ignored"})
		return
	}

	userID := payload.Meta.CustomData.UserID
	if userID == "" {
		// Unprocessable, but not a delivery failure from the provider's
		// perspective: acknowledge so redelivery storms never start.
		p.metrics.RecordWebhookError(providerName, "missing_user_id")
		p.logger.Warn("webhook missing user correlation id",
			subsync.Field{Key: "event_name", Value: eventName},
			subsync.Field{Key: "subscription_id", Value: payload.Data.ID},
		)
		p.ack(w, ackResponse{Success: false, Message: "missing user_id"})
		return
	}

	observed := payload.observedAt()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}

	req := &subsync.ApplyRequest{
		UserID:           userID,
		SubscriptionRef:  payload.Data.ID,
		CustomerRef:      payload.Data.Attributes.CustomerID.String(),
		Email:            payload.Data.Attributes.UserEmail,
		RawStatus:        payload.Data.Attributes.Status,
		Status:           NormalizeStatus(eventName, payload.Data.Attributes.Status),
		PlanTier:         subsync.PlanPro,
		CurrentPeriodEnd: payload.periodEnd(),
		ObservedAt:       observed,
		EventID:          eventName + ":" + payload.Data.ID + ":" + payload.Data.Attributes.UpdatedAt,
		PortalURL:        payload.Data.Attributes.URLs.CustomerPortal,
		UpdatePaymentURL: payload.Data.Attributes.URLs.UpdatePaymentMethod,
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.storeTimeout)
	defer cancel()

	res, err := p.engine.ApplyEvent(ctx, req)
	if err != nil {
		// Failed-but-acknowledged: redelivery of a store outage would only
		// hammer an endpoint that needs an operator, not a retry.
		p.metrics.RecordWebhookEvent(providerName, eventName, "error")
		p.metrics.RecordWebhookError(providerName, "store_error")
		p.logger.Error("webhook reconciliation failed",
			subsync.Field{Key: "event_name", Value: eventName},
			subsync.Field{Key: "user_id", Value: userID},
			subsync.Field{Key: "error", Value: err.Error()},
		)
		p.ack(w, ackResponse{Success: false, Message: "reconciliation failed"})
		p.metrics.RecordWebhookProcessingDuration(providerName, eventName, time.Since(startTime))
		return
	}

	if res.Stale {
		// Expected steady state under at-least-once delivery.
		p.metrics.RecordWebhookEvent(providerName, eventName, "stale")
		p.ack(w, ackResponse{Success: true, Message: "stale event recorded"})
	} else {
		p.metrics.RecordWebhookEvent(providerName, eventName, "success")
		p.ack(w, ackResponse{Success: true})
	}
	p.metrics.RecordWebhookProcessingDuration(providerName, eventName, time.Since(startTime))
}

func (p *Provider) ack(w http.ResponseWriter, resp ackResponse) {
	if err := internal.WriteJSON(w, http.StatusOK, resp); err != nil {
		p.logger.Warn("webhook ack write failed",
			subsync.Field{Key: "error", Value: err.Error()},
		)
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
