package lemonsqueezy

import (
	"encoding/json"
	"strings"
	"time"
)

// webhookPayload represents the Lemon Squeezy webhook payload structure
type webhookPayload struct {
	Meta struct {
		EventName  string `json:"event_name"`
		CustomData struct {
			UserID string `json:"user_id"`
		} `json:"custom_data"`
	} `json:"meta"`

	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status    string `json:"status"`
			UserEmail string `json:"user_email"`

			// Provider-issued ids arrive as numbers; json.Number keeps
			// them verbatim so they stay opaque strings downstream.
			CustomerID json.Number `json:"customer_id"`
			VariantID  json.Number `json:"variant_id"`
			ProductID  json.Number `json:"product_id"`

			RenewsAt  string `json:"renews_at"`
			EndsAt    string `json:"ends_at"`
			UpdatedAt string `json:"updated_at"`

			URLs struct {
				CustomerPortal      string `json:"customer_portal"`
				UpdatePaymentMethod string `json:"update_payment_method"`
			} `json:"urls"`
		} `json:"attributes"`
	} `json:"data"`
}

// parseWebhookPayload parses the webhook JSON payload
func parseWebhookPayload(body []byte, payload *webhookPayload) error {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	return dec.Decode(payload)
}

// parseProviderTime parses a provider timestamp. Lemon Squeezy emits RFC3339;
// the zero time is returned for empty or unparseable values.
func parseProviderTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}
		}
	}
	return parsed.UTC()
}

// periodEnd picks the end of the current paid period from the payload.
// ends_at is authoritative once set (cancelled/expired subscriptions);
// renews_at covers the steady state.
func (p *webhookPayload) periodEnd() *time.Time {
	if t := parseProviderTime(p.Data.Attributes.EndsAt); !t.IsZero() {
		return &t
	}
	if t := parseProviderTime(p.Data.Attributes.RenewsAt); !t.IsZero() {
		return &t
	}
	return nil
}

// observedAt returns the event's semantic timestamp.
func (p *webhookPayload) observedAt() time.Time {
	return parseProviderTime(p.Data.Attributes.UpdatedAt)
}
