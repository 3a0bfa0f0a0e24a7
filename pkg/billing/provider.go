package billing

import "net/http"

// Provider is the generic interface a billing backend must implement.
// This keeps the engine decoupled from any single provider's wire format.
type Provider interface {
	// Name returns the provider name (e.g., "lemonsqueezy")
	Name() string

	// WebhookHandler returns the HTTP handler that ingests provider events.
	// The implementation handles verification, normalization, and engine
	// updates internally.
	WebhookHandler() http.Handler
}
