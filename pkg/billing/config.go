package billing

import (
	"time"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Engine is the reconciliation engine that will be updated with
	// canonical subscription state
	Engine *subsync.Engine

	// WebhookSecret is the shared secret used to verify inbound webhook
	// signatures. An empty secret makes the endpoint refuse all events
	// with a configuration error, never a signature failure.
	WebhookSecret string

	// StoreTimeout bounds each store write triggered by a delivery.
	// Past it the event is treated as failed-but-acknowledged.
	// Defaults to 5 seconds.
	StoreTimeout time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	// The secret is never logged.
	Logger subsync.Logger

	// Metrics is an optional metrics collector for webhook processing.
	// If nil, metrics are silently ignored (no-op).
	Metrics Metrics
}
