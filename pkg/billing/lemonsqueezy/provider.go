// Package lemonsqueezy ingests Lemon Squeezy subscription webhooks and
// reconciles them into the engine's canonical subscriber state.
package lemonsqueezy

import (
	"net/http"
	"time"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/billing"
	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

const providerName = "lemonsqueezy"

const defaultStoreTimeout = 5 * time.Second

// Provider implements billing.Provider for Lemon Squeezy.
type Provider struct {
	engine       *subsync.Engine
	secret       []byte
	storeTimeout time.Duration
	logger       subsync.Logger
	metrics      billing.Metrics
}

// NewProvider creates a new Lemon Squeezy provider.
// A missing webhook secret is not a construction error: the endpoint refuses
// every delivery with a configuration error until the operator fixes it.
func NewProvider(config billing.Config) (*Provider, error) {
	if config.Engine == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	if config.StoreTimeout <= 0 {
		config.StoreTimeout = defaultStoreTimeout
	}
	if config.Logger == nil {
		config.Logger = &subsync.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		engine:       config.Engine,
		secret:       []byte(config.WebhookSecret),
		storeTimeout: config.StoreTimeout,
		logger:       config.Logger,
		metrics:      config.Metrics,
	}, nil
}

// Name implements billing.Provider
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler implements billing.Provider
func (p *Provider) WebhookHandler() http.Handler {
	return http.HandlerFunc(p.handleWebhook)
}
