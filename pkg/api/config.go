// Package api provides HTTP endpoints for inspecting a user's subscription
// standing: resolved entitlements, invoice quota, and subscription history.
package api

import (
	"fmt"
	"net/http"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// Config holds configuration for the API handler
type Config struct {
	// Engine is the entitlement engine instance (required)
	Engine *subsync.Engine

	// GetUserID extracts user ID from HTTP request (required)
	// Similar to middleware/http pattern
	GetUserID func(*http.Request) string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// HistoryLimit caps the number of records GetHistory returns
	// (default: 50)
	HistoryLimit int
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 50
	}
	return &Handler{config: config}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
// Uses the same context key pattern as middleware/http
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
