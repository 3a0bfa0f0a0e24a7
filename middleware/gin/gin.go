// Package gin provides Gin middleware that gates invoice creation on the
// user's subscription entitlements.
package gin

import (
	"fmt"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Engine is the entitlement engine instance
	Engine *subsync.Engine

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// QuotaExceededStatusCode is the HTTP status code to return when the
	// monthly invoice limit is reached
	// Default: 429 (Too Many Requests)
	QuotaExceededStatusCode int

	// OnQuotaExceeded is called when the monthly invoice limit is reached
	// If nil, uses default response: QuotaExceededStatusCode JSON with usage info
	OnQuotaExceeded func(c *gongin.Context, dec *subsync.QuotaDecision)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that consumes one invoice credit per
// request. Free users are limited per calendar month; pro users always pass.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Engine == nil {
		panic("subsync/gin: Config.Engine is required")
	}
	if cfg.GetUserID == nil {
		panic("subsync/gin: Config.GetUserID is required")
	}

	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = http.StatusTooManyRequests
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		dec, err := cfg.Engine.IncrementAndCheck(c.Request.Context(), userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		if !dec.Allowed {
			c.Header("X-Invoice-Quota-Used", fmt.Sprintf("%d", dec.Used))
			c.Header("X-Invoice-Quota-Reset", fmt.Sprintf("%d", dec.ResetAt.Unix()))
			if cfg.OnQuotaExceeded != nil {
				cfg.OnQuotaExceeded(c, dec)
			} else {
				c.JSON(cfg.QuotaExceededStatusCode, gongin.H{
					"error":    "Invoice limit reached",
					"used":     dec.Used,
					"reset_at": dec.ResetAt,
				})
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter
func FromQuery(queryName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}
