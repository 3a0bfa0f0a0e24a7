// Package echo provides Echo middleware that gates invoice creation on the
// user's subscription entitlements.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

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
	OnQuotaExceeded func(c echo.Context, dec *subsync.QuotaDecision) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that consumes one invoice credit per
// request. Free users are limited per calendar month; pro users always pass.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Engine == nil {
		panic("subsync/echo: Config.Engine is required")
	}
	if cfg.GetUserID == nil {
		panic("subsync/echo: Config.GetUserID is required")
	}

	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = http.StatusTooManyRequests
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			dec, err := cfg.Engine.IncrementAndCheck(c.Request().Context(), userID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			if !dec.Allowed {
				if cfg.OnQuotaExceeded != nil {
					return cfg.OnQuotaExceeded(c, dec)
				}
				return c.JSON(cfg.QuotaExceededStatusCode, map[string]interface{}{
					"error":    "Invoice limit reached",
					"used":     dec.Used,
					"reset_at": dec.ResetAt,
				})
			}

			return next(c)
		}
	}
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter
func FromQuery(queryName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}
