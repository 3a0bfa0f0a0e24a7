// Package fiber provides Fiber middleware that gates invoice creation on the
// user's subscription entitlements.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnQuotaExceeded func(c *fiber.Ctx, dec *subsync.QuotaDecision) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that consumes one invoice credit per
// request. Free users are limited per calendar month; pro users always pass.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Engine == nil {
		panic("subsync/fiber: Config.Engine is required")
	}
	if cfg.GetUserID == nil {
		panic("subsync/fiber: Config.GetUserID is required")
	}

	if cfg.QuotaExceededStatusCode == 0 {
		cfg.QuotaExceededStatusCode = fiber.StatusTooManyRequests
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		dec, err := cfg.Engine.IncrementAndCheck(c.UserContext(), userID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		if !dec.Allowed {
			if cfg.OnQuotaExceeded != nil {
				return cfg.OnQuotaExceeded(c, dec)
			}
			return c.Status(cfg.QuotaExceededStatusCode).JSON(fiber.Map{
				"error":    "Invoice limit reached",
				"used":     dec.Used,
				"reset_at": dec.ResetAt,
			})
		}

		return c.Next()
	}
}

// Convenience extractors for User ID

// FromLocals returns a UserIDExtractor that gets user ID from Fiber locals
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FromQuery returns a UserIDExtractor that gets user ID from a query parameter
func FromQuery(queryName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}
