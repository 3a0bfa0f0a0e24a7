// Package http provides HTTP middleware that gates invoice creation on the
// user's subscription entitlements.
package http

import (
	"fmt"
	"net/http"

	"github.com/Ahmad-beast/invoicepak-pro-sub000/pkg/subsync"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Engine is the entitlement engine instance
	Engine *subsync.Engine

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// OnQuotaExceeded is called when the monthly invoice limit is reached
	// If nil, returns 429 Too Many Requests
	OnQuotaExceeded func(w http.ResponseWriter, r *http.Request, dec *subsync.QuotaDecision)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that consumes one invoice credit per
// request. Free users are limited per calendar month; pro users always pass.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			dec, err := config.Engine.IncrementAndCheck(r.Context(), userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !dec.Allowed {
				if config.OnQuotaExceeded != nil {
					config.OnQuotaExceeded(w, r, dec)
				} else {
					msg := fmt.Sprintf("Invoice limit reached: %d used, resets %s",
						dec.Used, dec.ResetAt.Format("2006-01-02"))
					http.Error(w, msg, http.StatusTooManyRequests)
				}
				return
			}

			// Credit consumed, proceed to handler
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates invoice creation (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "subsync:userID"
)

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
