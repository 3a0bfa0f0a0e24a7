package api

import "time"

// EntitlementsResponse represents the resolved subscription standing for a user
type EntitlementsResponse struct {
	UserID              string     `json:"user_id"`
	Plan                string     `json:"plan"`                   // "free", "pro"
	Status              string     `json:"status"`                 // canonical subscription status
	MaxInvoicesPerMonth int        `json:"max_invoices_per_month"` // -1 for unlimited
	CustomExchangeRate  bool       `json:"custom_exchange_rate"`
	InvoiceSharing      bool       `json:"invoice_sharing"`
	RemoveBranding      bool       `json:"remove_branding"`
	CurrentPeriodEnd    *time.Time `json:"current_period_end,omitempty"`
	PortalURL           string     `json:"portal_url,omitempty"`
	UpdatePaymentURL    string     `json:"update_payment_url,omitempty"`
}

// QuotaResponse represents the user's invoice quota for the current
// calendar month
type QuotaResponse struct {
	UserID    string    `json:"user_id"`
	Plan      string    `json:"plan"`
	Limit     int       `json:"limit"` // -1 for unlimited
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"` // -1 for unlimited
	ResetAt   time.Time `json:"reset_at"`
}

// HistoryResponse lists observed billing events for the user's subscription,
// newest first
type HistoryResponse struct {
	UserID          string         `json:"user_id"`
	SubscriptionRef string         `json:"subscription_ref"`
	Events          []HistoryEvent `json:"events"`
}

// HistoryEvent is one observed billing event
type HistoryEvent struct {
	EventID    string    `json:"event_id"`
	RawStatus  string    `json:"raw_status"`
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}
