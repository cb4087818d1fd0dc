package dto

import "time"

// UsageResponse is the customer usage view.
type UsageResponse struct {
	Today          int64      `json:"today"`
	ThisMonth      int64      `json:"this_month"`
	AllTime        int64      `json:"all_time"`
	DailyLimit     int64      `json:"daily_limit"`
	RemainingToday int64      `json:"remaining_today"`
	ResetAt        *time.Time `json:"reset_at,omitempty"`
}

// InvoiceResponse is one billing history row.
type InvoiceResponse struct {
	InvoiceID   string    `json:"invoice_id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	IssuedAt    time.Time `json:"issued_at"`
}

