package domain

import "time"

// UsageWindow selects the period an aggregate covers.
type UsageWindow string

const (
	WindowToday   UsageWindow = "TODAY"
	WindowMonth   UsageWindow = "MONTH"
	WindowAllTime UsageWindow = "ALL_TIME"
)

// UsageRecord is one append-only metering event.
type UsageRecord struct {
	ID         int64
	CustomerID string
	KeyID      string
	Timestamp  time.Time
	Units      int64
	Endpoint   string
}

// UsageSummary is the customer-facing usage view.
type UsageSummary struct {
	Today          int64
	ThisMonth      int64
	AllTime        int64
	DailyLimit     int64
	RemainingToday int64
	ResetAt        *time.Time
}
