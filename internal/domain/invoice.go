package domain

import "time"

// Invoice is a read-only billing history entry.
type Invoice struct {
	InvoiceID   string
	CustomerID  string
	Amount      float64
	Currency    string
	Status      string
	Description string
	IssuedAt    time.Time
}
