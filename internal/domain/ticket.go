package domain

import "time"

// TicketState enumerates lifecycle states for tickets.
type TicketState string

const (
	TicketStateNew          TicketState = "NEW"
	TicketStateAutoAnswered TicketState = "AUTO_ANSWERED"
	TicketStateEscalated    TicketState = "ESCALATED"
	TicketStateResolved     TicketState = "RESOLVED"
)

// Valid reports whether s is a known state.
func (s TicketState) Valid() bool {
	switch s {
	case TicketStateNew, TicketStateAutoAnswered, TicketStateEscalated, TicketStateResolved:
		return true
	}
	return false
}

// TicketCategory is the triage outcome recorded on a ticket.
type TicketCategory string

const (
	CategoryKeyReset       TicketCategory = "KEY_RESET"
	CategoryUsageInquiry   TicketCategory = "USAGE_INQUIRY"
	CategoryBillingInquiry TicketCategory = "BILLING_INQUIRY"
	CategoryRateLimit      TicketCategory = "RATE_LIMIT"

	CategoryEscalatedRefund      TicketCategory = "ESCALATED_REFUND"
	CategoryEscalatedAnger       TicketCategory = "ESCALATED_ANGER"
	CategoryEscalatedBugReport   TicketCategory = "ESCALATED_BUG_REPORT"
	CategoryEscalatedUnsatisfied TicketCategory = "ESCALATED_UNSATISFIED"
	CategoryEscalatedUnmatched   TicketCategory = "ESCALATED_UNMATCHED"
	CategoryEscalatedEmpty       TicketCategory = "ESCALATED_EMPTY"
	CategoryEscalatedTriageError TicketCategory = "ESCALATED_TRIAGE_ERROR"
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID         string
	CustomerID string
	Subject    string
	Body       string
	Category   *TicketCategory
	State      TicketState
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ClosedAt   *time.Time
}
