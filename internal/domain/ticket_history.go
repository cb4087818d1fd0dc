package domain

import "time"

// TicketHistory is an immutable audit trail entry for a state change.
type TicketHistory struct {
	ID            string
	TicketID      string
	ChangedByKind AuthorKind
	ChangedByID   *string
	FromState     TicketState
	ToState       TicketState
	Reason        string
	CreatedAt     time.Time
}
