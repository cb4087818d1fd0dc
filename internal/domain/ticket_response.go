package domain

import "time"

// AuthorKind indicates who authored a response.
type AuthorKind string

const (
	AuthorSystem   AuthorKind = "SYSTEM"
	AuthorHuman    AuthorKind = "HUMAN"
	AuthorCustomer AuthorKind = "CUSTOMER"
)

// Response is one entry of a ticket thread. Seq is the insertion order.
type Response struct {
	ID         string
	TicketID   string
	Seq        int64
	AuthorKind AuthorKind
	AuthorID   *string
	Body       string
	CreatedAt  time.Time
}
