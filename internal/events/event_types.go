package events

import (
	"time"

	"github.com/spec-kit/support-automation/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated      EventType = "ticket_created"
	EventTicketAutoAnswered EventType = "ticket_auto_answered"
	EventTicketEscalated    EventType = "ticket_escalated"
	EventTicketResolved     EventType = "ticket_resolved"
	EventTicketResponded    EventType = "ticket_responded"
	EventKeyCreated         EventType = "key_created"
	EventKeyRotated         EventType = "key_rotated"
	EventKeyRevoked         EventType = "key_revoked"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Kind domain.AuthorKind `json:"kind"`
	ID   *string           `json:"id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	CustomerID string      `json:"customer_id"`
	TicketID   string      `json:"ticket_id,omitempty"`
	Actor      Actor       `json:"actor"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Subject string `json:"subject"`
}

// TicketStateChangedPayload payload for auto-answer, escalation and resolution.
type TicketStateChangedPayload struct {
	OldState domain.TicketState     `json:"old_state"`
	NewState domain.TicketState     `json:"new_state"`
	Category *domain.TicketCategory `json:"category,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
}

// TicketRespondedPayload payload.
type TicketRespondedPayload struct {
	ResponseID  string            `json:"response_id"`
	AuthorKind  domain.AuthorKind `json:"author_kind"`
	BodyPreview string            `json:"body_preview"`
}

// KeyLifecyclePayload payload. Never carries secret material.
type KeyLifecyclePayload struct {
	KeyID         string           `json:"key_id"`
	Status        domain.KeyStatus `json:"status"`
	PreviousKeyID *string          `json:"previous_key_id,omitempty"`
	GraceEndsAt   *time.Time       `json:"grace_ends_at,omitempty"`
}
