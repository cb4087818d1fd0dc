package dto

import (
	"time"

	"github.com/spec-kit/support-automation/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ReplyRequest carries a customer follow-up or an agent response.
type ReplyRequest struct {
	Body string `json:"body"`
}

// ResolveRequest carries an optional closing note.
type ResolveRequest struct {
	Note string `json:"note"`
}

// TicketSummary response.
type TicketSummary struct {
	ID         string                 `json:"id"`
	CustomerID string                 `json:"customer_id"`
	Subject    string                 `json:"subject"`
	Category   *domain.TicketCategory `json:"category"`
	State      domain.TicketState     `json:"state"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	ClosedAt   *time.Time             `json:"closed_at,omitempty"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Body      string                  `json:"body"`
	Responses []TicketResponse        `json:"responses"`
	History   []TicketHistoryResponse `json:"history"`
}

// TicketResponse is one entry of the conversation.
type TicketResponse struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq"`
	AuthorKind domain.AuthorKind `json:"author_kind"`
	AuthorID   *string           `json:"author_id,omitempty"`
	Body       string            `json:"body"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TicketHistoryResponse is one audited state change.
type TicketHistoryResponse struct {
	ID            string             `json:"id"`
	FromState     domain.TicketState `json:"from_state,omitempty"`
	ToState       domain.TicketState `json:"to_state"`
	ChangedByKind domain.AuthorKind  `json:"changed_by_kind"`
	ChangedByID   *string            `json:"changed_by_id,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}
