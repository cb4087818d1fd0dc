package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/events"
	"github.com/spec-kit/support-automation/internal/repository"
	"github.com/spec-kit/support-automation/internal/triage"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

const (
	maxSubjectLength = 200
	maxBodyLength    = 10000
)

// Triager decides what happens to a piece of ticket text.
type Triager interface {
	Decide(ctx context.Context, customerID, subject, body string) triage.Decision
}

// TicketService runs the ticket state machine:
// NEW -> AUTO_ANSWERED | ESCALATED, AUTO_ANSWERED -> ESCALATED, ESCALATED -> RESOLVED.
type TicketService struct {
	tickets   repository.TicketRepository
	responses repository.ResponseRepository
	history   repository.TicketHistoryRepository
	triage    Triager
	locks     *keyedMutex
	events    publisher
	logger    *zap.Logger
	now       Clock
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo   repository.TicketRepository
	ResponseRepo repository.ResponseRepository
	HistoryRepo  repository.TicketHistoryRepository
	Triage       Triager
	Dispatcher   events.Dispatcher
	Logger       *zap.Logger
	Clock        Clock
}

// TicketDetail is a ticket with its conversation and audit trail.
type TicketDetail struct {
	Ticket    domain.Ticket
	Responses []domain.Response
	History   []domain.TicketHistory
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := loggerOrNop(deps.Logger)
	now := clockOrDefault(deps.Clock)
	return &TicketService{
		tickets:   deps.TicketRepo,
		responses: deps.ResponseRepo,
		history:   deps.HistoryRepo,
		triage:    deps.Triage,
		locks:     newKeyedMutex(),
		events:    publisher{dispatcher: deps.Dispatcher, logger: logger, now: now},
		logger:    logger,
		now:       now,
	}
}

// Create stores a NEW ticket and triages it once. Triage failures escalate
// instead of failing the request.
func (s *TicketService) Create(ctx context.Context, customerID, subject, body string) (*TicketDetail, error) {
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if strings.TrimSpace(customerID) == "" {
		return nil, apperrors.NewValidationError("customer id is required", nil)
	}
	if utf8.RuneCountInString(subject) > maxSubjectLength || utf8.RuneCountInString(body) > maxBodyLength {
		return nil, apperrors.NewValidationError("ticket text too long", map[string]any{
			"max_subject": maxSubjectLength,
			"max_body":    maxBodyLength,
		})
	}

	now := s.now()
	ticket := &domain.Ticket{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Subject:    subject,
		Body:       body,
		State:      domain.TicketStateNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	unlock := s.locks.Lock(ticket.ID)
	defer unlock()

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if err := s.recordHistory(ctx, ticket.ID, systemActor(), "", domain.TicketStateNew, "ticket created"); err != nil {
		return nil, err
	}
	s.events.publish(ctx, events.Event{
		Type:       events.EventTicketCreated,
		CustomerID: customerID,
		TicketID:   ticket.ID,
		Actor:      customerActor(customerID),
		Payload:    events.TicketCreatedPayload{Subject: subject},
	})

	decision := s.decide(ctx, customerID, subject, body)
	if err := s.apply(ctx, ticket, decision); err != nil {
		if decision.Escalated() {
			return nil, err
		}
		s.logger.Error("auto answer failed, escalating", zap.String("ticket_id", ticket.ID), zap.Error(err))
		reason := "auto answer could not be stored"
		var stored *answerStoredError
		if errors.As(err, &stored) {
			reason = "auto answer " + stored.responseID + " was stored but the ticket could not be marked answered"
		}
		if err := s.apply(ctx, ticket, triage.Escalate(domain.CategoryEscalatedTriageError, reason)); err != nil {
			return nil, err
		}
	}
	return s.detail(ctx, ticket.ID)
}

// Reply appends a customer follow-up. On an auto-answered ticket the reply
// is triaged again and either answered or escalated.
func (s *TicketService) Reply(ctx context.Context, customerID, ticketID, body string) (*TicketDetail, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("reply body is required", nil)
	}
	if utf8.RuneCountInString(body) > maxBodyLength {
		return nil, apperrors.NewValidationError("reply too long", map[string]any{"max_body": maxBodyLength})
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.ownedTicket(ctx, customerID, ticketID)
	if err != nil {
		return nil, err
	}
	switch ticket.State {
	case domain.TicketStateAutoAnswered, domain.TicketStateEscalated:
	default:
		return nil, apperrors.NewInvalidState("ticket does not accept replies", map[string]any{"state": ticket.State})
	}

	resp, err := s.appendResponse(ctx, ticket.ID, domain.AuthorCustomer, &customerID, body)
	if err != nil {
		return nil, err
	}
	s.publishResponse(ctx, ticket, resp, customerActor(customerID))

	if ticket.State == domain.TicketStateAutoAnswered {
		if err := s.apply(ctx, ticket, s.decide(ctx, customerID, "", body)); err != nil {
			return nil, err
		}
	}
	return s.detail(ctx, ticket.ID)
}

// AppendHumanResponse adds an agent reply to an escalated ticket.
func (s *TicketService) AppendHumanResponse(ctx context.Context, agentID, ticketID, body string) (*domain.Response, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("response body is required", nil)
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.escalatedTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	touched := *ticket
	touched.UpdatedAt = s.now()
	if err := s.transition(ctx, &touched, domain.TicketStateEscalated); err != nil {
		return nil, err
	}

	resp, err := s.appendResponse(ctx, ticket.ID, domain.AuthorHuman, &agentID, body)
	if err != nil {
		return nil, err
	}
	s.publishResponse(ctx, ticket, resp, agentActor(agentID))
	return resp, nil
}

// Resolve closes an escalated ticket, optionally leaving a closing note.
func (s *TicketService) Resolve(ctx context.Context, agentID, ticketID, note string) (*domain.Ticket, error) {
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxBodyLength {
		return nil, apperrors.NewValidationError("note too long", map[string]any{"max_body": maxBodyLength})
	}

	unlock := s.locks.Lock(ticketID)
	defer unlock()

	ticket, err := s.escalatedTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	// The note is stored while the ticket is still ESCALATED, where a human
	// response is valid on its own if the transition below loses a race.
	reason := "resolved by agent"
	if note != "" {
		if _, err := s.appendResponse(ctx, ticket.ID, domain.AuthorHuman, &agentID, note); err != nil {
			return nil, err
		}
		reason = stringPreview(note, 120)
	}

	now := s.now()
	resolved := *ticket
	resolved.State = domain.TicketStateResolved
	resolved.UpdatedAt = now
	resolved.ClosedAt = &now
	if err := s.transition(ctx, &resolved, domain.TicketStateEscalated); err != nil {
		return nil, err
	}

	s.recordCommitted(ctx, ticket.ID, agentActor(agentID), domain.TicketStateEscalated, domain.TicketStateResolved, reason)
	s.publishStateChange(ctx, events.EventTicketResolved, &resolved, domain.TicketStateEscalated, agentActor(agentID), reason)
	return &resolved, nil
}

// Get returns a customer's ticket. Tickets of other customers are not found.
func (s *TicketService) Get(ctx context.Context, customerID, ticketID string) (*TicketDetail, error) {
	if _, err := s.ownedTicket(ctx, customerID, ticketID); err != nil {
		return nil, err
	}
	return s.detail(ctx, ticketID)
}

// GetForAgent returns any ticket with its conversation.
func (s *TicketService) GetForAgent(ctx context.Context, ticketID string) (*TicketDetail, error) {
	return s.detail(ctx, ticketID)
}

// ListForCustomer returns the customer's tickets, newest first.
func (s *TicketService) ListForCustomer(ctx context.Context, customerID string, limit, offset int) ([]domain.Ticket, error) {
	tickets, err := s.tickets.List(ctx, repository.TicketFilter{CustomerID: &customerID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return tickets, nil
}

// ListByState returns tickets for the agent queue. A nil state lists all.
func (s *TicketService) ListByState(ctx context.Context, state *domain.TicketState, limit, offset int) ([]domain.Ticket, error) {
	if state != nil && !state.Valid() {
		return nil, apperrors.NewValidationError("unknown ticket state", map[string]any{"state": *state})
	}
	tickets, err := s.tickets.List(ctx, repository.TicketFilter{State: state, Limit: limit, Offset: offset})
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return tickets, nil
}

// Responses returns a ticket's responses in insertion order.
func (s *TicketService) Responses(ctx context.Context, ticketID string) ([]domain.Response, error) {
	responses, err := s.responses.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return responses, nil
}

// History returns a ticket's state changes, oldest first.
func (s *TicketService) History(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	history, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return history, nil
}

// decide runs triage, converting panics and empty answers into escalations.
func (s *TicketService) decide(ctx context.Context, customerID, subject, body string) (decision triage.Decision) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("triage panicked", zap.String("customer_id", customerID), zap.Any("panic", r))
			decision = triage.Escalate(domain.CategoryEscalatedTriageError, fmt.Sprintf("triage panicked: %v", r))
		}
	}()
	if s.triage == nil {
		return triage.Escalate(domain.CategoryEscalatedTriageError, "triage unavailable")
	}
	decision = s.triage.Decide(ctx, customerID, subject, body)
	if !decision.Escalated() && strings.TrimSpace(decision.Response) == "" {
		return triage.Escalate(domain.CategoryEscalatedTriageError, "auto answer was empty")
	}
	return decision
}

// apply moves a NEW or AUTO_ANSWERED ticket according to decision and
// updates ticket in place on success.
func (s *TicketService) apply(ctx context.Context, ticket *domain.Ticket, decision triage.Decision) error {
	from := ticket.State
	category := decision.Category
	next := *ticket
	next.Category = &category
	next.UpdatedAt = s.now()

	if decision.Escalated() {
		next.State = domain.TicketStateEscalated
		if err := s.transition(ctx, &next, from); err != nil {
			return err
		}
		s.recordCommitted(ctx, ticket.ID, systemActor(), from, next.State, decision.Reason)
		*ticket = next
		s.publishStateChange(ctx, events.EventTicketEscalated, ticket, from, systemActor(), decision.Reason)
		return nil
	}

	// The answer is stored before the state flips so an AUTO_ANSWERED ticket
	// always has one.
	resp, err := s.appendResponse(ctx, ticket.ID, domain.AuthorSystem, nil, decision.Response)
	if err != nil {
		return err
	}
	next.State = domain.TicketStateAutoAnswered
	if err := s.transition(ctx, &next, from); err != nil {
		return &answerStoredError{responseID: resp.ID, err: err}
	}
	*ticket = next
	s.publishResponse(ctx, ticket, resp, systemActor())
	if from != domain.TicketStateAutoAnswered {
		reason := "auto answered as " + string(category)
		s.recordCommitted(ctx, ticket.ID, systemActor(), from, next.State, reason)
		s.publishStateChange(ctx, events.EventTicketAutoAnswered, ticket, from, systemActor(), reason)
	}
	return nil
}

func (s *TicketService) transition(ctx context.Context, ticket *domain.Ticket, expected domain.TicketState) error {
	if err := s.tickets.Transition(ctx, ticket, expected); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticket.ID})
		case errors.Is(err, repository.ErrConflict):
			return apperrors.NewInvalidState("ticket changed concurrently", map[string]any{"ticket_id": ticket.ID})
		default:
			return apperrors.NewInternalError(err)
		}
	}
	return nil
}

func (s *TicketService) appendResponse(ctx context.Context, ticketID string, kind domain.AuthorKind, authorID *string, body string) (*domain.Response, error) {
	resp := &domain.Response{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		AuthorKind: kind,
		AuthorID:   authorID,
		Body:       body,
		CreatedAt:  s.now(),
	}
	if err := s.responses.Append(ctx, resp); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return resp, nil
}

// answerStoredError reports a failed AUTO_ANSWERED transition after the
// SYSTEM answer was already appended.
type answerStoredError struct {
	responseID string
	err        error
}

func (e *answerStoredError) Error() string { return e.err.Error() }

func (e *answerStoredError) Unwrap() error { return e.err }

// recordCommitted writes history for a transition that already committed.
// The state change stands either way, so a failed write is logged rather
// than returned.
func (s *TicketService) recordCommitted(ctx context.Context, ticketID string, actor events.Actor, from, to domain.TicketState, reason string) {
	if err := s.recordHistory(ctx, ticketID, actor, from, to, reason); err != nil {
		s.logger.Error("ticket history write failed",
			zap.String("ticket_id", ticketID),
			zap.String("to_state", string(to)),
			zap.Error(err))
	}
}

func (s *TicketService) recordHistory(ctx context.Context, ticketID string, actor events.Actor, from, to domain.TicketState, reason string) error {
	if s.history == nil {
		return nil
	}
	entry := &domain.TicketHistory{
		ID:            uuid.NewString(),
		TicketID:      ticketID,
		ChangedByKind: actor.Kind,
		ChangedByID:   actor.ID,
		FromState:     from,
		ToState:       to,
		Reason:        reason,
		CreatedAt:     s.now(),
	}
	if err := s.history.Create(ctx, entry); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

func (s *TicketService) ownedTicket(ctx context.Context, customerID, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.CustomerID != customerID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

func (s *TicketService) escalatedTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.State != domain.TicketStateEscalated {
		return nil, apperrors.NewInvalidState("ticket is not escalated", map[string]any{"state": ticket.State})
	}
	return ticket, nil
}

func (s *TicketService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.NewInternalError(err)
	}
	return ticket, nil
}

func (s *TicketService) detail(ctx context.Context, ticketID string) (*TicketDetail, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	responses, err := s.Responses(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	history, err := s.History(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return &TicketDetail{Ticket: *ticket, Responses: responses, History: history}, nil
}

func (s *TicketService) publishStateChange(ctx context.Context, eventType events.EventType, ticket *domain.Ticket, from domain.TicketState, actor events.Actor, reason string) {
	s.events.publish(ctx, events.Event{
		Type:       eventType,
		CustomerID: ticket.CustomerID,
		TicketID:   ticket.ID,
		Actor:      actor,
		Payload: events.TicketStateChangedPayload{
			OldState: from,
			NewState: ticket.State,
			Category: ticket.Category,
			Reason:   reason,
		},
	})
}

func (s *TicketService) publishResponse(ctx context.Context, ticket *domain.Ticket, resp *domain.Response, actor events.Actor) {
	s.events.publish(ctx, events.Event{
		Type:       events.EventTicketResponded,
		CustomerID: ticket.CustomerID,
		TicketID:   ticket.ID,
		Actor:      actor,
		Payload: events.TicketRespondedPayload{
			ResponseID:  resp.ID,
			AuthorKind:  resp.AuthorKind,
			BodyPreview: stringPreview(resp.Body, 140),
		},
	})
}
