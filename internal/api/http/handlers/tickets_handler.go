package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-automation/internal/api/dto"
	"github.com/spec-kit/support-automation/internal/auth"
	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/service"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

// TicketsHandler manages customer ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /v1/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	detail, err := h.service.Create(c.UserContext(), customerID, req.Subject, req.Body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticketDetail(detail)})
}

// ListTickets GET /v1/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	limit, offset := parsePage(c)
	tickets, err := h.service.ListForCustomer(c.UserContext(), customerID, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummaries(tickets)})
}

// GetTicket GET /v1/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	detail, err := h.service.Get(c.UserContext(), customerID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(detail)})
}

// Reply POST /v1/tickets/:id/replies.
func (h *TicketsHandler) Reply(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	detail, err := h.service.Reply(c.UserContext(), customerID, c.Params("id"), req.Body)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(detail)})
}

func customerPrincipal(c *fiber.Ctx) (string, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Kind != domain.SubjectTypeCustomer || principal.CustomerID == "" {
		return "", apperrors.NewUnauthorized("customer required")
	}
	return principal.CustomerID, nil
}

func parsePage(c *fiber.Ctx) (limit, offset int) {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > 100 {
		pageSize = 100
	}
	return pageSize, (page - 1) * pageSize
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseState(val string) (*domain.TicketState, error) {
	if val == "" {
		return nil, nil
	}
	state := domain.TicketState(strings.ToUpper(val))
	if !state.Valid() {
		return nil, apperrors.NewValidationError("unknown ticket state", map[string]any{"state": val})
	}
	return &state, nil
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	return dto.TicketSummary{
		ID:         ticket.ID,
		CustomerID: ticket.CustomerID,
		Subject:    ticket.Subject,
		Category:   ticket.Category,
		State:      ticket.State,
		CreatedAt:  ticket.CreatedAt,
		UpdatedAt:  ticket.UpdatedAt,
		ClosedAt:   ticket.ClosedAt,
	}
}

func ticketSummaries(tickets []domain.Ticket) []dto.TicketSummary {
	out := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		out = append(out, ticketSummary(&tickets[i]))
	}
	return out
}

func ticketDetail(detail *service.TicketDetail) dto.TicketDetailResponse {
	responses := make([]dto.TicketResponse, 0, len(detail.Responses))
	for i := range detail.Responses {
		responses = append(responses, ticketResponse(&detail.Responses[i]))
	}
	return dto.TicketDetailResponse{
		TicketSummary: ticketSummary(&detail.Ticket),
		Body:          detail.Ticket.Body,
		Responses:     responses,
		History:       historyResponses(detail.History),
	}
}

func ticketResponse(r *domain.Response) dto.TicketResponse {
	return dto.TicketResponse{
		ID:         r.ID,
		Seq:        r.Seq,
		AuthorKind: r.AuthorKind,
		AuthorID:   r.AuthorID,
		Body:       r.Body,
		CreatedAt:  r.CreatedAt,
	}
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	out := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, h := range entries {
		out = append(out, dto.TicketHistoryResponse{
			ID:            h.ID,
			FromState:     h.FromState,
			ToState:       h.ToState,
			ChangedByKind: h.ChangedByKind,
			ChangedByID:   h.ChangedByID,
			Reason:        h.Reason,
			CreatedAt:     h.CreatedAt,
		})
	}
	return out
}
