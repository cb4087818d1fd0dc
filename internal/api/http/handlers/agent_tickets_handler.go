package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-automation/internal/api/dto"
	"github.com/spec-kit/support-automation/internal/auth"
	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/service"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

// AgentTicketsHandler exposes the escalation queue to support agents.
type AgentTicketsHandler struct {
	service *service.TicketService
}

// NewAgentTicketsHandler constructs handler.
func NewAgentTicketsHandler(ticketService *service.TicketService) *AgentTicketsHandler {
	return &AgentTicketsHandler{service: ticketService}
}

// ListTickets GET /agent/tickets?state=.
func (h *AgentTicketsHandler) ListTickets(c *fiber.Ctx) error {
	if _, err := agentPrincipal(c); err != nil {
		return err
	}
	state, err := parseState(c.Query("state"))
	if err != nil {
		return err
	}
	limit, offset := parsePage(c)
	tickets, err := h.service.ListByState(c.UserContext(), state, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummaries(tickets)})
}

// GetTicket GET /agent/tickets/:id.
func (h *AgentTicketsHandler) GetTicket(c *fiber.Ctx) error {
	if _, err := agentPrincipal(c); err != nil {
		return err
	}
	detail, err := h.service.GetForAgent(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(detail)})
}

// Respond POST /agent/tickets/:id/responses.
func (h *AgentTicketsHandler) Respond(c *fiber.Ctx) error {
	agent, err := agentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	resp, err := h.service.AppendHumanResponse(c.UserContext(), agent.ID, c.Params("id"), req.Body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticketResponse(resp)})
}

// Resolve POST /agent/tickets/:id/resolve.
func (h *AgentTicketsHandler) Resolve(c *fiber.Ctx) error {
	agent, err := agentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ResolveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	ticket, err := h.service.Resolve(c.UserContext(), agent.ID, c.Params("id"), req.Note)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket)})
}

func agentPrincipal(c *fiber.Ctx) (*domain.Agent, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.Agent == nil {
		return nil, apperrors.NewUnauthorized("agent required")
	}
	return principal.Agent, nil
}
