package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-automation/internal/api/dto"
	"github.com/spec-kit/support-automation/internal/service"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

// AgentAuthHandler handles agent login.
type AgentAuthHandler struct {
	agents *service.AgentService
}

// NewAgentAuthHandler constructs handler.
func NewAgentAuthHandler(agents *service.AgentService) *AgentAuthHandler {
	return &AgentAuthHandler{agents: agents}
}

// Login POST /auth/agents/login.
func (h *AgentAuthHandler) Login(c *fiber.Ctx) error {
	var req dto.AgentLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}
	session, err := h.agents.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		Agent: dto.AgentResponse{
			ID:    session.Agent.ID,
			Name:  session.Agent.Name,
			Email: session.Agent.Email,
		},
	}})
}
