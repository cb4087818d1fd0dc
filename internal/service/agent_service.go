package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-automation/internal/auth"
	"github.com/spec-kit/support-automation/internal/config"
	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/repository"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

// AgentService handles support agent accounts and login.
type AgentService struct {
	agents     repository.AgentRepository
	tokens     *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
	now        Clock
}

// NewAgentService builds the service.
func NewAgentService(cfg config.AuthConfig, agents repository.AgentRepository, tokens *auth.TokenManager, logger *zap.Logger) *AgentService {
	return &AgentService{
		agents:     agents,
		tokens:     tokens,
		bcryptCost: cfg.BcryptCost,
		logger:     loggerOrNop(logger),
		now:        utcNow,
	}
}

// AgentSession is the result of a successful login.
type AgentSession struct {
	Agent     *domain.Agent
	Token     string
	ExpiresAt time.Time
}

// Register creates an active agent account.
func (s *AgentService) Register(ctx context.Context, name, email, password string) (*domain.Agent, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, apperrors.NewValidationError("name is required", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.NewValidationError("invalid email", map[string]any{"email": email})
	}
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return nil, apperrors.NewValidationError("password must be at least 10 characters", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}

	now := s.now()
	agent := &domain.Agent{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.agents.Create(ctx, agent); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewValidationError("email already registered", map[string]any{"email": email})
		}
		return nil, apperrors.NewInternalError(err)
	}
	s.logger.Info("agent registered", zap.String("agent_id", agent.ID))
	return agent, nil
}

// Login authenticates an agent. Unknown emails, wrong passwords and
// inactive accounts all fail the same way.
func (s *AgentService) Login(ctx context.Context, email, password string) (*AgentSession, error) {
	agent, err := s.agents.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewInternalError(err)
	}
	hash := ""
	if agent != nil {
		hash = agent.PasswordHash
	}
	if err := auth.ComparePassword(hash, password); err != nil || agent == nil || !agent.Active {
		return nil, apperrors.NewInvalidCredentials()
	}

	token, exp, err := s.tokens.GenerateToken(agent.ID, domain.SubjectTypeAgent)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &AgentSession{Agent: agent, Token: token, ExpiresAt: exp}, nil
}

// IssueCustomerToken signs a customer bearer token. Customer accounts live
// outside this service, so tokens are minted by operators.
func (s *AgentService) IssueCustomerToken(customerID string) (string, time.Time, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", time.Time{}, apperrors.NewValidationError("customer id is required", nil)
	}
	return s.tokens.GenerateToken(customerID, domain.SubjectTypeCustomer)
}
