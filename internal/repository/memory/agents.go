package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/repository"
)

// AgentStore keeps agents keyed by id.
type AgentStore struct {
	mu     sync.RWMutex
	agents map[string]domain.Agent
}

// NewAgentStore creates an empty store.
func NewAgentStore() *AgentStore {
	return &AgentStore{agents: make(map[string]domain.Agent)}
}

var _ repository.AgentRepository = (*AgentStore)(nil)

func (s *AgentStore) Create(_ context.Context, agent *domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.agents {
		if strings.EqualFold(existing.Email, agent.Email) {
			return repository.ErrConflict
		}
	}
	s.agents[agent.ID] = *agent
	return nil
}

func (s *AgentStore) GetByID(_ context.Context, id string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &agent, nil
}

func (s *AgentStore) GetByEmail(_ context.Context, email string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, agent := range s.agents {
		if strings.EqualFold(agent.Email, email) {
			found := agent
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}
