package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/repository"
)

// TicketStore keeps tickets, their response threads and history in memory.
type TicketStore struct {
	mu        sync.RWMutex
	tickets   map[string]*domain.Ticket
	responses map[string][]domain.Response
	history   map[string][]domain.TicketHistory
	seq       int64
}

// NewTicketStore creates an empty store.
func NewTicketStore() *TicketStore {
	return &TicketStore{
		tickets:   make(map[string]*domain.Ticket),
		responses: make(map[string][]domain.Response),
		history:   make(map[string][]domain.TicketHistory),
	}
}

// Responses exposes the store as a ResponseRepository.
func (s *TicketStore) Responses() repository.ResponseRepository {
	return responseView{s}
}

// History exposes the store as a TicketHistoryRepository.
func (s *TicketStore) History() repository.TicketHistoryRepository {
	return historyView{s}
}

var _ repository.TicketRepository = (*TicketStore)(nil)

func (s *TicketStore) Create(_ context.Context, ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tickets[ticket.ID]; exists {
		return repository.ErrConflict
	}
	s.tickets[ticket.ID] = cloneTicket(ticket)
	return nil
}

func (s *TicketStore) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTicket(ticket), nil
}

func (s *TicketStore) List(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	s.mu.RLock()
	var result []domain.Ticket
	for _, ticket := range s.tickets {
		if filter.CustomerID != nil && ticket.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.State != nil && ticket.State != *filter.State {
			continue
		}
		result = append(result, *cloneTicket(ticket))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	limit, offset := filter.Limit, filter.Offset
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return []domain.Ticket{}, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (s *TicketStore) Transition(_ context.Context, ticket *domain.Ticket, expected domain.TicketState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[ticket.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.State != expected {
		return repository.ErrConflict
	}
	updated := cloneTicket(current)
	updated.State = ticket.State
	updated.Category = ticket.Category
	updated.ClosedAt = cloneTime(ticket.ClosedAt)
	updated.UpdatedAt = ticket.UpdatedAt
	s.tickets[ticket.ID] = updated
	return nil
}

type responseView struct{ s *TicketStore }

func (v responseView) Append(_ context.Context, resp *domain.Response) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.seq++
	resp.Seq = v.s.seq
	v.s.responses[resp.TicketID] = append(v.s.responses[resp.TicketID], *resp)
	return nil
}

func (v responseView) ListByTicket(_ context.Context, ticketID string) ([]domain.Response, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return append([]domain.Response(nil), v.s.responses[ticketID]...), nil
}

type historyView struct{ s *TicketStore }

func (v historyView) Create(_ context.Context, entry *domain.TicketHistory) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.history[entry.TicketID] = append(v.s.history[entry.TicketID], *entry)
	return nil
}

func (v historyView) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return append([]domain.TicketHistory(nil), v.s.history[ticketID]...), nil
}

func cloneTicket(ticket *domain.Ticket) *domain.Ticket {
	cp := *ticket
	if ticket.Category != nil {
		category := *ticket.Category
		cp.Category = &category
	}
	cp.ClosedAt = cloneTime(ticket.ClosedAt)
	return &cp
}
