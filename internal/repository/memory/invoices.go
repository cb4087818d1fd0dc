package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/repository"
)

// InvoiceStore holds billing history seeded by tests or fixtures.
type InvoiceStore struct {
	mu       sync.RWMutex
	invoices []domain.Invoice
}

// NewInvoiceStore creates a store with the given invoices.
func NewInvoiceStore(invoices ...domain.Invoice) *InvoiceStore {
	return &InvoiceStore{invoices: append([]domain.Invoice(nil), invoices...)}
}

var _ repository.InvoiceRepository = (*InvoiceStore)(nil)

// Add appends an invoice.
func (s *InvoiceStore) Add(inv domain.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = append(s.invoices, inv)
}

func (s *InvoiceStore) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	var result []domain.Invoice
	for _, inv := range s.invoices {
		if inv.CustomerID == customerID {
			result = append(result, inv)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].IssuedAt.After(result[j].IssuedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
