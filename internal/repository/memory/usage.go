package memory

import (
	"context"
	"sync"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/repository"
)

// UsageStore is an append-only slice of usage records.
type UsageStore struct {
	mu      sync.RWMutex
	records []domain.UsageRecord
}

// NewUsageStore creates an empty usage log.
func NewUsageStore() *UsageStore {
	return &UsageStore{}
}

var _ repository.UsageRepository = (*UsageStore)(nil)

func (s *UsageStore) Append(_ context.Context, record *domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

func (s *UsageStore) Sum(_ context.Context, customerID string, window repository.UsageRange) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, rec := range s.records {
		if rec.CustomerID != customerID {
			continue
		}
		if window.From != nil && rec.Timestamp.Before(*window.From) {
			continue
		}
		if window.To != nil && !rec.Timestamp.Before(*window.To) {
			continue
		}
		total += rec.Units
	}
	return total, nil
}

// Records returns a copy of the log in append order.
func (s *UsageStore) Records() []domain.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.UsageRecord(nil), s.records...)
}
