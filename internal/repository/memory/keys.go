// Package memory provides in-process repository implementations. They back
// the tests and let the service run without Postgres in development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/repository"
)

// KeyStore keeps API keys in a map. Records are copied in and out under the
// lock so readers never observe a partially updated key.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]*domain.APIKey
}

// NewKeyStore creates an empty store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]*domain.APIKey)}
}

var _ repository.KeyStore = (*KeyStore)(nil)

func (s *KeyStore) Put(_ context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.ID]; exists {
		return repository.ErrConflict
	}
	for _, existing := range s.keys {
		if existing.SecretHash == key.SecretHash {
			return repository.ErrConflict
		}
		if key.Status == domain.KeyStatusActive && existing.CustomerID == key.CustomerID && existing.Status == domain.KeyStatusActive {
			return repository.ErrConflict
		}
	}
	s.keys[key.ID] = cloneKey(key)
	return nil
}

func (s *KeyStore) GetByID(_ context.Context, id string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneKey(key), nil
}

func (s *KeyStore) GetByCustomer(_ context.Context, customerID string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.keys {
		if key.CustomerID == customerID && key.Status == domain.KeyStatusActive {
			return cloneKey(key), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *KeyStore) GetByHash(_ context.Context, hash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.keys {
		if key.SecretHash == hash {
			return cloneKey(key), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *KeyStore) ListByCustomer(_ context.Context, customerID string) ([]domain.APIKey, error) {
	return s.filter(func(k *domain.APIKey) bool { return k.CustomerID == customerID }), nil
}

func (s *KeyStore) ListLiveByCustomer(_ context.Context, customerID string) ([]domain.APIKey, error) {
	return s.filter(func(k *domain.APIKey) bool {
		return k.CustomerID == customerID && k.Status.Live()
	}), nil
}

func (s *KeyStore) ListExpiredRotating(_ context.Context, now time.Time) ([]domain.APIKey, error) {
	return s.filter(func(k *domain.APIKey) bool { return k.GraceExpired(now) }), nil
}

func (s *KeyStore) CompareAndSwap(_ context.Context, key *domain.APIKey, expected domain.KeyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.keys[key.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Status != expected {
		return repository.ErrConflict
	}
	if key.Status == domain.KeyStatusActive && expected != domain.KeyStatusActive {
		for id, other := range s.keys {
			if id != key.ID && other.CustomerID == current.CustomerID && other.Status == domain.KeyStatusActive {
				return repository.ErrConflict
			}
		}
	}
	updated := cloneKey(current)
	updated.Status = key.Status
	updated.RotatedAt = key.RotatedAt
	updated.GraceEndsAt = key.GraceEndsAt
	updated.RevokedAt = key.RevokedAt
	s.keys[key.ID] = updated
	return nil
}

func (s *KeyStore) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return repository.ErrNotFound
	}
	updated := cloneKey(key)
	updated.LastUsedAt = &at
	s.keys[id] = updated
	return nil
}

func (s *KeyStore) filter(match func(*domain.APIKey) bool) []domain.APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.APIKey
	for _, key := range s.keys {
		if match(key) {
			result = append(result, *cloneKey(key))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func cloneKey(key *domain.APIKey) *domain.APIKey {
	cp := *key
	cp.RotatedAt = cloneTime(key.RotatedAt)
	cp.GraceEndsAt = cloneTime(key.GraceEndsAt)
	cp.RevokedAt = cloneTime(key.RevokedAt)
	cp.LastUsedAt = cloneTime(key.LastUsedAt)
	if key.PreviousKeyID != nil {
		prev := *key.PreviousKeyID
		cp.PreviousKeyID = &prev
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
