package memory

import (
	"context"
	"sync"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/storage"
)

// FinalizationStore is an in-memory implementation of storage.FinalizationStore.
type FinalizationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FinalizationRecord // keyed by sale_id
}

// NewFinalizationStore creates a new in-memory finalization store.
func NewFinalizationStore() *FinalizationStore {
	return &FinalizationStore{
		data: make(map[string]*domain.FinalizationRecord),
	}
}

var _ storage.FinalizationStore = (*FinalizationStore)(nil)

// Insert adds the terminal record for a sale. Returns ErrDuplicateKey if sale_id exists.
func (s *FinalizationStore) Insert(_ context.Context, r *domain.FinalizationRecord) error {
	if r == nil || r.SaleID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.SaleID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.SaleID] = cloneFinalizationRecord(r)
	return nil
}

// GetBySaleID retrieves the terminal record. Returns ErrNotFound if not exists.
func (s *FinalizationStore) GetBySaleID(_ context.Context, saleID string) (*domain.FinalizationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[saleID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneFinalizationRecord(r), nil
}
