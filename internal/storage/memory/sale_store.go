package memory

import (
	"context"
	"sort"
	"sync"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/storage"
)

// SaleStore is an in-memory implementation of storage.SaleStore.
type SaleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SaleRecord // keyed by sale_id
}

// NewSaleStore creates a new in-memory sale store.
func NewSaleStore() *SaleStore {
	return &SaleStore{
		data: make(map[string]*domain.SaleRecord),
	}
}

var _ storage.SaleStore = (*SaleStore)(nil)

// Insert adds a new sale. Returns ErrDuplicateKey if sale_id exists.
func (s *SaleStore) Insert(_ context.Context, r *domain.SaleRecord) error {
	if r == nil || r.Config.SaleID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.Config.SaleID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.Config.SaleID] = cloneSaleRecord(r)
	return nil
}

// GetByID retrieves a sale by its ID. Returns ErrNotFound if not exists.
func (s *SaleStore) GetByID(_ context.Context, saleID string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[saleID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneSaleRecord(r), nil
}

// GetAll retrieves all sales, ordered by created_at ASC.
func (s *SaleStore) GetAll(_ context.Context) ([]*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SaleRecord, 0, len(s.data))
	for _, r := range s.data {
		result = append(result, cloneSaleRecord(r))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].Config.SaleID < result[j].Config.SaleID
	})

	return result, nil
}
