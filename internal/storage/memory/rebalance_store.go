package memory

import (
	"context"
	"sort"
	"sync"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/storage"
)

// RebalanceStore is an in-memory implementation of storage.RebalanceStore.
type RebalanceStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.RebalanceRecord // sale_id -> epoch -> record
}

// NewRebalanceStore creates a new in-memory rebalance store.
func NewRebalanceStore() *RebalanceStore {
	return &RebalanceStore{
		data: make(map[string]map[int64]*domain.RebalanceRecord),
	}
}

var _ storage.RebalanceStore = (*RebalanceStore)(nil)

// Insert adds a new snapshot. Returns ErrDuplicateKey if (sale_id, epoch) exists.
func (s *RebalanceStore) Insert(_ context.Context, r *domain.RebalanceRecord) error {
	if r == nil || r.SaleID == "" || r.Epoch <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(r)
}

// InsertBulk adds multiple snapshots atomically. Fails entire batch on any duplicate.
func (s *RebalanceStore) InsertBulk(_ context.Context, records []*domain.RebalanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		sale  string
		epoch int64
	}
	batchKeys := make(map[key]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.SaleID == "" || r.Epoch <= 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[r.SaleID][r.Epoch]; exists {
			return storage.ErrDuplicateKey
		}
		k := key{r.SaleID, r.Epoch}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}
	}

	for _, r := range records {
		if err := s.insertLocked(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *RebalanceStore) insertLocked(r *domain.RebalanceRecord) error {
	bySale, ok := s.data[r.SaleID]
	if !ok {
		bySale = make(map[int64]*domain.RebalanceRecord)
		s.data[r.SaleID] = bySale
	}
	if _, exists := bySale[r.Epoch]; exists {
		return storage.ErrDuplicateKey
	}
	bySale[r.Epoch] = cloneRebalanceRecord(r)
	return nil
}

// GetBySaleID retrieves all snapshots for a sale, ordered by epoch ASC.
func (s *RebalanceStore) GetBySaleID(_ context.Context, saleID string) ([]*domain.RebalanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RebalanceRecord
	for _, r := range s.data[saleID] {
		result = append(result, cloneRebalanceRecord(r))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Epoch < result[j].Epoch
	})

	return result, nil
}

// GetByEpoch retrieves the snapshot for one epoch. Returns ErrNotFound if not exists.
func (s *RebalanceStore) GetByEpoch(_ context.Context, saleID string, epoch int64) (*domain.RebalanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[saleID][epoch]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneRebalanceRecord(r), nil
}
