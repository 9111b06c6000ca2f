package memory

import (
	"context"
	"sort"
	"sync"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/storage"
)

// TradeLogStore is an in-memory implementation of storage.TradeLogStore.
type TradeLogStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.TradeLogEntry // sale_id -> seq -> entry
}

// NewTradeLogStore creates a new in-memory trade log store.
func NewTradeLogStore() *TradeLogStore {
	return &TradeLogStore{
		data: make(map[string]map[int64]*domain.TradeLogEntry),
	}
}

var _ storage.TradeLogStore = (*TradeLogStore)(nil)

// Insert adds a new entry. Returns ErrDuplicateKey if (sale_id, seq) exists.
func (s *TradeLogStore) Insert(_ context.Context, e *domain.TradeLogEntry) error {
	if e == nil || e.SaleID == "" || e.Seq <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(e)
}

// InsertBulk adds multiple entries atomically. Fails entire batch on any duplicate.
func (s *TradeLogStore) InsertBulk(_ context.Context, entries []*domain.TradeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: check for duplicates (existing + intra-batch)
	type key struct {
		sale string
		seq  int64
	}
	batchKeys := make(map[key]struct{}, len(entries))
	for _, e := range entries {
		if e == nil || e.SaleID == "" || e.Seq <= 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.SaleID][e.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		k := key{e.SaleID, e.Seq}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}
	}

	// Second pass: insert all
	for _, e := range entries {
		if err := s.insertLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *TradeLogStore) insertLocked(e *domain.TradeLogEntry) error {
	log, ok := s.data[e.SaleID]
	if !ok {
		log = make(map[int64]*domain.TradeLogEntry)
		s.data[e.SaleID] = log
	}
	if _, exists := log[e.Seq]; exists {
		return storage.ErrDuplicateKey
	}
	log[e.Seq] = cloneTradeLogEntry(e)
	return nil
}

// GetBySaleID retrieves the full log for a sale, ordered by seq ASC.
func (s *TradeLogStore) GetBySaleID(ctx context.Context, saleID string) ([]*domain.TradeLogEntry, error) {
	return s.GetBySeqRange(ctx, saleID, 1, int64(1)<<62)
}

// GetBySeqRange retrieves entries for a sale within [from, to] (inclusive), ordered by seq ASC.
func (s *TradeLogStore) GetBySeqRange(_ context.Context, saleID string, from, to int64) ([]*domain.TradeLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeLogEntry
	for seq, e := range s.data[saleID] {
		if seq >= from && seq <= to {
			result = append(result, cloneTradeLogEntry(e))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}
