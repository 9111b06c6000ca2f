package storage

import (
	"context"

	"token-sale-lab/internal/domain"
)

// SaleStore provides access to sale configuration storage.
type SaleStore interface {
	// Insert adds a new sale. Returns ErrDuplicateKey if sale_id exists.
	Insert(ctx context.Context, r *domain.SaleRecord) error

	// GetByID retrieves a sale by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, saleID string) (*domain.SaleRecord, error)

	// GetAll retrieves all sales, ordered by created_at ASC.
	GetAll(ctx context.Context) ([]*domain.SaleRecord, error)
}

// TradeLogStore provides access to the append-only trade log.
type TradeLogStore interface {
	// Insert adds a new entry. Returns ErrDuplicateKey if (sale_id, seq) exists.
	Insert(ctx context.Context, e *domain.TradeLogEntry) error

	// InsertBulk adds multiple entries atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, entries []*domain.TradeLogEntry) error

	// GetBySaleID retrieves the full log for a sale, ordered by seq ASC.
	GetBySaleID(ctx context.Context, saleID string) ([]*domain.TradeLogEntry, error)

	// GetBySeqRange retrieves entries for a sale within [from, to] (inclusive), ordered by seq ASC.
	GetBySeqRange(ctx context.Context, saleID string, from, to int64) ([]*domain.TradeLogEntry, error)
}

// RebalanceStore provides access to rebalance snapshot storage.
type RebalanceStore interface {
	// Insert adds a new snapshot. Returns ErrDuplicateKey if (sale_id, epoch) exists.
	Insert(ctx context.Context, r *domain.RebalanceRecord) error

	// InsertBulk adds multiple snapshots atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, records []*domain.RebalanceRecord) error

	// GetBySaleID retrieves all snapshots for a sale, ordered by epoch ASC.
	GetBySaleID(ctx context.Context, saleID string) ([]*domain.RebalanceRecord, error)

	// GetByEpoch retrieves the snapshot for one epoch. Returns ErrNotFound if not exists.
	GetByEpoch(ctx context.Context, saleID string, epoch int64) (*domain.RebalanceRecord, error)
}

// FinalizationStore provides access to finalization outcome storage.
type FinalizationStore interface {
	// Insert adds the terminal record for a sale. Returns ErrDuplicateKey if sale_id exists.
	Insert(ctx context.Context, r *domain.FinalizationRecord) error

	// GetBySaleID retrieves the terminal record. Returns ErrNotFound if not exists.
	GetBySaleID(ctx context.Context, saleID string) (*domain.FinalizationRecord, error)
}
