package clickhouse

import (
	"context"
	"fmt"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/storage"
)

// RebalanceStore implements storage.RebalanceStore using ClickHouse.
//
// MergeTree does not enforce uniqueness at insert time, so append-only
// semantics are checked with an explicit existence query before insert. One
// writer per sale makes this race-free in practice: the engine is
// single-writer by contract.
type RebalanceStore struct {
	conn *Conn
}

// NewRebalanceStore creates a new RebalanceStore.
func NewRebalanceStore(conn *Conn) *RebalanceStore {
	return &RebalanceStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RebalanceStore = (*RebalanceStore)(nil)

const rebalanceColumns = `
	sale_id, epoch, epochs_elapsed, branch, rebalanced_at,
	accumulator_wad, tick_lower, tick_upper, current_tick,
	total_tokens_sold, total_proceeds, lower_fallback, slugs
`

// Insert adds a new snapshot. Returns ErrDuplicateKey if (sale_id, epoch) exists.
func (s *RebalanceStore) Insert(ctx context.Context, r *domain.RebalanceRecord) error {
	if r == nil || r.SaleID == "" || r.Epoch <= 0 {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, r.SaleID, r.Epoch)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	slugs, err := storage.EncodeSlugs(r.Slugs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rebalances (` + rebalanceColumns + `) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?
		)
	`

	err = s.conn.Exec(ctx, query,
		r.SaleID, r.Epoch, r.EpochsElapsed, r.Branch, r.Timestamp,
		storage.EncodeBig(r.AccumulatorWad), int32(r.TickLower), int32(r.TickUpper), int32(r.CurrentTick),
		storage.EncodeBig(r.TotalTokensSold), storage.EncodeBig(r.TotalProceeds), r.LowerFallback, slugs,
	)
	if err != nil {
		return fmt.Errorf("insert rebalance: %w", err)
	}
	return nil
}

// InsertBulk adds multiple snapshots atomically. Fails entire batch on any duplicate.
func (s *RebalanceStore) InsertBulk(ctx context.Context, records []*domain.RebalanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		sale  string
		epoch int64
	}
	seen := make(map[key]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.SaleID == "" || r.Epoch <= 0 {
			return storage.ErrInvalidInput
		}
		k := key{r.SaleID, r.Epoch}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing rows
	for _, r := range records {
		exists, err := s.exists(ctx, r.SaleID, r.Epoch)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO rebalances (`+rebalanceColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		slugs, err := storage.EncodeSlugs(r.Slugs)
		if err != nil {
			return err
		}
		err = batch.Append(
			r.SaleID, r.Epoch, r.EpochsElapsed, r.Branch, r.Timestamp,
			storage.EncodeBig(r.AccumulatorWad), int32(r.TickLower), int32(r.TickUpper), int32(r.CurrentTick),
			storage.EncodeBig(r.TotalTokensSold), storage.EncodeBig(r.TotalProceeds), r.LowerFallback, slugs,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySaleID retrieves all snapshots for a sale, ordered by epoch ASC.
func (s *RebalanceStore) GetBySaleID(ctx context.Context, saleID string) ([]*domain.RebalanceRecord, error) {
	query := `
		SELECT ` + rebalanceColumns + `
		FROM rebalances FINAL
		WHERE sale_id = ?
		ORDER BY epoch ASC
	`

	rows, err := s.conn.Query(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("query by sale id: %w", err)
	}
	defer rows.Close()

	var records []*domain.RebalanceRecord
	for rows.Next() {
		r, err := scanRebalanceRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rebalance rows: %w", err)
	}
	return records, nil
}

// GetByEpoch retrieves the snapshot for one epoch. Returns ErrNotFound if not exists.
func (s *RebalanceStore) GetByEpoch(ctx context.Context, saleID string, epoch int64) (*domain.RebalanceRecord, error) {
	query := `
		SELECT ` + rebalanceColumns + `
		FROM rebalances FINAL
		WHERE sale_id = ? AND epoch = ?
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, saleID, epoch)
	if err != nil {
		return nil, fmt.Errorf("query by epoch: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, storage.ErrNotFound
	}
	return scanRebalanceRecord(rows)
}

// exists checks if a snapshot with the given key exists.
func (s *RebalanceStore) exists(ctx context.Context, saleID string, epoch int64) (bool, error) {
	query := `SELECT count(*) FROM rebalances FINAL WHERE sale_id = ? AND epoch = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, saleID, epoch).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRow is the subset of driver row types needed for scanning.
type chRow interface {
	Scan(dest ...interface{}) error
}

// scanRebalanceRecord scans a single row into a RebalanceRecord.
func scanRebalanceRecord(row chRow) (*domain.RebalanceRecord, error) {
	var (
		r                   domain.RebalanceRecord
		acc, sold, proceeds string
		lower, upper, cur   int32
		slugs               string
	)

	err := row.Scan(
		&r.SaleID, &r.Epoch, &r.EpochsElapsed, &r.Branch, &r.Timestamp,
		&acc, &lower, &upper, &cur,
		&sold, &proceeds, &r.LowerFallback, &slugs,
	)
	if err != nil {
		return nil, fmt.Errorf("scan rebalance row: %w", err)
	}

	r.TickLower, r.TickUpper, r.CurrentTick = int(lower), int(upper), int(cur)
	if r.AccumulatorWad, err = storage.DecodeBig(acc); err != nil {
		return nil, err
	}
	if r.TotalTokensSold, err = storage.DecodeBig(sold); err != nil {
		return nil, err
	}
	if r.TotalProceeds, err = storage.DecodeBig(proceeds); err != nil {
		return nil, err
	}
	if r.Slugs, err = storage.DecodeSlugs(slugs); err != nil {
		return nil, err
	}

	return &r, nil
}
