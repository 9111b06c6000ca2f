package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/storage"
)

// TradeLogStore implements storage.TradeLogStore using PostgreSQL.
type TradeLogStore struct {
	pool *Pool
}

// NewTradeLogStore creates a new TradeLogStore.
func NewTradeLogStore(pool *Pool) *TradeLogStore {
	return &TradeLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeLogStore = (*TradeLogStore)(nil)

const tradeLogColumns = `
	sale_id, seq, trade_time, current_tick,
	asset_delta, numeraire_delta, fee_asset, fee_numeraire
`

const tradeLogInsert = `
	INSERT INTO trade_log (` + tradeLogColumns + `) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8
	)
`

// Insert adds a new entry. Returns ErrDuplicateKey if (sale_id, seq) exists.
func (s *TradeLogStore) Insert(ctx context.Context, e *domain.TradeLogEntry) error {
	if e == nil || e.SaleID == "" || e.Seq <= 0 {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, tradeLogInsert,
		e.SaleID, e.Seq, e.Timestamp, e.CurrentTick,
		storage.EncodeBig(e.AssetDelta), storage.EncodeBig(e.NumeraireDelta),
		storage.EncodeBig(e.FeeAsset), storage.EncodeBig(e.FeeNumeraire),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade log entry: %w", err)
	}
	return nil
}

// InsertBulk adds multiple entries atomically. Fails entire batch on any duplicate.
func (s *TradeLogStore) InsertBulk(ctx context.Context, entries []*domain.TradeLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if e == nil || e.SaleID == "" || e.Seq <= 0 {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, tradeLogInsert,
			e.SaleID, e.Seq, e.Timestamp, e.CurrentTick,
			storage.EncodeBig(e.AssetDelta), storage.EncodeBig(e.NumeraireDelta),
			storage.EncodeBig(e.FeeAsset), storage.EncodeBig(e.FeeNumeraire),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade log entry in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetBySaleID retrieves the full log for a sale, ordered by seq ASC.
func (s *TradeLogStore) GetBySaleID(ctx context.Context, saleID string) ([]*domain.TradeLogEntry, error) {
	query := `
		SELECT ` + tradeLogColumns + `
		FROM trade_log
		WHERE sale_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, saleID)
	if err != nil {
		return nil, fmt.Errorf("get trade log by sale id: %w", err)
	}
	defer rows.Close()

	return scanTradeLogEntries(rows)
}

// GetBySeqRange retrieves entries for a sale within [from, to] (inclusive), ordered by seq ASC.
func (s *TradeLogStore) GetBySeqRange(ctx context.Context, saleID string, from, to int64) ([]*domain.TradeLogEntry, error) {
	query := `
		SELECT ` + tradeLogColumns + `
		FROM trade_log
		WHERE sale_id = $1 AND seq >= $2 AND seq <= $3
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, saleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("get trade log by seq range: %w", err)
	}
	defer rows.Close()

	return scanTradeLogEntries(rows)
}

// scanTradeLogEntries scans multiple rows into a slice of TradeLogEntry.
func scanTradeLogEntries(rows pgx.Rows) ([]*domain.TradeLogEntry, error) {
	var entries []*domain.TradeLogEntry

	for rows.Next() {
		var (
			e                        domain.TradeLogEntry
			asset, numeraire, fa, fn string
		)

		err := rows.Scan(
			&e.SaleID, &e.Seq, &e.Timestamp, &e.CurrentTick,
			&asset, &numeraire, &fa, &fn,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade log row: %w", err)
		}

		if e.AssetDelta, err = storage.DecodeBig(asset); err != nil {
			return nil, err
		}
		if e.NumeraireDelta, err = storage.DecodeBig(numeraire); err != nil {
			return nil, err
		}
		if e.FeeAsset, err = storage.DecodeBig(fa); err != nil {
			return nil, err
		}
		if e.FeeNumeraire, err = storage.DecodeBig(fn); err != nil {
			return nil, err
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade log rows: %w", err)
	}

	return entries, nil
}
