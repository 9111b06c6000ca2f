package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/storage"
)

// SaleStore implements storage.SaleStore using PostgreSQL.
type SaleStore struct {
	pool *Pool
}

// NewSaleStore creates a new SaleStore.
func NewSaleStore(pool *Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SaleStore = (*SaleStore)(nil)

const saleColumns = `
	sale_id, created_at,
	num_tokens_to_sell, minimum_proceeds, maximum_proceeds,
	starting_time, ending_time, epoch_length,
	starting_tick, ending_tick, gamma, tick_spacing,
	num_price_discovery_slugs, direction, early_exit_authorities
`

// Insert adds a new sale. Returns ErrDuplicateKey if sale_id exists.
func (s *SaleStore) Insert(ctx context.Context, r *domain.SaleRecord) error {
	if r == nil || r.Config.SaleID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO sales (` + saleColumns + `) VALUES (
			$1, $2,
			$3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15
		)
	`

	c := &r.Config
	_, err := s.pool.Exec(ctx, query,
		c.SaleID, r.CreatedAt,
		storage.EncodeBig(c.NumTokensToSell), storage.EncodeBig(c.MinimumProceeds), storage.EncodeBig(c.MaximumProceeds),
		c.StartingTime, c.EndingTime, c.EpochLength,
		c.StartingTick, c.EndingTick, c.Gamma, c.TickSpacing,
		c.NumPriceDiscoverySlugs, string(c.Direction), c.EarlyExitAuthorities,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

// GetByID retrieves a sale by its ID. Returns ErrNotFound if not exists.
func (s *SaleStore) GetByID(ctx context.Context, saleID string) (*domain.SaleRecord, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE sale_id = $1`

	row := s.pool.QueryRow(ctx, query, saleID)
	r, err := scanSaleRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get sale by id: %w", err)
	}
	return r, nil
}

// GetAll retrieves all sales, ordered by created_at ASC.
func (s *SaleStore) GetAll(ctx context.Context) ([]*domain.SaleRecord, error) {
	query := `SELECT ` + saleColumns + ` FROM sales ORDER BY created_at ASC, sale_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all sales: %w", err)
	}
	defer rows.Close()

	var sales []*domain.SaleRecord
	for rows.Next() {
		r, err := scanSaleRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale row: %w", err)
		}
		sales = append(sales, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale rows: %w", err)
	}
	return sales, nil
}

// scanSaleRecord scans a single row into a SaleRecord.
func scanSaleRecord(row pgx.Row) (*domain.SaleRecord, error) {
	var (
		r                  domain.SaleRecord
		supply, minP, maxP string
		direction          string
	)

	err := row.Scan(
		&r.Config.SaleID, &r.CreatedAt,
		&supply, &minP, &maxP,
		&r.Config.StartingTime, &r.Config.EndingTime, &r.Config.EpochLength,
		&r.Config.StartingTick, &r.Config.EndingTick, &r.Config.Gamma, &r.Config.TickSpacing,
		&r.Config.NumPriceDiscoverySlugs, &direction, &r.Config.EarlyExitAuthorities,
	)
	if err != nil {
		return nil, err
	}

	r.Config.Direction = domain.Direction(direction)
	if r.Config.NumTokensToSell, err = storage.DecodeBig(supply); err != nil {
		return nil, err
	}
	if r.Config.MinimumProceeds, err = storage.DecodeBig(minP); err != nil {
		return nil, err
	}
	if r.Config.MaximumProceeds, err = storage.DecodeBig(maxP); err != nil {
		return nil, err
	}

	return &r, nil
}
