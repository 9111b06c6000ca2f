package postgres

import (
	"context"
	"fmt"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/storage"
)

// FinalizationStore implements storage.FinalizationStore using PostgreSQL.
type FinalizationStore struct {
	pool *Pool
}

// NewFinalizationStore creates a new FinalizationStore.
func NewFinalizationStore(pool *Pool) *FinalizationStore {
	return &FinalizationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FinalizationStore = (*FinalizationStore)(nil)

// Insert adds the terminal record for a sale. Returns ErrDuplicateKey if sale_id exists.
func (s *FinalizationStore) Insert(ctx context.Context, r *domain.FinalizationRecord) error {
	if r == nil || r.SaleID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO finalizations (
			sale_id, reason, finalized_at,
			clearing_price_wad, asset_balance, numeraire_balance,
			fees_asset, fees_numeraire
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8
		)
	`

	_, err := s.pool.Exec(ctx, query,
		r.SaleID, r.Reason, r.Timestamp,
		storage.EncodeBig(r.ClearingPriceWad), storage.EncodeBig(r.AssetBalance), storage.EncodeBig(r.NumeraireBalance),
		storage.EncodeBig(r.FeesAsset), storage.EncodeBig(r.FeesNumeraire),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert finalization: %w", err)
	}
	return nil
}

// GetBySaleID retrieves the terminal record. Returns ErrNotFound if not exists.
func (s *FinalizationStore) GetBySaleID(ctx context.Context, saleID string) (*domain.FinalizationRecord, error) {
	query := `
		SELECT
			sale_id, reason, finalized_at,
			clearing_price_wad, asset_balance, numeraire_balance,
			fees_asset, fees_numeraire
		FROM finalizations
		WHERE sale_id = $1
	`

	var (
		r                        domain.FinalizationRecord
		clearing, ab, nb, fa, fn string
	)

	err := s.pool.QueryRow(ctx, query, saleID).Scan(
		&r.SaleID, &r.Reason, &r.Timestamp,
		&clearing, &ab, &nb,
		&fa, &fn,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get finalization by sale id: %w", err)
	}

	if r.ClearingPriceWad, err = storage.DecodeBig(clearing); err != nil {
		return nil, err
	}
	if r.AssetBalance, err = storage.DecodeBig(ab); err != nil {
		return nil, err
	}
	if r.NumeraireBalance, err = storage.DecodeBig(nb); err != nil {
		return nil, err
	}
	if r.FeesAsset, err = storage.DecodeBig(fa); err != nil {
		return nil, err
	}
	if r.FeesNumeraire, err = storage.DecodeBig(fn); err != nil {
		return nil, err
	}

	return &r, nil
}
