package domain

import (
	"errors"
	"math/big"
)

// Trade delta validation errors.
var (
	ErrNilAmount   = errors.New("trade delta amounts must not be nil")
	ErrNegativeFee = errors.New("trade fees must not be negative")
)

// TradeDelta reports the signed result of one executed trade.
//
// Sign convention: AssetDelta is positive when asset leaves the curve to a
// buyer; NumeraireDelta is positive when numeraire enters the curve. Fee
// deltas are always non-negative and are excluded from reinvested proceeds.
type TradeDelta struct {
	Seq            int64 // per-sale sequence number, assigned on append
	Timestamp      int64 // unix seconds
	AssetDelta     *big.Int
	NumeraireDelta *big.Int
	FeeAsset       *big.Int
	FeeNumeraire   *big.Int
}

// Validate checks the delta is structurally usable.
func (d *TradeDelta) Validate() error {
	if d.AssetDelta == nil || d.NumeraireDelta == nil {
		return ErrNilAmount
	}
	if d.FeeAsset != nil && d.FeeAsset.Sign() < 0 {
		return ErrNegativeFee
	}
	if d.FeeNumeraire != nil && d.FeeNumeraire.Sign() < 0 {
		return ErrNegativeFee
	}
	return nil
}

// FeeAssetOrZero returns the asset fee, treating nil as zero.
func (d *TradeDelta) FeeAssetOrZero() *big.Int {
	if d.FeeAsset == nil {
		return new(big.Int)
	}
	return d.FeeAsset
}

// FeeNumeraireOrZero returns the numeraire fee, treating nil as zero.
func (d *TradeDelta) FeeNumeraireOrZero() *big.Int {
	if d.FeeNumeraire == nil {
		return new(big.Int)
	}
	return d.FeeNumeraire
}
