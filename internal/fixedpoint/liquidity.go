package fixedpoint

import (
	"errors"
	"math/big"
)

// Liquidity math errors.
var (
	ErrInvalidRange  = errors.New("sqrt ratio bounds must be ordered and positive")
	ErrZeroLiquidity = errors.New("liquidity must be positive")
)

// AssetAmountDelta returns the asset (price-rises-with-tick side) amount
// held between two sqrt ratios at the given liquidity:
// L * 2^96 * (sb - sa) / (sb * sa).
func AssetAmountDelta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) (*big.Int, error) {
	if sqrtA.Sign() <= 0 || sqrtB.Cmp(sqrtA) < 0 {
		return nil, ErrInvalidRange
	}
	numerator := new(big.Int).Lsh(liquidity, 96)
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		v, err := MulDivUp(numerator, diff, sqrtB)
		if err != nil {
			return nil, err
		}
		return MulDivUp(v, big.NewInt(1), sqrtA)
	}
	v, err := MulDivDown(numerator, diff, sqrtB)
	if err != nil {
		return nil, err
	}
	return MulDivDown(v, big.NewInt(1), sqrtA)
}

// NumeraireAmountDelta returns the numeraire amount held between two sqrt
// ratios at the given liquidity: L * (sb - sa) / 2^96.
func NumeraireAmountDelta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) (*big.Int, error) {
	if sqrtA.Sign() <= 0 || sqrtB.Cmp(sqrtA) < 0 {
		return nil, ErrInvalidRange
	}
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return MulDivUp(liquidity, diff, Q96)
	}
	return MulDivDown(liquidity, diff, Q96)
}

// LiquidityForAsset returns the liquidity such that the range [sa, sb]
// holds exactly the given asset amount when the price sits at or below sa.
func LiquidityForAsset(sqrtA, sqrtB, amount *big.Int) (*big.Int, error) {
	if sqrtA.Sign() <= 0 || sqrtB.Cmp(sqrtA) <= 0 {
		return nil, ErrInvalidRange
	}
	intermediate, err := MulDivDown(sqrtA, sqrtB, Q96)
	if err != nil {
		return nil, err
	}
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	return MulDivDown(amount, intermediate, diff)
}

// LiquidityForNumeraire returns the liquidity such that the range [sa, sb]
// holds exactly the given numeraire amount when the price sits at or above
// sb.
func LiquidityForNumeraire(sqrtA, sqrtB, amount *big.Int) (*big.Int, error) {
	if sqrtA.Sign() <= 0 || sqrtB.Cmp(sqrtA) <= 0 {
		return nil, ErrInvalidRange
	}
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	return MulDivDown(amount, Q96, diff)
}

// NextSqrtRatioFromNumeraireIn returns the sqrt ratio after swapping the
// given numeraire amount into a range with the given liquidity, moving the
// price up: sqrtP + in * 2^96 / L. Rounds down so the price never
// overstates progress.
func NextSqrtRatioFromNumeraireIn(sqrtP, liquidity, amountIn *big.Int) (*big.Int, error) {
	if liquidity.Sign() <= 0 {
		return nil, ErrZeroLiquidity
	}
	step, err := MulDivDown(amountIn, Q96, liquidity)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(sqrtP, step), nil
}

// NextSqrtRatioFromAssetIn returns the sqrt ratio after swapping the given
// asset amount into a range with the given liquidity, moving the price
// down: L * 2^96 * sqrtP / (L * 2^96 + in * sqrtP). Rounds up so the curve
// never oversupplies numeraire.
func NextSqrtRatioFromAssetIn(sqrtP, liquidity, amountIn *big.Int) (*big.Int, error) {
	if liquidity.Sign() <= 0 {
		return nil, ErrZeroLiquidity
	}
	numerator := new(big.Int).Lsh(liquidity, 96)
	denominator := new(big.Int).Mul(amountIn, sqrtP)
	denominator.Add(denominator, numerator)
	return MulDivUp(numerator, sqrtP, denominator)
}
