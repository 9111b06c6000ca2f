// Package fixedpoint implements the integer arithmetic shared by the curve
// engine: 1e18-scale (wad) fractions, mul-div with explicit rounding,
// tick-spacing alignment, and price/tick conversions. No floating point is
// used anywhere; identical inputs must re-derive identical results.
package fixedpoint

import (
	"errors"
	"math/big"
)

// Wad is the 1e18 fixed-point scale shared with the external pool.
var Wad = big.NewInt(1_000_000_000_000_000_000)

// ErrDivisionByZero is returned by mul-div helpers on a zero denominator.
var ErrDivisionByZero = errors.New("division by zero")

// MulDivDown returns a*b/den rounded toward negative infinity.
func MulDivDown(a, b, den *big.Int) (*big.Int, error) {
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	p := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(p, den, new(big.Int))
	// Quo truncates toward zero; push negative results down.
	if r.Sign() != 0 && (p.Sign() < 0) != (den.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return q, nil
}

// MulDivUp returns a*b/den rounded toward positive infinity.
func MulDivUp(a, b, den *big.Int) (*big.Int, error) {
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	p := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(p, den, new(big.Int))
	if r.Sign() != 0 && (p.Sign() < 0) == (den.Sign() < 0) {
		q.Add(q, big.NewInt(1))
	}
	return q, nil
}

// WadFromInt lifts an integer tick count into wad scale.
func WadFromInt(x int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(x), Wad)
}

// FloorWad converts a wad-scaled value to an integer, rounding toward
// negative infinity.
func FloorWad(x *big.Int) int64 {
	q, r := new(big.Int).QuoRem(x, Wad, new(big.Int))
	if r.Sign() < 0 {
		q.Sub(q, big.NewInt(1))
	}
	return q.Int64()
}

// CeilWad converts a wad-scaled value to an integer, rounding toward
// positive infinity.
func CeilWad(x *big.Int) int64 {
	q, r := new(big.Int).QuoRem(x, Wad, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Int64()
}

// ClampBig bounds x into [lo, hi], returning a fresh value.
func ClampBig(x, lo, hi *big.Int) *big.Int {
	if x.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if x.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(x)
}

// AlignDown rounds a tick toward negative infinity to a spacing multiple.
func AlignDown(tick, spacing int) int {
	r := tick % spacing
	if r == 0 {
		return tick
	}
	if tick < 0 {
		return tick - r - spacing
	}
	return tick - r
}

// AlignUp rounds a tick toward positive infinity to a spacing multiple.
func AlignUp(tick, spacing int) int {
	r := tick % spacing
	if r == 0 {
		return tick
	}
	if tick < 0 {
		return tick - r
	}
	return tick - r + spacing
}

// ClampInt bounds an integer tick into [lo, hi].
func ClampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
