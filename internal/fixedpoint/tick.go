package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// Tick bounds of the Q64.96 sqrt-price representation.
const (
	MinTick = -887272
	MaxTick = 887272
)

// Q96 is the UQ64.96 fixed-point number representing 1.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// Tick conversion errors.
var (
	ErrTickOutOfRange  = errors.New("tick out of range")
	ErrPriceOutOfRange = errors.New("price out of range")
)

// sqrtRatioLadder holds the per-bit multipliers of sqrt(1.0001)^-1 in
// Q128.128: entry i corresponds to tick bit 1<<i.
var sqrtRatioLadder = [20]*uint256.Int{
	hexU256("0xfffcb933bd6fad37aa2d162d1a594001"),
	hexU256("0xfff97272373d413259a46990580e213a"),
	hexU256("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	hexU256("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	hexU256("0xffcb9843d60f6159c9db58835c926644"),
	hexU256("0xff973b41fa98c081472e6896dfb254c0"),
	hexU256("0xff2ea16466c96a3843ec78b326b52861"),
	hexU256("0xfe5dee046a99a2a811c461f1969c3053"),
	hexU256("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	hexU256("0xf987a7253ac413176f2b074cf7815e54"),
	hexU256("0xf3392b0822b70005940c7a398e4b70f3"),
	hexU256("0xe7159475a2c29b7443b29c7fa6e889d9"),
	hexU256("0xd097f3bdfd2022b8845ad8f792aa5825"),
	hexU256("0xa9f746462d870fdf8a65dc1f90e061e5"),
	hexU256("0x70d869a156d2a1b890bb3df62baf32f7"),
	hexU256("0x31be135f97d08fd981231505542fcfa6"),
	hexU256("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	hexU256("0x5d6af8dedb81196699c329225ee604"),
	hexU256("0x2216e584f5fa1ea926041bedfe98"),
	hexU256("0x48a170391f7dc42444e8fa2"),
}

var q128One = hexU256("0x100000000000000000000000000000000")

func hexU256(s string) *uint256.Int {
	v, err := uint256.FromHex(s)
	if err != nil {
		panic(err)
	}
	return v
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) in Q64.96.
func SqrtRatioAtTick(tick int) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, ErrTickOutOfRange
	}
	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(uint256.Int).Set(q128One)
	if absTick&1 != 0 {
		ratio.Set(sqrtRatioLadder[0])
	}
	for i := 1; i < len(sqrtRatioLadder); i++ {
		if absTick&(1<<i) != 0 {
			ratio.Mul(ratio, sqrtRatioLadder[i])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		max := new(uint256.Int).Not(uint256.NewInt(0))
		ratio.Div(max, ratio)
	}

	// Q128.128 -> Q64.96, rounding up so the result never understates the
	// price.
	rem := new(uint256.Int).And(ratio, uint256.NewInt((1<<32)-1))
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio.ToBig(), nil
}

// TickAtSqrtRatio returns the largest tick whose sqrt ratio is at most
// sqrtX96. The lookup is a deterministic binary search over SqrtRatioAtTick.
func TickAtSqrtRatio(sqrtX96 *big.Int) (int, error) {
	minRatio, err := SqrtRatioAtTick(MinTick)
	if err != nil {
		return 0, err
	}
	maxRatio, err := SqrtRatioAtTick(MaxTick)
	if err != nil {
		return 0, err
	}
	if sqrtX96.Cmp(minRatio) < 0 || sqrtX96.Cmp(maxRatio) > 0 {
		return 0, ErrPriceOutOfRange
	}

	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		r, err := SqrtRatioAtTick(mid)
		if err != nil {
			return 0, err
		}
		if r.Cmp(sqrtX96) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// SqrtRatioAtPriceWad converts a 1e18-scale price (numeraire per asset)
// into a Q64.96 sqrt ratio: sqrt(priceWad * 2^192 / 1e18).
func SqrtRatioAtPriceWad(priceWad *big.Int) (*big.Int, error) {
	if priceWad.Sign() <= 0 {
		return nil, ErrPriceOutOfRange
	}
	scaled := new(big.Int).Lsh(priceWad, 192)
	scaled.Quo(scaled, Wad)
	return scaled.Sqrt(scaled), nil
}

// TickAtPriceWad returns the largest tick whose price is at most the given
// 1e18-scale price.
func TickAtPriceWad(priceWad *big.Int) (int, error) {
	sqrtX96, err := SqrtRatioAtPriceWad(priceWad)
	if err != nil {
		return 0, err
	}
	return TickAtSqrtRatio(sqrtX96)
}
