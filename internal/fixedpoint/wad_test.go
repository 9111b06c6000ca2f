package fixedpoint

import (
	"math/big"
	"testing"
)

func TestMulDivDown_RoundsTowardNegativeInfinity(t *testing.T) {
	cases := []struct {
		a, b, den int64
		want      int64
	}{
		{7, 1, 2, 3},
		{-7, 1, 2, -4},
		{7, 1, -2, -4},
		{-7, 1, -2, 3},
		{6, 1, 2, 3},
		{-6, 1, 2, -3},
		{0, 5, 3, 0},
	}
	for _, c := range cases {
		got, err := MulDivDown(big.NewInt(c.a), big.NewInt(c.b), big.NewInt(c.den))
		if err != nil {
			t.Fatalf("MulDivDown(%d,%d,%d): unexpected error: %v", c.a, c.b, c.den, err)
		}
		if got.Int64() != c.want {
			t.Errorf("MulDivDown(%d,%d,%d) = %d, want %d", c.a, c.b, c.den, got.Int64(), c.want)
		}
	}
}

func TestMulDivUp_RoundsTowardPositiveInfinity(t *testing.T) {
	cases := []struct {
		a, b, den int64
		want      int64
	}{
		{7, 1, 2, 4},
		{-7, 1, 2, -3},
		{7, 1, -2, -3},
		{-7, 1, -2, 4},
		{6, 1, 2, 3},
		{-6, 1, 2, -3},
		{0, 5, 3, 0},
	}
	for _, c := range cases {
		got, err := MulDivUp(big.NewInt(c.a), big.NewInt(c.b), big.NewInt(c.den))
		if err != nil {
			t.Fatalf("MulDivUp(%d,%d,%d): unexpected error: %v", c.a, c.b, c.den, err)
		}
		if got.Int64() != c.want {
			t.Errorf("MulDivUp(%d,%d,%d) = %d, want %d", c.a, c.b, c.den, got.Int64(), c.want)
		}
	}
}

func TestMulDiv_ZeroDenominator(t *testing.T) {
	if _, err := MulDivDown(big.NewInt(1), big.NewInt(1), new(big.Int)); err != ErrDivisionByZero {
		t.Errorf("MulDivDown: expected ErrDivisionByZero, got %v", err)
	}
	if _, err := MulDivUp(big.NewInt(1), big.NewInt(1), new(big.Int)); err != ErrDivisionByZero {
		t.Errorf("MulDivUp: expected ErrDivisionByZero, got %v", err)
	}
}

func TestFloorCeilWad(t *testing.T) {
	half := new(big.Int).Quo(Wad, big.NewInt(2)) // 0.5 in wad

	if got := FloorWad(half); got != 0 {
		t.Errorf("FloorWad(0.5) = %d, want 0", got)
	}
	if got := CeilWad(half); got != 1 {
		t.Errorf("CeilWad(0.5) = %d, want 1", got)
	}

	negHalf := new(big.Int).Neg(half)
	if got := FloorWad(negHalf); got != -1 {
		t.Errorf("FloorWad(-0.5) = %d, want -1", got)
	}
	if got := CeilWad(negHalf); got != 0 {
		t.Errorf("CeilWad(-0.5) = %d, want 0", got)
	}

	exact := WadFromInt(-3)
	if got := FloorWad(exact); got != -3 {
		t.Errorf("FloorWad(-3.0) = %d, want -3", got)
	}
	if got := CeilWad(exact); got != -3 {
		t.Errorf("CeilWad(-3.0) = %d, want -3", got)
	}
}

func TestWadFromInt_RoundTrip(t *testing.T) {
	for _, v := range []int64{-1000, -1, 0, 1, 1000} {
		w := WadFromInt(v)
		if got := FloorWad(w); got != v {
			t.Errorf("FloorWad(WadFromInt(%d)) = %d", v, got)
		}
		if got := CeilWad(w); got != v {
			t.Errorf("CeilWad(WadFromInt(%d)) = %d", v, got)
		}
	}
}

func TestAlignDown(t *testing.T) {
	cases := []struct {
		tick, spacing, want int
	}{
		{15, 10, 10},
		{10, 10, 10},
		{-5, 10, -10},
		{-10, 10, -10},
		{-15, 10, -20},
		{0, 10, 0},
		{7, 1, 7},
	}
	for _, c := range cases {
		if got := AlignDown(c.tick, c.spacing); got != c.want {
			t.Errorf("AlignDown(%d, %d) = %d, want %d", c.tick, c.spacing, got, c.want)
		}
	}
}

func TestAlignUp(t *testing.T) {
	cases := []struct {
		tick, spacing, want int
	}{
		{15, 10, 20},
		{10, 10, 10},
		{-5, 10, 0},
		{-10, 10, -10},
		{-15, 10, -10},
		{0, 10, 0},
		{7, 1, 7},
	}
	for _, c := range cases {
		if got := AlignUp(c.tick, c.spacing); got != c.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", c.tick, c.spacing, got, c.want)
		}
	}
}

func TestClampBig(t *testing.T) {
	lo, hi := big.NewInt(-10), big.NewInt(10)

	if got := ClampBig(big.NewInt(-20), lo, hi); got.Cmp(lo) != 0 {
		t.Errorf("expected clamp to lower bound, got %s", got)
	}
	if got := ClampBig(big.NewInt(20), lo, hi); got.Cmp(hi) != 0 {
		t.Errorf("expected clamp to upper bound, got %s", got)
	}
	if got := ClampBig(big.NewInt(5), lo, hi); got.Int64() != 5 {
		t.Errorf("expected 5 unchanged, got %s", got)
	}

	// The result must be a fresh value, not an alias of the bound.
	got := ClampBig(big.NewInt(-20), lo, hi)
	got.SetInt64(99)
	if lo.Int64() != -10 {
		t.Error("ClampBig aliased its bound")
	}
}

func TestClampInt(t *testing.T) {
	if got := ClampInt(-20, -10, 10); got != -10 {
		t.Errorf("ClampInt(-20) = %d", got)
	}
	if got := ClampInt(20, -10, 10); got != 10 {
		t.Errorf("ClampInt(20) = %d", got)
	}
	if got := ClampInt(3, -10, 10); got != 3 {
		t.Errorf("ClampInt(3) = %d", got)
	}
}
