// Package rebalance computes the once-per-epoch curve shift. All ticks here
// are curve coordinates: the asset price rises with the tick, the curve
// decays from the starting tick down toward the ending tick, and the
// accumulator is the cumulative (never positive) shift in 1e18-scaled ticks.
package rebalance

import (
	"errors"
	"math/big"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/fixedpoint"
)

// Step errors.
var (
	ErrNilInput      = errors.New("rebalance input amounts must not be nil")
	ErrNegativeEpoch = errors.New("epochs elapsed must not be negative")
)

// Input carries everything one shift decision depends on.
type Input struct {
	// EpochsElapsed is the number of completed epochs the shift covers.
	// Zero on the very first rebalance of the opening epoch.
	EpochsElapsed int64

	// ExpectedSold is the scheduled cumulative sales at the end of the
	// previous epoch.
	ExpectedSold *big.Int

	TotalSold          *big.Int
	SoldAtLastBoundary *big.Int

	// CurrentTick is the pool price coordinate, in curve coordinates.
	CurrentTick int

	// AccumulatorWad is the shift accumulated so far.
	AccumulatorWad *big.Int
}

// Result is the applied shift and the curve bounds it implies.
type Result struct {
	AccumulatorWad *big.Int
	TickLower      int
	TickUpper      int
	Branch         string
}

// Rebalancer holds the sale-constant curve parameters.
type Rebalancer struct {
	supply      *big.Int
	startTick   int // curve coordinates; startTick > endTick
	endTick     int
	gamma       int
	spacing     int
	totalEpochs int64

	maxDeltaWad *big.Int // per-epoch maximum shift, negative
	minAccWad   *big.Int // full-decay accumulator, wad(endTick-startTick)
}

// New builds a rebalancer. Inputs are assumed validated by the caller.
func New(supply *big.Int, startTick, endTick, gamma, spacing int, totalEpochs int64) *Rebalancer {
	maxDelta, _ := fixedpoint.MulDivDown(
		fixedpoint.WadFromInt(int64(endTick-startTick)),
		big.NewInt(1),
		big.NewInt(totalEpochs),
	)
	return &Rebalancer{
		supply:      new(big.Int).Set(supply),
		startTick:   startTick,
		endTick:     endTick,
		gamma:       gamma,
		spacing:     spacing,
		totalEpochs: totalEpochs,
		maxDeltaWad: maxDelta,
		minAccWad:   fixedpoint.WadFromInt(int64(endTick - startTick)),
	}
}

// MaxDeltaPerEpochWad returns the per-epoch maximum shift (negative).
func (r *Rebalancer) MaxDeltaPerEpochWad() *big.Int {
	return new(big.Int).Set(r.maxDeltaWad)
}

// Step decides the shift for one due rebalance. Exactly one of three rules
// applies, evaluated in order:
//
//  1. no net sales since the last boundary: the full per-epoch shift,
//     multiplied by every epoch the gap covered;
//  2. net-positive sales but at or behind schedule: the per-epoch shift
//     scaled by the under-sold fraction (on-schedule yields zero);
//  3. ahead of schedule: snap the curve toward the current price by the
//     tick distance between it and the schedule position for the expected
//     amount sold.
//
// The resulting accumulator is saturated so the curve bounds never leave
// the [endTick, startTick] band, and the derived lower bound rounds toward
// the lesser shift before spacing alignment so liquidity is never
// undersupplied.
func (r *Rebalancer) Step(in Input) (Result, error) {
	if in.ExpectedSold == nil || in.TotalSold == nil || in.SoldAtLastBoundary == nil || in.AccumulatorWad == nil {
		return Result{}, ErrNilInput
	}
	if in.EpochsElapsed < 0 {
		return Result{}, ErrNegativeEpoch
	}

	netSold := new(big.Int).Sub(in.TotalSold, in.SoldAtLastBoundary)

	var branch string
	delta := new(big.Int)
	switch {
	case netSold.Sign() <= 0:
		branch = domain.BranchMaxDutch
		delta.Mul(r.maxDeltaWad, big.NewInt(in.EpochsElapsed))

	case in.ExpectedSold.Sign() > 0 && in.TotalSold.Cmp(in.ExpectedSold) <= 0:
		branch = domain.BranchRelativeDutch
		soldFrac, err := fixedpoint.MulDivDown(in.TotalSold, fixedpoint.Wad, in.ExpectedSold)
		if err != nil {
			return Result{}, err
		}
		undersold := new(big.Int).Sub(fixedpoint.Wad, soldFrac)
		delta, err = fixedpoint.MulDivDown(r.maxDeltaWad, undersold, fixedpoint.Wad)
		if err != nil {
			return Result{}, err
		}

	default:
		branch = domain.BranchOversold
		// Schedule position for the expected amount sold: the sold
		// fraction interpolated onto the tick span.
		span := fixedpoint.WadFromInt(int64(r.endTick - r.startTick))
		offset, err := fixedpoint.MulDivDown(span, in.ExpectedSold, r.supply)
		if err != nil {
			return Result{}, err
		}
		expectedTickWad := new(big.Int).Add(fixedpoint.WadFromInt(int64(r.startTick)), offset)
		delta.Sub(fixedpoint.WadFromInt(int64(in.CurrentTick)), expectedTickWad)
		// The snap only ever moves toward the sold side.
		if delta.Sign() < 0 {
			delta.SetInt64(0)
		}
	}

	acc := new(big.Int).Add(in.AccumulatorWad, delta)
	acc = fixedpoint.ClampBig(acc, r.minAccWad, new(big.Int))

	// Round the derived lower bound toward the lesser shift, then align.
	tickLower := r.startTick + int(fixedpoint.CeilWad(acc))
	tickLower = fixedpoint.AlignUp(tickLower, r.spacing)
	tickLower = fixedpoint.ClampInt(tickLower, r.endTick, r.startTick)

	return Result{
		AccumulatorWad: acc,
		TickLower:      tickLower,
		TickUpper:      tickLower + r.gamma,
		Branch:         branch,
	}, nil
}

// TerminalReached reports whether the accumulator has decayed the curve all
// the way to its price floor.
func (r *Rebalancer) TerminalReached(accWad *big.Int) bool {
	return accWad.Cmp(r.minAccWad) <= 0
}
