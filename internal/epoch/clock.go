// Package epoch maps wall-clock time onto the sale's epoch grid and the
// pre-agreed sales schedule.
package epoch

import (
	"errors"
	"math/big"

	"token-sale-lab/internal/fixedpoint"
)

// Clock construction errors.
var (
	ErrInvalidWindow = errors.New("ending time must be after starting time")
	ErrZeroLength    = errors.New("epoch length must be positive")
)

// Clock converts timestamps to epoch ordinals and schedule fractions.
// Epochs are numbered from 1; ordinal 0 means "before the sale starts".
type Clock struct {
	start  int64
	end    int64
	length int64
	total  int64
}

// NewClock builds a clock over [start, end) sliced into length-second
// epochs. A trailing partial slice counts as a full epoch.
func NewClock(start, end, length int64) (Clock, error) {
	if end <= start {
		return Clock{}, ErrInvalidWindow
	}
	if length <= 0 {
		return Clock{}, ErrZeroLength
	}
	total := (end - start + length - 1) / length
	return Clock{start: start, end: end, length: length, total: total}, nil
}

// TotalEpochs returns the epoch count of the sale.
func (c Clock) TotalEpochs() int64 { return c.total }

// CurrentEpoch returns the 1-based epoch ordinal containing now, 0 before
// the sale starts, and the final ordinal for any time at or past the end.
func (c Clock) CurrentEpoch(now int64) int64 {
	if now < c.start {
		return 0
	}
	if now > c.end-1 {
		now = c.end - 1
	}
	return 1 + (now-c.start)/c.length
}

// EpochStart returns the first instant of epoch n.
func (c Clock) EpochStart(n int64) int64 {
	return c.start + (n-1)*c.length
}

// EpochEnd returns the first instant after epoch n, capped at the sale end.
func (c Clock) EpochEnd(n int64) int64 {
	end := c.start + n*c.length
	if end > c.end {
		end = c.end
	}
	return end
}

// EpochsRemaining returns how many epochs follow epoch n.
func (c Clock) EpochsRemaining(n int64) int64 {
	if n >= c.total {
		return 0
	}
	return c.total - n
}

// ElapsedWad returns the elapsed fraction of the sale in 1e18 scale,
// clamped to [0, 1e18].
func (c Clock) ElapsedWad(now int64) *big.Int {
	if now <= c.start {
		return new(big.Int)
	}
	if now >= c.end {
		return new(big.Int).Set(fixedpoint.Wad)
	}
	frac, _ := fixedpoint.MulDivDown(
		big.NewInt(now-c.start),
		fixedpoint.Wad,
		big.NewInt(c.end-c.start),
	)
	return frac
}

// ExpectedSold returns the scheduled cumulative sales at time now for the
// given supply: supply * elapsed / duration, computed in one division so
// the schedule is exact on epoch boundaries.
func (c Clock) ExpectedSold(now int64, supply *big.Int) *big.Int {
	if now <= c.start {
		return new(big.Int)
	}
	if now >= c.end {
		return new(big.Int).Set(supply)
	}
	v, _ := fixedpoint.MulDivDown(
		supply,
		big.NewInt(now-c.start),
		big.NewInt(c.end-c.start),
	)
	return v
}
