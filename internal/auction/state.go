package auction

import (
	"math/big"

	"token-sale-lab/internal/domain"
)

// Snapshot is a copy of the full mutable sale state, used by replay
// verification and monitoring. Comparing two snapshots field by field is
// exact: all values are integers.
type Snapshot struct {
	AccumulatorWad *big.Int
	LastEpoch      int64

	TotalTokensSold    *big.Int
	SoldAtLastBoundary *big.Int
	TotalProceeds      *big.Int
	FeesAsset          *big.Int
	FeesNumeraire      *big.Int

	TickLower int
	TickUpper int

	EarlyExit            bool
	InsufficientProceeds bool
	Finalized            bool
}

// Snapshot copies the current state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		AccumulatorWad:       new(big.Int).Set(e.accWad),
		LastEpoch:            e.lastEpoch,
		TotalTokensSold:      new(big.Int).Set(e.totalSold),
		SoldAtLastBoundary:   new(big.Int).Set(e.soldAtBoundary),
		TotalProceeds:        new(big.Int).Set(e.totalProceeds),
		FeesAsset:            new(big.Int).Set(e.feesAsset),
		FeesNumeraire:        new(big.Int).Set(e.feesNumeraire),
		TickLower:            e.tickLower,
		TickUpper:            e.tickUpper,
		EarlyExit:            e.earlyExit,
		InsufficientProceeds: e.insufficientProceeds,
		Finalized:            e.finalized,
	}
}

// Config returns the immutable sale configuration.
func (e *Engine) Config() *domain.SaleConfig { return e.cfg }

// TickAccumulatorWad returns the cumulative curve shift in 1e18-scaled
// curve ticks.
func (e *Engine) TickAccumulatorWad() *big.Int { return new(big.Int).Set(e.accWad) }

// TotalTokensSold returns the cumulative asset sold off the curve.
func (e *Engine) TotalTokensSold() *big.Int { return new(big.Int).Set(e.totalSold) }

// TotalProceeds returns the cumulative numeraire collected, net of fees.
func (e *Engine) TotalProceeds() *big.Int { return new(big.Int).Set(e.totalProceeds) }

// FeesAccrued returns the accrued (asset, numeraire) fee balances.
func (e *Engine) FeesAccrued() (*big.Int, *big.Int) {
	return new(big.Int).Set(e.feesAsset), new(big.Int).Set(e.feesNumeraire)
}

// CurrentSlugs returns a copy of the slug set placed by the last rebalance,
// or nil before the first rebalance and after finalization.
func (e *Engine) CurrentSlugs() []domain.Slug { return domain.CloneSlugs(e.current) }

// LastRebalance returns the record of the most recent applied rebalance, or
// nil if none has run.
func (e *Engine) LastRebalance() *domain.RebalanceRecord { return e.lastRecord }

// LastEpoch returns the last epoch for which a rebalance ran.
func (e *Engine) LastEpoch() int64 { return e.lastEpoch }

// CurveBounds returns the rebalanced curve bounds in curve coordinates.
func (e *Engine) CurveBounds() (int, int) { return e.tickLower, e.tickUpper }

// EarlyExit reports whether an early exit has been triggered.
func (e *Engine) EarlyExit() bool { return e.earlyExit }

// InsufficientProceeds reports whether the sale closed below its proceeds
// floor.
func (e *Engine) InsufficientProceeds() bool { return e.insufficientProceeds }

// Finalized reports whether Finalize has run.
func (e *Engine) Finalized() bool { return e.finalized }
