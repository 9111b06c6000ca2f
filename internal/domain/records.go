package domain

import "math/big"

// Rebalance branch constants, naming which rule produced a curve shift.
const (
	BranchMaxDutch      = "MAX_DUTCH"
	BranchRelativeDutch = "RELATIVE_DUTCH"
	BranchOversold      = "OVERSOLD"
)

// Finalization reason constants.
const (
	FinalizeReasonTerminal             = "TERMINAL"
	FinalizeReasonEarlyExit            = "EARLY_EXIT"
	FinalizeReasonInsufficientProceeds = "INSUFFICIENT_PROCEEDS"
)

// SaleRecord pairs an immutable sale configuration with creation metadata
// for persistence.
type SaleRecord struct {
	Config    SaleConfig
	CreatedAt int64 // unix seconds
}

// TradeLogEntry is one executed trade in a sale's append-only trade log.
// The log, replayed in sequence order against a fresh engine, must
// reproduce the recorded sale state exactly.
type TradeLogEntry struct {
	SaleID    string
	Seq       int64 // per-sale sequence number, starting at 1
	Timestamp int64 // unix seconds

	// CurrentTick is the pool price coordinate observed before the trade,
	// in curve coordinates. Replay feeds it to the pre-trade hook.
	CurrentTick int

	AssetDelta     *big.Int
	NumeraireDelta *big.Int
	FeeAsset       *big.Int
	FeeNumeraire   *big.Int
}

// Delta converts the log entry back into the trade delta it recorded.
func (e *TradeLogEntry) Delta() *TradeDelta {
	return &TradeDelta{
		Seq:            e.Seq,
		Timestamp:      e.Timestamp,
		AssetDelta:     e.AssetDelta,
		NumeraireDelta: e.NumeraireDelta,
		FeeAsset:       e.FeeAsset,
		FeeNumeraire:   e.FeeNumeraire,
	}
}

// RebalanceRecord is the durable snapshot of one applied rebalance: the
// accumulator after the shift, the derived curve bounds, and the full slug
// set handed to the pool.
type RebalanceRecord struct {
	SaleID        string
	Epoch         int64
	EpochsElapsed int64 // completed epochs the shift covered, >= 0
	Branch        string
	Timestamp     int64 // unix seconds

	// AccumulatorWad is the cumulative curve shift in 1e18-scaled curve
	// ticks, never positive.
	AccumulatorWad *big.Int

	// Curve bounds and price in curve coordinates.
	TickLower   int
	TickUpper   int
	CurrentTick int

	TotalTokensSold *big.Int
	TotalProceeds   *big.Int

	// LowerFallback reports that proceeds could not back the full sold
	// amount over the natural lower range, so the minimal one-spacing
	// range at the average clearing price was placed instead.
	LowerFallback bool

	Slugs []Slug
}

// FinalizationRecord reports the terminal balances handed to the migrator.
type FinalizationRecord struct {
	SaleID           string
	Reason           string
	Timestamp        int64 // unix seconds
	ClearingPriceWad *big.Int // numeraire per asset, 1e18 scale; zero when nothing sold
	AssetBalance     *big.Int
	NumeraireBalance *big.Int
	FeesAsset        *big.Int
	FeesNumeraire    *big.Int
}
