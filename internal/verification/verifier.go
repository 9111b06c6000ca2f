// Package verification replays stored trade logs against a fresh engine and
// checks that every recorded rebalance and the recorded terminal state are
// reproduced exactly. All engine state is integer, so comparison is exact
// equality with no tolerance.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"token-sale-lab/internal/auction"
	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/fixedpoint"
	"token-sale-lab/internal/observability"
	"token-sale-lab/internal/storage"
)

// ErrEmptyLog is returned when a sale has no trade log to replay.
var ErrEmptyLog = errors.New("sale has no trade log")

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string      // field name, prefixed with its record for context
	Expected interface{} // stored value
	Actual   interface{} // replayed value
}

// SaleVerification contains the result of verifying a single sale.
type SaleVerification struct {
	SaleID      string
	Match       bool
	Divergences []FieldDivergence

	TradesReplayed    int
	RebalancesChecked int
}

// Report contains results for batch verification.
type Report struct {
	TotalSales     int
	MatchedSales   int
	DivergentSales int
	Results        []SaleVerification
}

// Verifier replays sales from storage.
type Verifier struct {
	sales         storage.SaleStore
	tradeLog      storage.TradeLogStore
	rebalances    storage.RebalanceStore
	finalizations storage.FinalizationStore
}

// VerifierOptions contains the stores a Verifier reads from. Sales and the
// trade log are required; rebalance and finalization stores may be nil, in
// which case those comparisons are skipped.
type VerifierOptions struct {
	SaleStore         storage.SaleStore
	TradeLogStore     storage.TradeLogStore
	RebalanceStore    storage.RebalanceStore
	FinalizationStore storage.FinalizationStore
}

// NewVerifier creates a replay verifier.
func NewVerifier(opts VerifierOptions) *Verifier {
	return &Verifier{
		sales:         opts.SaleStore,
		tradeLog:      opts.TradeLogStore,
		rebalances:    opts.RebalanceStore,
		finalizations: opts.FinalizationStore,
	}
}

// VerifySale replays one sale's trade log in sequence order and compares
// every applied rebalance and the terminal balances against the stored
// records.
func (v *Verifier) VerifySale(ctx context.Context, saleID string) (*SaleVerification, error) {
	sale, err := v.sales.GetByID(ctx, saleID)
	if err != nil {
		return nil, err // propagates storage.ErrNotFound
	}

	entries, err := v.tradeLog.GetBySaleID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyLog
	}

	var stored map[int64]*domain.RebalanceRecord
	if v.rebalances != nil {
		records, err := v.rebalances.GetBySaleID(ctx, saleID)
		if err != nil {
			return nil, err
		}
		stored = make(map[int64]*domain.RebalanceRecord, len(records))
		for _, r := range records {
			stored[r.Epoch] = r
		}
	}

	cfg := sale.Config
	engine, err := auction.NewEngine(&cfg)
	if err != nil {
		return nil, fmt.Errorf("rebuild engine for sale %s: %w", saleID, err)
	}

	result := &SaleVerification{SaleID: saleID}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		epochBefore := engine.LastEpoch()
		if _, err := engine.OnBeforeTrade(e.Timestamp, e.CurrentTick); err != nil {
			return nil, fmt.Errorf("replay seq %d pre-trade: %w", e.Seq, err)
		}
		if rec := engine.LastRebalance(); stored != nil && rec != nil && engine.LastEpoch() > epochBefore {
			result.RebalancesChecked++
			want, ok := stored[rec.Epoch]
			if !ok {
				result.Divergences = append(result.Divergences, FieldDivergence{
					Field:    fmt.Sprintf("Rebalance[%d]", rec.Epoch),
					Expected: nil,
					Actual:   rec.Branch,
				})
			} else {
				result.Divergences = append(result.Divergences, CompareRebalanceRecords(want, rec)...)
			}
		}
		if err := engine.OnAfterTrade(e.Delta()); err != nil {
			return nil, fmt.Errorf("replay seq %d post-trade: %w", e.Seq, err)
		}
		result.TradesReplayed++
	}

	if v.finalizations != nil {
		fin, err := v.finalizations.GetBySaleID(ctx, saleID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// Sale still live; nothing terminal to compare.
		case err != nil:
			return nil, err
		default:
			result.Divergences = append(result.Divergences, compareTerminalState(fin, engine)...)
		}
	}

	result.Match = len(result.Divergences) == 0
	observability.RecordReplay(result.Match, len(result.Divergences))
	return result, nil
}

// VerifyAll verifies every sale that has a trade log.
func (v *Verifier) VerifyAll(ctx context.Context) (*Report, error) {
	sales, err := v.sales.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, s := range sales {
		res, err := v.VerifySale(ctx, s.Config.SaleID)
		if errors.Is(err, ErrEmptyLog) {
			continue
		}
		if err != nil {
			return nil, err
		}
		report.TotalSales++
		if res.Match {
			report.MatchedSales++
		} else {
			report.DivergentSales++
		}
		report.Results = append(report.Results, *res)
	}
	return report, nil
}

// CompareRebalanceRecords compares a stored rebalance against a replayed one
// field by field. All comparisons are exact.
func CompareRebalanceRecords(stored, replayed *domain.RebalanceRecord) []FieldDivergence {
	prefix := fmt.Sprintf("Rebalance[%d].", stored.Epoch)
	var divergences []FieldDivergence

	diverge := func(field string, expected, actual interface{}) {
		divergences = append(divergences, FieldDivergence{
			Field:    prefix + field,
			Expected: expected,
			Actual:   actual,
		})
	}

	if stored.Epoch != replayed.Epoch {
		diverge("Epoch", stored.Epoch, replayed.Epoch)
	}
	if stored.EpochsElapsed != replayed.EpochsElapsed {
		diverge("EpochsElapsed", stored.EpochsElapsed, replayed.EpochsElapsed)
	}
	if stored.Branch != replayed.Branch {
		diverge("Branch", stored.Branch, replayed.Branch)
	}
	if !bigEquals(stored.AccumulatorWad, replayed.AccumulatorWad) {
		diverge("AccumulatorWad", stored.AccumulatorWad, replayed.AccumulatorWad)
	}
	if stored.TickLower != replayed.TickLower {
		diverge("TickLower", stored.TickLower, replayed.TickLower)
	}
	if stored.TickUpper != replayed.TickUpper {
		diverge("TickUpper", stored.TickUpper, replayed.TickUpper)
	}
	if stored.CurrentTick != replayed.CurrentTick {
		diverge("CurrentTick", stored.CurrentTick, replayed.CurrentTick)
	}
	if !bigEquals(stored.TotalTokensSold, replayed.TotalTokensSold) {
		diverge("TotalTokensSold", stored.TotalTokensSold, replayed.TotalTokensSold)
	}
	if !bigEquals(stored.TotalProceeds, replayed.TotalProceeds) {
		diverge("TotalProceeds", stored.TotalProceeds, replayed.TotalProceeds)
	}
	if stored.LowerFallback != replayed.LowerFallback {
		diverge("LowerFallback", stored.LowerFallback, replayed.LowerFallback)
	}

	if len(stored.Slugs) != len(replayed.Slugs) {
		diverge("Slugs.len", len(stored.Slugs), len(replayed.Slugs))
		return divergences
	}
	for i := range stored.Slugs {
		a, b := stored.Slugs[i], replayed.Slugs[i]
		slug := fmt.Sprintf("Slugs[%d].", i)
		if a.Kind != b.Kind {
			diverge(slug+"Kind", a.Kind, b.Kind)
		}
		if a.Range != b.Range {
			diverge(slug+"Range", a.Range, b.Range)
		}
		if !bigEquals(a.Liquidity, b.Liquidity) {
			diverge(slug+"Liquidity", a.Liquidity, b.Liquidity)
		}
		if !bigEquals(a.Depth, b.Depth) {
			diverge(slug+"Depth", a.Depth, b.Depth)
		}
	}

	return divergences
}

// compareTerminalState compares a stored finalization against the replayed
// engine's final state. The early-exit authorization itself lives outside
// the trade log, so Reason is checked only for outcomes the replay can
// derive; the balances must always match.
func compareTerminalState(fin *domain.FinalizationRecord, engine *auction.Engine) []FieldDivergence {
	var divergences []FieldDivergence
	diverge := func(field string, expected, actual interface{}) {
		divergences = append(divergences, FieldDivergence{
			Field:    "Finalization." + field,
			Expected: expected,
			Actual:   actual,
		})
	}

	cfg := engine.Config()
	sold := engine.TotalTokensSold()
	proceeds := engine.TotalProceeds()

	clearing := new(big.Int)
	if sold.Sign() > 0 {
		clearing, _ = fixedpoint.MulDivDown(proceeds, fixedpoint.Wad, sold)
	}
	remaining := new(big.Int).Sub(cfg.NumTokensToSell, sold)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}

	if !bigEquals(fin.ClearingPriceWad, clearing) {
		diverge("ClearingPriceWad", fin.ClearingPriceWad, clearing)
	}
	if !bigEquals(fin.AssetBalance, remaining) {
		diverge("AssetBalance", fin.AssetBalance, remaining)
	}
	if !bigEquals(fin.NumeraireBalance, proceeds) {
		diverge("NumeraireBalance", fin.NumeraireBalance, proceeds)
	}
	feesAsset, feesNumeraire := engine.FeesAccrued()
	if !bigEquals(fin.FeesAsset, feesAsset) {
		diverge("FeesAsset", fin.FeesAsset, feesAsset)
	}
	if !bigEquals(fin.FeesNumeraire, feesNumeraire) {
		diverge("FeesNumeraire", fin.FeesNumeraire, feesNumeraire)
	}

	if fin.Reason == domain.FinalizeReasonEarlyExit {
		// The maximum-proceeds cap is replayable; a signed authorization is not.
		if cfg.MaximumProceeds != nil && cfg.MaximumProceeds.Sign() > 0 &&
			proceeds.Cmp(cfg.MaximumProceeds) >= 0 && !engine.EarlyExit() {
			diverge("Reason", fin.Reason, "proceeds cap reached but replay saw no early exit")
		}
	}

	return divergences
}

// bigEquals compares two integers, treating nil as zero.
func bigEquals(a, b *big.Int) bool {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b) == 0
}
