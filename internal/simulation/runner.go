// Package simulation drives a full scripted sale through the engine and the
// reference pool, persisting the sale, its trade log, its rebalance
// snapshots and its finalization through the storage interfaces. The
// persisted log is the input replay verification consumes.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"

	"token-sale-lab/internal/auction"
	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/observability"
	"token-sale-lab/internal/pool"
	"token-sale-lab/internal/storage"
)

// Runner executes sale scripts.
type Runner struct {
	sales         storage.SaleStore
	tradeLog      storage.TradeLogStore
	rebalances    storage.RebalanceStore
	finalizations storage.FinalizationStore
	logger        *log.Logger
}

// RunnerOptions contains configuration for creating a Runner. Any store may
// be nil, in which case that stream is not persisted.
type RunnerOptions struct {
	SaleStore         storage.SaleStore
	TradeLogStore     storage.TradeLogStore
	RebalanceStore    storage.RebalanceStore
	FinalizationStore storage.FinalizationStore
	Logger            *log.Logger
}

// NewRunner creates a simulation runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		sales:         opts.SaleStore,
		tradeLog:      opts.TradeLogStore,
		rebalances:    opts.RebalanceStore,
		finalizations: opts.FinalizationStore,
		logger:        logger,
	}
}

// Result summarizes one sale run.
type Result struct {
	Finalization *domain.FinalizationRecord
	Snapshot     auction.Snapshot

	TradesExecuted int
	TradesRejected int
	Rebalances     int
}

// Run executes a script end to end:
//  1. Build the engine and pool from the script's config
//  2. Persist the sale record
//  3. Execute the trades in time order, logging each executed trade and
//     each applied rebalance
//  4. Finalize and persist the outcome
func (r *Runner) Run(ctx context.Context, script *Script) (*Result, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}

	engine, err := auction.NewEngine(script.Config)
	if err != nil {
		return nil, err
	}
	p, err := pool.New(engine, script.FeeBps)
	if err != nil {
		return nil, err
	}

	saleID := script.Config.SaleID
	if r.sales != nil {
		rec := &domain.SaleRecord{Config: *script.Config, CreatedAt: script.Config.StartingTime}
		if err := r.sales.Insert(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist sale %s: %w", saleID, err)
		}
	}

	result := &Result{}
	var seq int64

	for _, t := range script.sorted() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tickBefore := p.CurrentTick()
		epochBefore := engine.LastEpoch()

		var execErr error
		switch t.Side {
		case SideBuy:
			_, execErr = p.Buy(t.AtTime, t.Amount)
		case SideSell:
			_, execErr = p.Sell(t.AtTime, t.Amount)
		}
		if execErr != nil {
			result.TradesRejected++
			observability.RecordTradeRejected(rejectionReason(execErr))
			r.logger.Printf("sale %s: %s at t=%d rejected: %v", saleID, t.Side, t.AtTime, execErr)
			continue
		}
		result.TradesExecuted++
		observability.RecordTradeExecuted(string(t.Side))

		if rec := engine.LastRebalance(); rec != nil && engine.LastEpoch() > epochBefore {
			result.Rebalances++
			observability.RecordRebalance(rec.Branch, rec.EpochsElapsed, rec.LowerFallback)
			if r.rebalances != nil {
				if err := r.rebalances.Insert(ctx, rec); err != nil {
					return nil, fmt.Errorf("persist rebalance epoch %d: %w", rec.Epoch, err)
				}
			}
		}

		if r.tradeLog != nil {
			seq++
			delta := p.LastTrade()
			entry := &domain.TradeLogEntry{
				SaleID:         saleID,
				Seq:            seq,
				Timestamp:      t.AtTime,
				CurrentTick:    tickBefore,
				AssetDelta:     delta.AssetDelta,
				NumeraireDelta: delta.NumeraireDelta,
				FeeAsset:       delta.FeeAsset,
				FeeNumeraire:   delta.FeeNumeraire,
			}
			if err := r.tradeLog.Insert(ctx, entry); err != nil {
				return nil, fmt.Errorf("persist trade %d: %w", seq, err)
			}
			observability.DefaultMetrics.TradeLogEntries.Inc()
		}

		snap := engine.Snapshot()
		observability.UpdateSaleState(saleID, engine.LastEpoch(),
			snap.AccumulatorWad, snap.TotalTokensSold, snap.TotalProceeds,
			snap.TickLower, snap.TickUpper)
	}

	finalizeAt := script.FinalizeAt
	if finalizeAt == 0 {
		finalizeAt = script.Config.EndingTime
	}
	fin, err := p.Finalize(finalizeAt)
	if err != nil {
		return nil, fmt.Errorf("finalize sale %s: %w", saleID, err)
	}
	observability.RecordFinalization(fin.Reason)
	if r.finalizations != nil {
		if err := r.finalizations.Insert(ctx, fin); err != nil {
			return nil, fmt.Errorf("persist finalization: %w", err)
		}
	}

	result.Finalization = fin
	result.Snapshot = engine.Snapshot()
	r.logger.Printf("sale %s: finalized reason=%s sold=%s proceeds=%s trades=%d rejected=%d rebalances=%d",
		saleID, fin.Reason, displayAmount(result.Snapshot.TotalTokensSold),
		displayAmount(result.Snapshot.TotalProceeds),
		result.TradesExecuted, result.TradesRejected, result.Rebalances)

	return result, nil
}

// rejectionReason maps an execution error onto a bounded metric label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auction.ErrSaleNotStarted):
		return "not_started"
	case errors.Is(err, auction.ErrSaleEnded):
		return "ended"
	case errors.Is(err, auction.ErrSaleFinalized):
		return "finalized"
	case errors.Is(err, pool.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, pool.ErrZeroAmount):
		return "zero_amount"
	default:
		return "other"
	}
}

func displayAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
