// Package memory holds in-memory store implementations, used by the
// simulator, by replay verification, and as the reference behavior the SQL
// backends are tested against.
package memory

import (
	"math/big"

	"token-sale-lab/internal/domain"
)

// Every store hands out deep copies so a caller can never mutate stored
// state through a returned pointer.

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneSaleRecord(r *domain.SaleRecord) *domain.SaleRecord {
	out := *r
	out.Config.NumTokensToSell = cloneBig(r.Config.NumTokensToSell)
	out.Config.MinimumProceeds = cloneBig(r.Config.MinimumProceeds)
	out.Config.MaximumProceeds = cloneBig(r.Config.MaximumProceeds)
	out.Config.EarlyExitAuthorities = append([]string(nil), r.Config.EarlyExitAuthorities...)
	return &out
}

func cloneTradeLogEntry(e *domain.TradeLogEntry) *domain.TradeLogEntry {
	out := *e
	out.AssetDelta = cloneBig(e.AssetDelta)
	out.NumeraireDelta = cloneBig(e.NumeraireDelta)
	out.FeeAsset = cloneBig(e.FeeAsset)
	out.FeeNumeraire = cloneBig(e.FeeNumeraire)
	return &out
}

func cloneRebalanceRecord(r *domain.RebalanceRecord) *domain.RebalanceRecord {
	out := *r
	out.AccumulatorWad = cloneBig(r.AccumulatorWad)
	out.TotalTokensSold = cloneBig(r.TotalTokensSold)
	out.TotalProceeds = cloneBig(r.TotalProceeds)
	out.Slugs = domain.CloneSlugs(r.Slugs)
	return &out
}

func cloneFinalizationRecord(r *domain.FinalizationRecord) *domain.FinalizationRecord {
	out := *r
	out.ClearingPriceWad = cloneBig(r.ClearingPriceWad)
	out.AssetBalance = cloneBig(r.AssetBalance)
	out.NumeraireBalance = cloneBig(r.NumeraireBalance)
	out.FeesAsset = cloneBig(r.FeesAsset)
	out.FeesNumeraire = cloneBig(r.FeesNumeraire)
	return &out
}
