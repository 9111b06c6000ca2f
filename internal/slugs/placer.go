// Package slugs places the curve's liquidity ranges after a rebalance: the
// lower buy-back range, the upper forward-sale range, and the price
// discovery ranges. All ticks are curve coordinates.
package slugs

import (
	"errors"
	"math/big"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/epoch"
	"token-sale-lab/internal/fixedpoint"
)

// ErrNilInput is returned when placement amounts are nil.
var ErrNilInput = errors.New("placement input amounts must not be nil")

// Input is the post-rebalance curve state a placement derives from.
type Input struct {
	TickLower   int
	TickUpper   int
	CurrentTick int // pool price coordinate, clamped and aligned internally

	TotalProceeds *big.Int
	TotalSold     *big.Int

	CurrentEpoch int64
}

// Placement is a full, ordered slug set: LOWER, UPPER, then every price
// discovery slug. Zero-depth slugs are emitted rather than omitted so
// downstream position indices stay stable.
type Placement struct {
	Slugs       []domain.Slug
	CurrentTick int // the aligned tick the set was anchored at

	// LowerFallback reports that proceeds could not back the full sold
	// amount over [TickLower, CurrentTick], so the minimal one-spacing
	// range at the average clearing price was placed instead.
	LowerFallback bool
}

// Placer holds the sale-constant placement parameters.
type Placer struct {
	clock   epoch.Clock
	supply  *big.Int
	gamma   int
	spacing int
	numPD   int

	// epochProportionalDelta is the tick width one epoch of scheduled
	// forward price movement covers, spacing-aligned upward.
	epochProportionalDelta int
}

// NewPlacer builds a placer. Inputs are assumed validated by the caller.
func NewPlacer(clock epoch.Clock, cfg *domain.SaleConfig) *Placer {
	duration := cfg.EndingTime - cfg.StartingTime
	epd := int(int64(cfg.Gamma) * cfg.EpochLength / duration)
	epd = fixedpoint.AlignUp(epd, cfg.TickSpacing)
	if epd < cfg.TickSpacing {
		epd = cfg.TickSpacing
	}
	return &Placer{
		clock:                  clock,
		supply:                 new(big.Int).Set(cfg.NumTokensToSell),
		gamma:                  cfg.Gamma,
		spacing:                cfg.TickSpacing,
		numPD:                  cfg.NumPriceDiscoverySlugs,
		epochProportionalDelta: epd,
	}
}

// Place computes the slug set for the current epoch.
func (p *Placer) Place(in Input) (Placement, error) {
	if in.TotalProceeds == nil || in.TotalSold == nil {
		return Placement{}, ErrNilInput
	}

	cur := in.CurrentTick
	if cur < in.TickLower {
		cur = in.TickLower
	}
	cur = fixedpoint.AlignDown(cur, p.spacing)
	if cur < in.TickLower {
		cur = in.TickLower
	}

	lower, fallback, err := p.placeLower(in.TickLower, cur, in.TotalProceeds, in.TotalSold)
	if err != nil {
		return Placement{}, err
	}

	upper, err := p.placeUpper(cur, in.CurrentEpoch, in.TotalSold)
	if err != nil {
		return Placement{}, err
	}

	pd, err := p.placeDiscovery(upper.Range.Upper, in.TickUpper, in.CurrentEpoch)
	if err != nil {
		return Placement{}, err
	}

	set := make([]domain.Slug, 0, 2+len(pd))
	set = append(set, lower, upper)
	set = append(set, pd...)
	return Placement{Slugs: set, CurrentTick: cur, LowerFallback: fallback}, nil
}

// placeLower sizes the buy-back range so selling back the entire sold
// amount yields exactly the collected proceeds.
func (p *Placer) placeLower(tickLower, cur int, proceeds, sold *big.Int) (domain.Slug, bool, error) {
	unset := domain.Slug{
		Kind:      domain.SlugLower,
		Range:     domain.TickRange{Lower: cur, Upper: cur},
		Liquidity: new(big.Int),
		Depth:     new(big.Int),
	}
	if sold.Sign() == 0 || proceeds.Sign() == 0 {
		return unset, false, nil
	}

	if cur > tickLower {
		sa, err := fixedpoint.SqrtRatioAtTick(tickLower)
		if err != nil {
			return domain.Slug{}, false, err
		}
		sb, err := fixedpoint.SqrtRatioAtTick(cur)
		if err != nil {
			return domain.Slug{}, false, err
		}
		liq, err := fixedpoint.LiquidityForNumeraire(sa, sb, proceeds)
		if err != nil {
			return domain.Slug{}, false, err
		}
		if liq.Sign() > 0 {
			capacity, err := fixedpoint.AssetAmountDelta(sa, sb, liq, false)
			if err != nil {
				return domain.Slug{}, false, err
			}
			if capacity.Cmp(sold) >= 0 {
				return domain.Slug{
					Kind:      domain.SlugLower,
					Range:     domain.TickRange{Lower: tickLower, Upper: cur},
					Liquidity: liq,
					Depth:     new(big.Int).Set(proceeds),
				}, false, nil
			}
		}
	}

	// Proceeds cannot back the full exit over the natural range: place one
	// spacing of depth at the average clearing price instead.
	avgWad, err := fixedpoint.MulDivDown(proceeds, fixedpoint.Wad, sold)
	if err != nil {
		return domain.Slug{}, false, err
	}
	tickAvg, err := fixedpoint.TickAtPriceWad(avgWad)
	if err != nil {
		return domain.Slug{}, false, err
	}
	hi := fixedpoint.AlignUp(tickAvg, p.spacing)
	if hi > cur {
		hi = cur
	}
	lo := hi - p.spacing
	sa, err := fixedpoint.SqrtRatioAtTick(lo)
	if err != nil {
		return domain.Slug{}, false, err
	}
	sb, err := fixedpoint.SqrtRatioAtTick(hi)
	if err != nil {
		return domain.Slug{}, false, err
	}
	liq, err := fixedpoint.LiquidityForNumeraire(sa, sb, proceeds)
	if err != nil {
		return domain.Slug{}, false, err
	}
	return domain.Slug{
		Kind:      domain.SlugLower,
		Range:     domain.TickRange{Lower: lo, Upper: hi},
		Liquidity: liq,
		Depth:     new(big.Int).Set(proceeds),
	}, true, nil
}

// placeUpper supplies exactly the demand scheduled up to the next epoch
// checkpoint.
func (p *Placer) placeUpper(cur int, currentEpoch int64, sold *big.Int) (domain.Slug, error) {
	expectedNext := p.clock.ExpectedSold(p.clock.EpochEnd(currentEpoch), p.supply)
	depth := new(big.Int).Sub(expectedNext, sold)
	if depth.Sign() <= 0 {
		return domain.Slug{
			Kind:      domain.SlugUpper,
			Range:     domain.TickRange{Lower: cur, Upper: cur},
			Liquidity: new(big.Int),
			Depth:     new(big.Int),
		}, nil
	}

	hi := cur + p.epochProportionalDelta
	sa, err := fixedpoint.SqrtRatioAtTick(cur)
	if err != nil {
		return domain.Slug{}, err
	}
	sb, err := fixedpoint.SqrtRatioAtTick(hi)
	if err != nil {
		return domain.Slug{}, err
	}
	liq, err := fixedpoint.LiquidityForAsset(sa, sb, depth)
	if err != nil {
		return domain.Slug{}, err
	}
	return domain.Slug{
		Kind:      domain.SlugUpper,
		Range:     domain.TickRange{Lower: cur, Upper: hi},
		Liquidity: liq,
		Depth:     depth,
	}, nil
}

// placeDiscovery lays the price discovery slugs contiguously from the
// upper slug's top toward the curve's upper bound, one scheduled epoch of
// depth per slug. Slugs past the remaining epoch count are emitted
// zero-width so the set always has the configured length.
func (p *Placer) placeDiscovery(pdStart, tickUpper int, currentEpoch int64) ([]domain.Slug, error) {
	out := make([]domain.Slug, 0, p.numPD)

	zeroAt := func(i, at int) domain.Slug {
		return domain.Slug{
			Kind:      domain.SlugPriceDiscovery,
			Index:     i,
			Range:     domain.TickRange{Lower: at, Upper: at},
			Liquidity: new(big.Int),
			Depth:     new(big.Int),
		}
	}

	remaining := p.clock.EpochsRemaining(currentEpoch)
	span := tickUpper - pdStart
	if remaining == 0 || span <= 0 {
		at := pdStart
		if span > 0 {
			at = tickUpper
		}
		for i := 0; i < p.numPD; i++ {
			out = append(out, zeroAt(i, at))
		}
		return out, nil
	}

	m := int64(p.numPD)
	if remaining < m {
		m = remaining
	}
	width := fixedpoint.AlignDown(span/int(m), p.spacing)
	if width < p.spacing {
		width = p.spacing
	}

	lo := pdStart
	for i := 0; i < p.numPD; i++ {
		if int64(i) >= m || lo >= tickUpper {
			out = append(out, zeroAt(i, lo))
			continue
		}
		hi := lo + width
		if int64(i) == m-1 || hi > tickUpper {
			hi = tickUpper
		}

		from := p.clock.ExpectedSold(p.clock.EpochEnd(currentEpoch+int64(i)), p.supply)
		to := p.clock.ExpectedSold(p.clock.EpochEnd(currentEpoch+int64(i)+1), p.supply)
		depth := new(big.Int).Sub(to, from)
		if depth.Sign() < 0 {
			depth.SetInt64(0)
		}

		sa, err := fixedpoint.SqrtRatioAtTick(lo)
		if err != nil {
			return nil, err
		}
		sb, err := fixedpoint.SqrtRatioAtTick(hi)
		if err != nil {
			return nil, err
		}
		liq := new(big.Int)
		if depth.Sign() > 0 {
			liq, err = fixedpoint.LiquidityForAsset(sa, sb, depth)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, domain.Slug{
			Kind:      domain.SlugPriceDiscovery,
			Index:     i,
			Range:     domain.TickRange{Lower: lo, Upper: hi},
			Liquidity: liq,
			Depth:     depth,
		})
		lo = hi
	}
	return out, nil
}
