// Package pool is the reference in-memory implementation of the pool
// collaborator: it materializes slug sets as liquidity positions with
// remove-then-add semantics, executes buys and sells by walking the
// positions, and feeds the resulting deltas back into the sale engine. Only
// the engine may provide curve liquidity; anything else is rejected at this
// boundary.
//
// Ticks and prices are curve coordinates throughout, matching the engine.
package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"token-sale-lab/internal/auction"
	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/fixedpoint"
)

// Pool errors.
var (
	ErrExternalLiquidity     = errors.New("external liquidity rejected: only the sale engine may provide curve liquidity")
	ErrZeroAmount            = errors.New("trade amount must be positive")
	ErrInsufficientLiquidity = errors.New("insufficient curve liquidity for the trade")
	ErrInvalidFee            = errors.New("fee must be between 0 and 10000 basis points")
)

const feeDenominator = 10_000

// position is one materialized slug.
type position struct {
	kind      domain.SlugKind
	index     int
	lower     int
	upper     int
	sqrtLower *big.Int
	sqrtUpper *big.Int
	liquidity *big.Int
}

// Pool drives one sale engine. Like the engine it is single-writer: each
// Buy or Sell is one atomic trade operation.
type Pool struct {
	engine *auction.Engine
	feeBps int64

	positions []position // ascending by lower bound
	sqrtPrice *big.Int
	tick      int

	assetBalance     *big.Int
	numeraireBalance *big.Int
	feesAsset        *big.Int
	feesNumeraire    *big.Int

	lastTrade *domain.TradeDelta
}

// New builds a pool at the sale's starting price.
func New(engine *auction.Engine, feeBps int64) (*Pool, error) {
	if feeBps < 0 || feeBps >= feeDenominator {
		return nil, ErrInvalidFee
	}
	cfg := engine.Config()
	start := cfg.ToCurve(cfg.StartingTick)
	sqrtStart, err := fixedpoint.SqrtRatioAtTick(start)
	if err != nil {
		return nil, fmt.Errorf("starting price: %w", err)
	}
	return &Pool{
		engine:           engine,
		feeBps:           feeBps,
		sqrtPrice:        sqrtStart,
		tick:             start,
		assetBalance:     new(big.Int),
		numeraireBalance: new(big.Int),
		feesAsset:        new(big.Int),
		feesNumeraire:    new(big.Int),
	}, nil
}

// CurrentTick returns the pool price coordinate.
func (p *Pool) CurrentTick() int { return p.tick }

// Engine returns the sale engine this pool drives.
func (p *Pool) Engine() *auction.Engine { return p.engine }

// ProvideLiquidity rejects any liquidity not placed by the sale engine
// itself. The engine's slug sets arrive through the trade path instead.
func (p *Pool) ProvideLiquidity(party string, _ domain.TickRange, _ *big.Int) error {
	return fmt.Errorf("%w: party %s", ErrExternalLiquidity, party)
}

// applySlugs replaces every position with the new slug set. Stale ranges
// never persist: the set is rebuilt wholesale.
func (p *Pool) applySlugs(set []domain.Slug) error {
	next := make([]position, 0, len(set))
	for _, s := range set {
		if s.IsUnset() || s.Liquidity == nil || s.Liquidity.Sign() == 0 {
			continue
		}
		sa, err := fixedpoint.SqrtRatioAtTick(s.Range.Lower)
		if err != nil {
			return err
		}
		sb, err := fixedpoint.SqrtRatioAtTick(s.Range.Upper)
		if err != nil {
			return err
		}
		next = append(next, position{
			kind:      s.Kind,
			index:     s.Index,
			lower:     s.Range.Lower,
			upper:     s.Range.Upper,
			sqrtLower: sa,
			sqrtUpper: sb,
			liquidity: new(big.Int).Set(s.Liquidity),
		})
	}
	sort.Slice(next, func(i, j int) bool { return next[i].lower < next[j].lower })
	p.positions = next
	return nil
}

// Buy swaps numeraire into the curve for asset, walking positions upward.
// The whole trade either fills or fails; a failed trade mutates nothing.
func (p *Pool) Buy(now int64, numeraireIn *big.Int) (*big.Int, error) {
	if numeraireIn == nil || numeraireIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := p.rebalanceIfDue(now); err != nil {
		return nil, err
	}

	fee, _ := fixedpoint.MulDivUp(numeraireIn, big.NewInt(p.feeBps), big.NewInt(feeDenominator))
	remaining := new(big.Int).Sub(numeraireIn, fee)

	sqrtP := new(big.Int).Set(p.sqrtPrice)
	assetOut := new(big.Int)

	for i := range p.positions {
		pos := &p.positions[i]
		if pos.sqrtUpper.Cmp(sqrtP) <= 0 {
			continue
		}
		if remaining.Sign() == 0 {
			break
		}
		s0 := sqrtP
		if pos.sqrtLower.Cmp(s0) > 0 {
			s0 = pos.sqrtLower
		}
		needed, err := fixedpoint.NumeraireAmountDelta(s0, pos.sqrtUpper, pos.liquidity, true)
		if err != nil {
			return nil, err
		}
		if remaining.Cmp(needed) >= 0 {
			out, err := fixedpoint.AssetAmountDelta(s0, pos.sqrtUpper, pos.liquidity, false)
			if err != nil {
				return nil, err
			}
			assetOut.Add(assetOut, out)
			remaining.Sub(remaining, needed)
			sqrtP = new(big.Int).Set(pos.sqrtUpper)
			continue
		}
		sqrtNext, err := fixedpoint.NextSqrtRatioFromNumeraireIn(s0, pos.liquidity, remaining)
		if err != nil {
			return nil, err
		}
		out, err := fixedpoint.AssetAmountDelta(s0, sqrtNext, pos.liquidity, false)
		if err != nil {
			return nil, err
		}
		assetOut.Add(assetOut, out)
		remaining.SetInt64(0)
		sqrtP = sqrtNext
	}
	if remaining.Sign() > 0 {
		return nil, ErrInsufficientLiquidity
	}

	tick, err := fixedpoint.TickAtSqrtRatio(sqrtP)
	if err != nil {
		return nil, err
	}

	delta := &domain.TradeDelta{
		Timestamp:      now,
		AssetDelta:     new(big.Int).Set(assetOut),
		NumeraireDelta: new(big.Int).Set(numeraireIn),
		FeeAsset:       new(big.Int),
		FeeNumeraire:   fee,
	}
	if err := p.engine.OnAfterTrade(delta); err != nil {
		return nil, err
	}

	p.lastTrade = delta
	p.sqrtPrice = sqrtP
	p.tick = tick
	p.assetBalance.Sub(p.assetBalance, assetOut)
	p.numeraireBalance.Add(p.numeraireBalance, new(big.Int).Sub(numeraireIn, fee))
	p.feesNumeraire.Add(p.feesNumeraire, fee)
	return assetOut, nil
}

// Sell swaps asset back into the curve for numeraire, walking positions
// downward.
func (p *Pool) Sell(now int64, assetIn *big.Int) (*big.Int, error) {
	if assetIn == nil || assetIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := p.rebalanceIfDue(now); err != nil {
		return nil, err
	}

	fee, _ := fixedpoint.MulDivUp(assetIn, big.NewInt(p.feeBps), big.NewInt(feeDenominator))
	remaining := new(big.Int).Sub(assetIn, fee)

	sqrtP := new(big.Int).Set(p.sqrtPrice)
	numeraireOut := new(big.Int)

	for i := len(p.positions) - 1; i >= 0; i-- {
		pos := &p.positions[i]
		if pos.sqrtLower.Cmp(sqrtP) >= 0 {
			continue
		}
		if remaining.Sign() == 0 {
			break
		}
		s0 := sqrtP
		if pos.sqrtUpper.Cmp(s0) < 0 {
			s0 = pos.sqrtUpper
		}
		capacity, err := fixedpoint.AssetAmountDelta(pos.sqrtLower, s0, pos.liquidity, true)
		if err != nil {
			return nil, err
		}
		if remaining.Cmp(capacity) >= 0 {
			out, err := fixedpoint.NumeraireAmountDelta(pos.sqrtLower, s0, pos.liquidity, false)
			if err != nil {
				return nil, err
			}
			numeraireOut.Add(numeraireOut, out)
			remaining.Sub(remaining, capacity)
			sqrtP = new(big.Int).Set(pos.sqrtLower)
			continue
		}
		sqrtNext, err := fixedpoint.NextSqrtRatioFromAssetIn(s0, pos.liquidity, remaining)
		if err != nil {
			return nil, err
		}
		out, err := fixedpoint.NumeraireAmountDelta(sqrtNext, s0, pos.liquidity, false)
		if err != nil {
			return nil, err
		}
		numeraireOut.Add(numeraireOut, out)
		remaining.SetInt64(0)
		sqrtP = sqrtNext
	}
	if remaining.Sign() > 0 {
		return nil, ErrInsufficientLiquidity
	}

	tick, err := fixedpoint.TickAtSqrtRatio(sqrtP)
	if err != nil {
		return nil, err
	}

	netAsset := new(big.Int).Sub(assetIn, fee)
	delta := &domain.TradeDelta{
		Timestamp:      now,
		AssetDelta:     new(big.Int).Neg(netAsset),
		NumeraireDelta: new(big.Int).Neg(numeraireOut),
		FeeAsset:       fee,
		FeeNumeraire:   new(big.Int),
	}
	if err := p.engine.OnAfterTrade(delta); err != nil {
		return nil, err
	}

	p.lastTrade = delta
	p.sqrtPrice = sqrtP
	p.tick = tick
	p.assetBalance.Add(p.assetBalance, netAsset)
	p.numeraireBalance.Sub(p.numeraireBalance, numeraireOut)
	p.feesAsset.Add(p.feesAsset, fee)
	return numeraireOut, nil
}

// rebalanceIfDue runs the engine's pre-trade hook and materializes a fresh
// slug set when one is returned.
func (p *Pool) rebalanceIfDue(now int64) error {
	set, err := p.engine.OnBeforeTrade(now, p.tick)
	if err != nil {
		return err
	}
	if set == nil {
		return nil
	}
	return p.applySlugs(set)
}

// Finalize withdraws every position and reports terminal balances through
// the engine. After it succeeds the pool holds no curve liquidity.
func (p *Pool) Finalize(now int64) (*domain.FinalizationRecord, error) {
	rec, err := p.engine.Finalize(now)
	if err != nil {
		return nil, err
	}
	p.positions = nil
	return rec, nil
}

// Balances returns the pool's custody view: (asset, numeraire) owned by the
// curve, excluding fees.
func (p *Pool) Balances() (*big.Int, *big.Int) {
	return new(big.Int).Set(p.assetBalance), new(big.Int).Set(p.numeraireBalance)
}

// LastTrade returns the delta of the most recently executed trade, or nil
// before the first trade.
func (p *Pool) LastTrade() *domain.TradeDelta { return p.lastTrade }

// FeesCollected returns the accrued (asset, numeraire) trading fees.
func (p *Pool) FeesCollected() (*big.Int, *big.Int) {
	return new(big.Int).Set(p.feesAsset), new(big.Int).Set(p.feesNumeraire)
}
