// Package auction owns the mutable sale state and drives the epoch
// rebalance cycle. The engine is a deterministic, single-writer state
// machine: the pool collaborator calls OnBeforeTrade ahead of every trade
// and OnAfterTrade with the executed deltas, and the migrator calls
// Finalize exactly once at the end of the sale.
//
// All ticks on this API are curve coordinates (asset price rises with the
// tick). Integrations whose pool tick runs the other way convert with
// SaleConfig.ToCurve and SaleConfig.FromCurve.
package auction

import (
	"errors"
	"fmt"
	"math/big"

	"token-sale-lab/internal/authz"
	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/epoch"
	"token-sale-lab/internal/fixedpoint"
	"token-sale-lab/internal/rebalance"
	"token-sale-lab/internal/slugs"
)

// Engine call errors.
var (
	ErrSaleNotStarted     = errors.New("sale has not started")
	ErrSaleEnded          = errors.New("sale has ended: trading is closed")
	ErrSaleFinalized      = errors.New("sale is finalized")
	ErrPrematureMigration = errors.New("premature migration: curve has not reached its terminal price and no early exit is authorized")
)

// Engine is one sale instance. It is not safe for concurrent use; each
// trade's OnBeforeTrade/OnAfterTrade pair must execute atomically, which is
// the caller's transaction boundary.
type Engine struct {
	cfg    *domain.SaleConfig
	clock  epoch.Clock
	rebal  *rebalance.Rebalancer
	placer *slugs.Placer
	auth   *authz.Verifier

	accWad         *big.Int
	lastEpoch      int64
	totalSold      *big.Int
	soldAtBoundary *big.Int
	totalProceeds  *big.Int
	feesAsset      *big.Int
	feesNumeraire  *big.Int

	tickLower int
	tickUpper int

	insufficientProceeds bool
	earlyExit            bool
	finalized            bool

	current    []domain.Slug
	lastRecord *domain.RebalanceRecord
}

// NewEngine validates the configuration and builds a sale engine with no
// state beyond the configuration itself.
func NewEngine(cfg *domain.SaleConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sale config: %w", err)
	}
	clock, err := epoch.NewClock(cfg.StartingTime, cfg.EndingTime, cfg.EpochLength)
	if err != nil {
		return nil, fmt.Errorf("sale config: %w", err)
	}

	var auth *authz.Verifier
	if len(cfg.EarlyExitAuthorities) > 0 {
		auth, err = authz.NewVerifier(cfg.EarlyExitAuthorities)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidAuthorityKey, err)
		}
	}

	startCurve := cfg.ToCurve(cfg.StartingTick)
	endCurve := cfg.ToCurve(cfg.EndingTick)

	return &Engine{
		cfg:    cfg,
		clock:  clock,
		rebal:  rebalance.New(cfg.NumTokensToSell, startCurve, endCurve, cfg.Gamma, cfg.TickSpacing, clock.TotalEpochs()),
		placer: slugs.NewPlacer(clock, cfg),
		auth:   auth,

		accWad:         new(big.Int),
		totalSold:      new(big.Int),
		soldAtBoundary: new(big.Int),
		totalProceeds:  new(big.Int),
		feesAsset:      new(big.Int),
		feesNumeraire:  new(big.Int),

		tickLower: startCurve,
		tickUpper: startCurve + cfg.Gamma,
	}, nil
}

// OnBeforeTrade must be called before every trade with the trade time and
// the pool's current price coordinate. When a new epoch has begun since the
// last rebalance it recomputes the curve and returns the fresh slug set for
// the pool to materialize with remove-then-add semantics; otherwise it
// returns nil and mutates nothing, which makes the rebalance idempotent
// within an epoch.
func (e *Engine) OnBeforeTrade(now int64, currentTick int) ([]domain.Slug, error) {
	if e.finalized {
		return nil, ErrSaleFinalized
	}
	if now < e.cfg.StartingTime {
		return nil, ErrSaleNotStarted
	}
	if now >= e.cfg.EndingTime {
		e.checkProceedsFloor()
		return nil, ErrSaleEnded
	}

	cur := e.clock.CurrentEpoch(now)
	if cur <= e.lastEpoch {
		return nil, nil
	}

	// Completed epochs this shift covers. The opening epoch carries no
	// decay: the sale begins exactly at the starting price.
	elapsed := cur - e.lastEpoch
	if e.lastEpoch == 0 {
		elapsed = cur - 1
	}

	expected := e.clock.ExpectedSold(e.clock.EpochStart(cur), e.cfg.NumTokensToSell)

	res, err := e.rebal.Step(rebalance.Input{
		EpochsElapsed:      elapsed,
		ExpectedSold:       expected,
		TotalSold:          e.totalSold,
		SoldAtLastBoundary: e.soldAtBoundary,
		CurrentTick:        currentTick,
		AccumulatorWad:     e.accWad,
	})
	if err != nil {
		return nil, fmt.Errorf("rebalance epoch %d: %w", cur, err)
	}

	placement, err := e.placer.Place(slugs.Input{
		TickLower:     res.TickLower,
		TickUpper:     res.TickUpper,
		CurrentTick:   currentTick,
		TotalProceeds: e.totalProceeds,
		TotalSold:     e.totalSold,
		CurrentEpoch:  cur,
	})
	if err != nil {
		return nil, fmt.Errorf("place slugs epoch %d: %w", cur, err)
	}

	// Commit only after both computations succeeded: a failed rebalance
	// leaves no partial mutation behind.
	e.accWad = res.AccumulatorWad
	e.tickLower = res.TickLower
	e.tickUpper = res.TickUpper
	e.lastEpoch = cur
	e.soldAtBoundary = new(big.Int).Set(e.totalSold)
	e.current = placement.Slugs

	e.lastRecord = &domain.RebalanceRecord{
		SaleID:          e.cfg.SaleID,
		Epoch:           cur,
		EpochsElapsed:   elapsed,
		Branch:          res.Branch,
		Timestamp:       now,
		AccumulatorWad:  new(big.Int).Set(res.AccumulatorWad),
		TickLower:       res.TickLower,
		TickUpper:       res.TickUpper,
		CurrentTick:     placement.CurrentTick,
		TotalTokensSold: new(big.Int).Set(e.totalSold),
		TotalProceeds:   new(big.Int).Set(e.totalProceeds),
		LowerFallback:   placement.LowerFallback,
		Slugs:           domain.CloneSlugs(placement.Slugs),
	}

	return domain.CloneSlugs(placement.Slugs), nil
}

// OnAfterTrade folds one executed trade into the sale state. Fees are
// excluded from proceeds: the curve never reinvests its own fee take.
func (e *Engine) OnAfterTrade(d *domain.TradeDelta) error {
	if e.finalized {
		return ErrSaleFinalized
	}
	if err := d.Validate(); err != nil {
		return err
	}

	e.totalSold.Add(e.totalSold, d.AssetDelta)
	if e.totalSold.Sign() < 0 {
		e.totalSold.SetInt64(0)
	}
	net := new(big.Int).Sub(d.NumeraireDelta, d.FeeNumeraireOrZero())
	e.totalProceeds.Add(e.totalProceeds, net)
	e.feesAsset.Add(e.feesAsset, d.FeeAssetOrZero())
	e.feesNumeraire.Add(e.feesNumeraire, d.FeeNumeraireOrZero())

	if e.cfg.MaximumProceeds != nil && e.cfg.MaximumProceeds.Sign() > 0 &&
		e.totalProceeds.Cmp(e.cfg.MaximumProceeds) >= 0 {
		e.earlyExit = true
	}
	return nil
}

// TriggerEarlyExit authorizes an early exit from a signed request. The
// message must be the canonical early-exit message for this sale and the
// signature must verify against one of the configured authorities.
func (e *Engine) TriggerEarlyExit(message, signature []byte, publicKey string) error {
	if e.finalized {
		return ErrSaleFinalized
	}
	if e.auth == nil {
		return authz.ErrUnknownAuthority
	}
	if err := e.auth.Verify(message, signature, publicKey); err != nil {
		return err
	}
	e.earlyExit = true
	return nil
}

// EarlyExitMessage returns the canonical bytes an authority signs to
// trigger an early exit for this sale.
func (e *Engine) EarlyExitMessage() []byte {
	return authz.EarlyExitMessage(e.cfg.SaleID, e.lastEpoch)
}

// checkProceedsFloor records the insufficient-proceeds outcome the first
// time the sale is observed past its ending time.
func (e *Engine) checkProceedsFloor() {
	if e.insufficientProceeds {
		return
	}
	if e.cfg.MinimumProceeds != nil && e.totalProceeds.Cmp(e.cfg.MinimumProceeds) < 0 {
		e.insufficientProceeds = true
	}
}

// Finalize withdraws the curve and reports the terminal balances for
// migration. It is the only state-destroying operation and is permitted
// only when the sale is economically resolved: an authorized early exit,
// the insufficient-proceeds outcome, or the curve having reached its
// terminal price (fully decayed or fully sold) after the ending time.
func (e *Engine) Finalize(now int64) (*domain.FinalizationRecord, error) {
	if e.finalized {
		return nil, ErrSaleFinalized
	}
	if now >= e.cfg.EndingTime {
		e.checkProceedsFloor()
	}

	soldOut := e.totalSold.Cmp(e.cfg.NumTokensToSell) >= 0

	var reason string
	switch {
	case e.earlyExit:
		reason = domain.FinalizeReasonEarlyExit
	case e.insufficientProceeds:
		reason = domain.FinalizeReasonInsufficientProceeds
	case now >= e.cfg.EndingTime && (e.rebal.TerminalReached(e.accWad) || soldOut):
		reason = domain.FinalizeReasonTerminal
	default:
		return nil, ErrPrematureMigration
	}

	clearing := new(big.Int)
	if e.totalSold.Sign() > 0 {
		clearing, _ = fixedpoint.MulDivDown(e.totalProceeds, fixedpoint.Wad, e.totalSold)
	}
	remaining := new(big.Int).Sub(e.cfg.NumTokensToSell, e.totalSold)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}

	e.finalized = true
	e.current = nil

	return &domain.FinalizationRecord{
		SaleID:           e.cfg.SaleID,
		Reason:           reason,
		Timestamp:        now,
		ClearingPriceWad: clearing,
		AssetBalance:     remaining,
		NumeraireBalance: new(big.Int).Set(e.totalProceeds),
		FeesAsset:        new(big.Int).Set(e.feesAsset),
		FeesNumeraire:    new(big.Int).Set(e.feesNumeraire),
	}, nil
}
