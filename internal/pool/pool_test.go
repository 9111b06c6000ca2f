package pool

import (
	"errors"
	"math/big"
	"testing"

	"token-sale-lab/internal/auction"
	"token-sale-lab/internal/domain"
)

func testConfig() *domain.SaleConfig {
	return &domain.SaleConfig{
		SaleID:                 "sale-pool",
		NumTokensToSell:        big.NewInt(1_000_000),
		StartingTime:           1000,
		EndingTime:             2000,
		EpochLength:            100,
		StartingTick:           0,
		EndingTick:             -1000,
		Gamma:                  100,
		TickSpacing:            10,
		NumPriceDiscoverySlugs: 3,
		Direction:              domain.DirectionUp,
	}
}

func newTestPool(t *testing.T, cfg *domain.SaleConfig, feeBps int64) *Pool {
	t.Helper()
	engine, err := auction.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	p, err := New(engine, feeBps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RejectsBadFee(t *testing.T) {
	engine, err := auction.NewEngine(testConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := New(engine, -1); !errors.Is(err, ErrInvalidFee) {
		t.Errorf("negative fee: got %v", err)
	}
	if _, err := New(engine, 10_000); !errors.Is(err, ErrInvalidFee) {
		t.Errorf("100%% fee: got %v", err)
	}
}

func TestProvideLiquidity_AlwaysRejected(t *testing.T) {
	p := newTestPool(t, testConfig(), 0)
	err := p.ProvideLiquidity("someone", domain.TickRange{Lower: 0, Upper: 10}, big.NewInt(1000))
	if !errors.Is(err, ErrExternalLiquidity) {
		t.Errorf("expected ErrExternalLiquidity, got %v", err)
	}
}

func TestBuy_FillsAndAccounts(t *testing.T) {
	p := newTestPool(t, testConfig(), 100) // 1%

	in := big.NewInt(1000)
	out, err := p.Buy(1000, in)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("asset out = %s", out)
	}

	// Fee is 10; the engine sees the full gross amount with the fee broken
	// out, so proceeds are exactly net.
	if got := p.Engine().TotalProceeds(); got.Int64() != 990 {
		t.Errorf("proceeds = %s, want 990", got)
	}
	if got := p.Engine().TotalTokensSold(); got.Cmp(out) != 0 {
		t.Errorf("engine sold %s, pool paid out %s", got, out)
	}

	assetBal, numBal := p.Balances()
	if assetBal.Cmp(new(big.Int).Neg(out)) != 0 {
		t.Errorf("asset balance = %s, want %s", assetBal, new(big.Int).Neg(out))
	}
	if numBal.Int64() != 990 {
		t.Errorf("numeraire balance = %s, want 990", numBal)
	}
	_, feesNum := p.FeesCollected()
	if feesNum.Int64() != 10 {
		t.Errorf("numeraire fees = %s, want 10", feesNum)
	}

	// Buying pushes the price up from the starting tick.
	if p.CurrentTick() < 0 {
		t.Errorf("tick = %d after a buy from tick 0", p.CurrentTick())
	}

	last := p.LastTrade()
	if last == nil {
		t.Fatal("LastTrade is nil after a trade")
	}
	if last.AssetDelta.Cmp(out) != 0 || last.NumeraireDelta.Cmp(in) != 0 || last.FeeNumeraire.Int64() != 10 {
		t.Errorf("last trade delta = %+v", last)
	}
}

func TestBuy_FeeRoundsUp(t *testing.T) {
	p := newTestPool(t, testConfig(), 100)

	if _, err := p.Buy(1000, big.NewInt(999)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// ceil(999 * 1%) = 10, so net proceeds are 989.
	if got := p.Engine().TotalProceeds(); got.Int64() != 989 {
		t.Errorf("proceeds = %s, want 989", got)
	}
}

func TestBuy_ZeroAmount(t *testing.T) {
	p := newTestPool(t, testConfig(), 0)
	if _, err := p.Buy(1000, new(big.Int)); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("zero: got %v", err)
	}
	if _, err := p.Buy(1000, nil); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("nil: got %v", err)
	}
}

func TestBuy_OutsideWindow(t *testing.T) {
	p := newTestPool(t, testConfig(), 0)
	if _, err := p.Buy(999, big.NewInt(100)); !errors.Is(err, auction.ErrSaleNotStarted) {
		t.Errorf("before start: got %v", err)
	}
	if _, err := p.Buy(2000, big.NewInt(100)); !errors.Is(err, auction.ErrSaleEnded) {
		t.Errorf("at end: got %v", err)
	}
}

func TestBuy_InsufficientLiquidityMutatesNothing(t *testing.T) {
	p := newTestPool(t, testConfig(), 0)

	// Prime the epoch's slug set with a small buy.
	if _, err := p.Buy(1000, big.NewInt(100)); err != nil {
		t.Fatalf("priming buy: %v", err)
	}
	tickBefore := p.CurrentTick()
	proceedsBefore := p.Engine().TotalProceeds()

	// Far more numeraire than the placed ranges can absorb.
	huge := new(big.Int).Mul(big.NewInt(1_000_000_000), big.NewInt(1_000_000_000))
	if _, err := p.Buy(1001, huge); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}

	if p.CurrentTick() != tickBefore {
		t.Error("failed trade moved the price")
	}
	if p.Engine().TotalProceeds().Cmp(proceedsBefore) != 0 {
		t.Error("failed trade changed proceeds")
	}
}

func TestSell_ReturnsNumeraire(t *testing.T) {
	p := newTestPool(t, testConfig(), 0)

	bought, err := p.Buy(1000, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	soldBefore := p.Engine().TotalTokensSold()

	// Sell a fraction back; the price walks down through the same range.
	back := new(big.Int).Quo(bought, big.NewInt(2))
	out, err := p.Sell(1001, back)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if out.Sign() <= 0 {
		t.Fatalf("numeraire out = %s", out)
	}
	// Selling at or below the buy price never returns more than was paid.
	if out.Int64() > 10_000 {
		t.Errorf("numeraire out = %s, more than total paid in", out)
	}

	if got := p.Engine().TotalTokensSold(); got.Cmp(soldBefore) >= 0 {
		t.Error("sell did not reduce net sold")
	}

	last := p.LastTrade()
	if last.AssetDelta.Sign() >= 0 || last.NumeraireDelta.Sign() >= 0 {
		t.Errorf("sell delta signs: asset %s numeraire %s", last.AssetDelta, last.NumeraireDelta)
	}
}

func TestSell_FeeInAsset(t *testing.T) {
	p := newTestPool(t, testConfig(), 100)

	bought, err := p.Buy(1000, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := p.Sell(1001, bought); err != nil {
		t.Fatalf("sell: %v", err)
	}

	feesAsset, feesNum := p.FeesCollected()
	if feesAsset.Sign() <= 0 {
		t.Errorf("asset fees = %s, want positive after a sell", feesAsset)
	}
	if feesNum.Sign() <= 0 {
		t.Errorf("numeraire fees = %s, want positive after a buy", feesNum)
	}
}

func TestRebalanceAppliedOnEpochChange(t *testing.T) {
	p := newTestPool(t, testConfig(), 0)

	if _, err := p.Buy(1000, big.NewInt(100)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	epochBefore := p.Engine().LastEpoch()

	// A trade in a later epoch triggers the rebalance on its way in.
	if _, err := p.Buy(1250, big.NewInt(100)); err != nil {
		t.Fatalf("buy in later epoch: %v", err)
	}
	if got := p.Engine().LastEpoch(); got <= epochBefore {
		t.Errorf("epoch = %d, want past %d", got, epochBefore)
	}
	if p.Engine().LastRebalance() == nil {
		t.Fatal("expected a rebalance record")
	}
}

func TestFinalize_ClosesTrading(t *testing.T) {
	cfg := testConfig()
	cfg.MaximumProceeds = big.NewInt(500)
	p := newTestPool(t, cfg, 0)

	// Crossing the proceeds cap authorizes the early exit.
	if _, err := p.Buy(1000, big.NewInt(600)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	rec, err := p.Finalize(1100)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if rec.Reason != domain.FinalizeReasonEarlyExit {
		t.Errorf("reason = %s", rec.Reason)
	}

	if _, err := p.Buy(1100, big.NewInt(100)); !errors.Is(err, auction.ErrSaleFinalized) {
		t.Errorf("trade after finalize: got %v", err)
	}
	if _, err := p.Finalize(1100); !errors.Is(err, auction.ErrSaleFinalized) {
		t.Errorf("second finalize: got %v", err)
	}
}

func TestFinalize_PrematureRejected(t *testing.T) {
	p := newTestPool(t, testConfig(), 0)
	if _, err := p.Finalize(1500); !errors.Is(err, auction.ErrPrematureMigration) {
		t.Errorf("expected ErrPrematureMigration, got %v", err)
	}
}
