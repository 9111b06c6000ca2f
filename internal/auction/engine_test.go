package auction

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"math/big"
	"testing"

	"github.com/mr-tron/base58"

	"token-sale-lab/internal/authz"
	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/fixedpoint"
)

// testConfig spans a 10-epoch sale over ticks [-1000, 0]: per-epoch maximum
// shift 100 ticks, tick spacing 10, three discovery slugs.
func testConfig() *domain.SaleConfig {
	return &domain.SaleConfig{
		SaleID:                 "sale-engine",
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

func newTestEngine(t *testing.T, cfg *domain.SaleConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func buyDelta(asset, numeraire, fee int64) *domain.TradeDelta {
	return &domain.TradeDelta{
		AssetDelta:     big.NewInt(asset),
		NumeraireDelta: big.NewInt(numeraire),
		FeeAsset:       new(big.Int),
		FeeNumeraire:   big.NewInt(fee),
	}
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Gamma = 0
	if _, err := NewEngine(cfg); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestOnBeforeTrade_TimeWindow(t *testing.T) {
	e := newTestEngine(t, testConfig())

	if _, err := e.OnBeforeTrade(999, 0); !errors.Is(err, ErrSaleNotStarted) {
		t.Errorf("before start: got %v", err)
	}
	if _, err := e.OnBeforeTrade(2000, 0); !errors.Is(err, ErrSaleEnded) {
		t.Errorf("at end: got %v", err)
	}
}

func TestOnBeforeTrade_OpeningEpochStartsAtStartingPrice(t *testing.T) {
	e := newTestEngine(t, testConfig())

	set, err := e.OnBeforeTrade(1000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set == nil {
		t.Fatal("first trade of the sale must place slugs")
	}

	// The opening epoch carries no decay.
	if e.TickAccumulatorWad().Sign() != 0 {
		t.Errorf("accumulator = %s, want 0", e.TickAccumulatorWad())
	}
	lo, hi := e.CurveBounds()
	if lo != 0 || hi != 100 {
		t.Errorf("bounds = [%d, %d], want [0, 100]", lo, hi)
	}
	rec := e.LastRebalance()
	if rec == nil {
		t.Fatal("expected a rebalance record")
	}
	if rec.Epoch != 1 || rec.EpochsElapsed != 0 || rec.Branch != domain.BranchMaxDutch {
		t.Errorf("record epoch=%d elapsed=%d branch=%s", rec.Epoch, rec.EpochsElapsed, rec.Branch)
	}
}

func TestOnBeforeTrade_IdempotentWithinEpoch(t *testing.T) {
	e := newTestEngine(t, testConfig())

	if _, err := e.OnBeforeTrade(1000, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := e.Snapshot()

	set, err := e.OnBeforeTrade(1050, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set != nil {
		t.Error("second call within the epoch must not rebalance")
	}

	after := e.Snapshot()
	if after.AccumulatorWad.Cmp(before.AccumulatorWad) != 0 ||
		after.LastEpoch != before.LastEpoch ||
		after.TickLower != before.TickLower {
		t.Error("second call within the epoch mutated state")
	}
}

func TestOnBeforeTrade_SkippedEpochsDecayFully(t *testing.T) {
	e := newTestEngine(t, testConfig())

	if _, err := e.OnBeforeTrade(1000, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Jump straight to epoch 4 with no sales: three full shifts.
	set, err := e.OnBeforeTrade(1350, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set == nil {
		t.Fatal("epoch change must rebalance")
	}

	if want := fixedpoint.WadFromInt(-300); e.TickAccumulatorWad().Cmp(want) != 0 {
		t.Errorf("accumulator = %s, want %s", e.TickAccumulatorWad(), want)
	}
	rec := e.LastRebalance()
	if rec.Epoch != 4 || rec.EpochsElapsed != 3 || rec.Branch != domain.BranchMaxDutch {
		t.Errorf("record epoch=%d elapsed=%d branch=%s", rec.Epoch, rec.EpochsElapsed, rec.Branch)
	}
}

func TestOnAfterTrade_Accounting(t *testing.T) {
	e := newTestEngine(t, testConfig())

	if err := e.OnAfterTrade(buyDelta(100, 1000, 10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := e.TotalTokensSold(); got.Int64() != 100 {
		t.Errorf("sold = %s", got)
	}
	// The fee never counts as proceeds.
	if got := e.TotalProceeds(); got.Int64() != 990 {
		t.Errorf("proceeds = %s, want 990", got)
	}
	_, feesNum := e.FeesAccrued()
	if feesNum.Int64() != 10 {
		t.Errorf("numeraire fees = %s", feesNum)
	}

	// A sell reduces sold and proceeds.
	sell := &domain.TradeDelta{
		AssetDelta:     big.NewInt(-40),
		NumeraireDelta: big.NewInt(-300),
		FeeAsset:       big.NewInt(1),
		FeeNumeraire:   new(big.Int),
	}
	if err := e.OnAfterTrade(sell); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := e.TotalTokensSold(); got.Int64() != 60 {
		t.Errorf("sold after sell = %s", got)
	}
	if got := e.TotalProceeds(); got.Int64() != 690 {
		t.Errorf("proceeds after sell = %s", got)
	}
	feesAsset, _ := e.FeesAccrued()
	if feesAsset.Int64() != 1 {
		t.Errorf("asset fees = %s", feesAsset)
	}
}

func TestOnAfterTrade_SoldNeverNegative(t *testing.T) {
	e := newTestEngine(t, testConfig())

	sell := &domain.TradeDelta{
		AssetDelta:     big.NewInt(-10),
		NumeraireDelta: new(big.Int),
	}
	if err := e.OnAfterTrade(sell); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.TotalTokensSold().Sign() != 0 {
		t.Errorf("sold = %s, want clamped to 0", e.TotalTokensSold())
	}
}

func TestOnAfterTrade_RejectsInvalidDelta(t *testing.T) {
	e := newTestEngine(t, testConfig())

	if err := e.OnAfterTrade(&domain.TradeDelta{}); !errors.Is(err, domain.ErrNilAmount) {
		t.Errorf("expected ErrNilAmount, got %v", err)
	}
	bad := &domain.TradeDelta{
		AssetDelta:     big.NewInt(1),
		NumeraireDelta: big.NewInt(1),
		FeeNumeraire:   big.NewInt(-1),
	}
	if err := e.OnAfterTrade(bad); !errors.Is(err, domain.ErrNegativeFee) {
		t.Errorf("expected ErrNegativeFee, got %v", err)
	}
}

func TestProceedsCapTriggersEarlyExit(t *testing.T) {
	cfg := testConfig()
	cfg.MaximumProceeds = big.NewInt(500)
	e := newTestEngine(t, cfg)

	if err := e.OnAfterTrade(buyDelta(10, 400, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.EarlyExit() {
		t.Fatal("cap not reached yet")
	}
	if err := e.OnAfterTrade(buyDelta(10, 100, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.EarlyExit() {
		t.Fatal("cap reached: early exit expected")
	}

	// An early exit permits finalization before the ending time.
	rec, err := e.Finalize(1500)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if rec.Reason != domain.FinalizeReasonEarlyExit {
		t.Errorf("reason = %s, want %s", rec.Reason, domain.FinalizeReasonEarlyExit)
	}
}

func TestFinalize_PrematureMigrationRejected(t *testing.T) {
	e := newTestEngine(t, testConfig())

	if _, err := e.Finalize(1500); !errors.Is(err, ErrPrematureMigration) {
		t.Errorf("mid-sale finalize: got %v", err)
	}
	// Past the end but neither decayed out nor sold out.
	if _, err := e.Finalize(2000); !errors.Is(err, ErrPrematureMigration) {
		t.Errorf("undecayed finalize: got %v", err)
	}
}

func TestFinalize_SoldOutIsTerminal(t *testing.T) {
	e := newTestEngine(t, testConfig())

	if err := e.OnAfterTrade(buyDelta(1_000_000, 900_000, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := e.Finalize(2000)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if rec.Reason != domain.FinalizeReasonTerminal {
		t.Errorf("reason = %s, want %s", rec.Reason, domain.FinalizeReasonTerminal)
	}
	if rec.AssetBalance.Sign() != 0 {
		t.Errorf("asset remaining = %s, want 0", rec.AssetBalance)
	}
	if rec.NumeraireBalance.Int64() != 900_000 {
		t.Errorf("numeraire = %s", rec.NumeraireBalance)
	}
	// Average price paid: 900000 / 1000000 = 0.9 in wad scale.
	want, _ := fixedpoint.MulDivDown(big.NewInt(900_000), fixedpoint.Wad, big.NewInt(1_000_000))
	if rec.ClearingPriceWad.Cmp(want) != 0 {
		t.Errorf("clearing price = %s, want %s", rec.ClearingPriceWad, want)
	}

	if !e.Finalized() {
		t.Error("engine must report finalized")
	}
	if _, err := e.Finalize(2000); !errors.Is(err, ErrSaleFinalized) {
		t.Errorf("second finalize: got %v", err)
	}
	if _, err := e.OnBeforeTrade(1500, 0); !errors.Is(err, ErrSaleFinalized) {
		t.Errorf("trade after finalize: got %v", err)
	}
}

func TestFinalize_InsufficientProceeds(t *testing.T) {
	cfg := testConfig()
	cfg.MinimumProceeds = big.NewInt(1_000_000)
	e := newTestEngine(t, cfg)

	if err := e.OnAfterTrade(buyDelta(100, 500, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec, err := e.Finalize(2000)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if rec.Reason != domain.FinalizeReasonInsufficientProceeds {
		t.Errorf("reason = %s", rec.Reason)
	}
}

func TestTriggerEarlyExit_SignedAuthorization(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	authority := base58.Encode(pub)

	cfg := testConfig()
	cfg.EarlyExitAuthorities = []string{authority}
	e := newTestEngine(t, cfg)

	msg := e.EarlyExitMessage()
	sig := ed25519.Sign(priv, msg)

	if err := e.TriggerEarlyExit(msg, sig, authority); err != nil {
		t.Fatalf("authorized trigger rejected: %v", err)
	}
	if !e.EarlyExit() {
		t.Fatal("early exit flag not set")
	}

	rec, err := e.Finalize(1200)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if rec.Reason != domain.FinalizeReasonEarlyExit {
		t.Errorf("reason = %s", rec.Reason)
	}
}

func TestTriggerEarlyExit_Rejections(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	authority := base58.Encode(pub)

	otherPub, otherPriv, _ := ed25519.GenerateKey(rand.Reader)
	other := base58.Encode(otherPub)

	cfg := testConfig()
	cfg.EarlyExitAuthorities = []string{authority}
	e := newTestEngine(t, cfg)
	msg := e.EarlyExitMessage()

	// An unconfigured key, even with a valid signature over the message.
	if err := e.TriggerEarlyExit(msg, ed25519.Sign(otherPriv, msg), other); !errors.Is(err, authz.ErrUnknownAuthority) {
		t.Errorf("unknown authority: got %v", err)
	}
	// A configured key with someone else's signature.
	if err := e.TriggerEarlyExit(msg, ed25519.Sign(otherPriv, msg), authority); !errors.Is(err, authz.ErrBadSignature) {
		t.Errorf("bad signature: got %v", err)
	}
	// A signature over different bytes.
	if err := e.TriggerEarlyExit(msg, ed25519.Sign(priv, []byte("other message")), authority); !errors.Is(err, authz.ErrBadSignature) {
		t.Errorf("wrong message: got %v", err)
	}
	if e.EarlyExit() {
		t.Error("rejected triggers must not set the flag")
	}

	// No authorities configured at all.
	plain := newTestEngine(t, testConfig())
	if err := plain.TriggerEarlyExit(msg, ed25519.Sign(priv, msg), authority); !errors.Is(err, authz.ErrUnknownAuthority) {
		t.Errorf("no authorities: got %v", err)
	}
}

func TestDirectionDown_OrientsTicks(t *testing.T) {
	cfg := testConfig()
	cfg.Direction = domain.DirectionDown
	cfg.StartingTick = 0
	cfg.EndingTick = 1000 // decaying side is upward when price falls with the tick
	e := newTestEngine(t, cfg)

	lo, hi := e.CurveBounds()
	if lo != 0 || hi != 100 {
		t.Errorf("curve bounds = [%d, %d], want [0, 100]", lo, hi)
	}
	if cfg.ToCurve(250) != -250 || cfg.FromCurve(-250) != 250 {
		t.Error("DOWN direction must negate tick coordinates")
	}
}
