package verification

import (
	"context"
	"io"
	"log"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/simulation"
	"token-sale-lab/internal/storage"
	"token-sale-lab/internal/storage/memory"
)

type testStores struct {
	sales         *memory.SaleStore
	tradeLog      *memory.TradeLogStore
	rebalances    *memory.RebalanceStore
	finalizations *memory.FinalizationStore
}

func newTestStores() *testStores {
	return &testStores{
		sales:         memory.NewSaleStore(),
		tradeLog:      memory.NewTradeLogStore(),
		rebalances:    memory.NewRebalanceStore(),
		finalizations: memory.NewFinalizationStore(),
	}
}

func newTestVerifier(s *testStores) *Verifier {
	return NewVerifier(VerifierOptions{
		SaleStore:         s.sales,
		TradeLogStore:     s.tradeLog,
		RebalanceStore:    s.rebalances,
		FinalizationStore: s.finalizations,
	})
}

func saleConfig(saleID string) *domain.SaleConfig {
	return &domain.SaleConfig{
		SaleID:                 saleID,
		NumTokensToSell:        big.NewInt(1_000_000),
		MinimumProceeds:        new(big.Int),
		MaximumProceeds:        big.NewInt(1_000_000_000),
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

// runSale drives a scripted sale through the simulation runner so the stores
// hold a consistent log, rebalance stream and finalization for saleID.
func runSale(t *testing.T, stores *testStores, cfg *domain.SaleConfig) {
	t.Helper()

	runner := simulation.NewRunner(simulation.RunnerOptions{
		SaleStore:         stores.sales,
		TradeLogStore:     stores.tradeLog,
		RebalanceStore:    stores.rebalances,
		FinalizationStore: stores.finalizations,
		Logger:            log.New(io.Discard, "", 0),
	})

	script := &simulation.Script{
		Config: cfg,
		FeeBps: 100,
		Trades: []simulation.ScriptedTrade{
			{AtTime: 1050, Side: simulation.SideBuy, Amount: big.NewInt(1000)},
			{AtTime: 1250, Side: simulation.SideBuy, Amount: big.NewInt(2000)},
			{AtTime: 1260, Side: simulation.SideSell, Amount: big.NewInt(10)},
		},
	}
	_, err := runner.Run(context.Background(), script)
	require.NoError(t, err)
}

func TestVerifySale_MatchesOwnRun(t *testing.T) {
	stores := newTestStores()
	cfg := saleConfig("verify-1")
	// The floor keeps the finalization reason replay-derivable.
	cfg.MinimumProceeds = big.NewInt(1_000_000_000)
	runSale(t, stores, cfg)

	res, err := newTestVerifier(stores).VerifySale(context.Background(), "verify-1")
	require.NoError(t, err)

	assert.True(t, res.Match, "divergences: %v", res.Divergences)
	assert.Empty(t, res.Divergences)
	assert.Equal(t, 3, res.TradesReplayed)
	assert.Equal(t, 2, res.RebalancesChecked)
}

func TestVerifySale_DetectsTamperedRebalance(t *testing.T) {
	stores := newTestStores()
	cfg := saleConfig("verify-1")
	cfg.MinimumProceeds = big.NewInt(1_000_000_000)
	runSale(t, stores, cfg)

	ctx := context.Background()

	// Rebuild the rebalance stream with one tampered snapshot.
	records, err := stores.rebalances.GetBySaleID(ctx, "verify-1")
	require.NoError(t, err)
	require.NotEmpty(t, records)
	records[1].TotalTokensSold = new(big.Int).Add(records[1].TotalTokensSold, big.NewInt(7))
	records[1].TickLower += 10

	tampered := memory.NewRebalanceStore()
	require.NoError(t, tampered.InsertBulk(ctx, records))
	stores.rebalances = tampered

	res, err := newTestVerifier(stores).VerifySale(ctx, "verify-1")
	require.NoError(t, err)

	assert.False(t, res.Match)
	fields := make(map[string]bool)
	for _, d := range res.Divergences {
		fields[d.Field] = true
	}
	assert.True(t, fields["Rebalance[3].TotalTokensSold"], "divergences: %v", res.Divergences)
	assert.True(t, fields["Rebalance[3].TickLower"], "divergences: %v", res.Divergences)
}

func TestVerifySale_DetectsTamperedFinalization(t *testing.T) {
	stores := newTestStores()
	cfg := saleConfig("verify-1")
	cfg.MinimumProceeds = big.NewInt(1_000_000_000)
	runSale(t, stores, cfg)

	ctx := context.Background()

	fin, err := stores.finalizations.GetBySaleID(ctx, "verify-1")
	require.NoError(t, err)
	fin.NumeraireBalance = new(big.Int).Add(fin.NumeraireBalance, big.NewInt(1))

	tampered := memory.NewFinalizationStore()
	require.NoError(t, tampered.Insert(ctx, fin))
	stores.finalizations = tampered

	res, err := newTestVerifier(stores).VerifySale(ctx, "verify-1")
	require.NoError(t, err)

	assert.False(t, res.Match)
	require.NotEmpty(t, res.Divergences)
	assert.Equal(t, "Finalization.NumeraireBalance", res.Divergences[0].Field)
}

func TestVerifySale_EmptyLog(t *testing.T) {
	stores := newTestStores()
	ctx := context.Background()

	cfg := saleConfig("no-trades")
	require.NoError(t, stores.sales.Insert(ctx, &domain.SaleRecord{Config: *cfg, CreatedAt: 1}))

	_, err := newTestVerifier(stores).VerifySale(ctx, "no-trades")
	assert.ErrorIs(t, err, ErrEmptyLog)
}

func TestVerifySale_UnknownSale(t *testing.T) {
	_, err := newTestVerifier(newTestStores()).VerifySale(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVerifyAll(t *testing.T) {
	stores := newTestStores()
	ctx := context.Background()

	cfgA := saleConfig("sale-a")
	cfgA.MinimumProceeds = big.NewInt(1_000_000_000)
	runSale(t, stores, cfgA)

	cfgB := saleConfig("sale-b")
	cfgB.MinimumProceeds = big.NewInt(1_000_000_000)
	runSale(t, stores, cfgB)

	// A sale with no trades is skipped, not reported.
	cfgC := saleConfig("sale-c")
	require.NoError(t, stores.sales.Insert(ctx, &domain.SaleRecord{Config: *cfgC, CreatedAt: 1}))

	report, err := newTestVerifier(stores).VerifyAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalSales)
	assert.Equal(t, 2, report.MatchedSales)
	assert.Equal(t, 0, report.DivergentSales)
	require.Len(t, report.Results, 2)
}

func TestCompareRebalanceRecords_SlugDivergence(t *testing.T) {
	base := &domain.RebalanceRecord{
		SaleID:          "sale-1",
		Epoch:           2,
		Branch:          domain.BranchMaxDutch,
		AccumulatorWad:  big.NewInt(-100),
		TotalTokensSold: new(big.Int),
		TotalProceeds:   new(big.Int),
		Slugs: []domain.Slug{
			{Kind: domain.SlugUpper, Range: domain.TickRange{Lower: 0, Upper: 10}, Liquidity: big.NewInt(5), Depth: big.NewInt(9)},
		},
	}
	other := *base
	other.Slugs = []domain.Slug{
		{Kind: domain.SlugUpper, Range: domain.TickRange{Lower: 0, Upper: 10}, Liquidity: big.NewInt(6), Depth: big.NewInt(9)},
	}

	divergences := CompareRebalanceRecords(base, &other)
	require.Len(t, divergences, 1)
	assert.Equal(t, "Rebalance[2].Slugs[0].Liquidity", divergences[0].Field)
}
