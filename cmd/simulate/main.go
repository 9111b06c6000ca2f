// Package main runs a scripted token sale end to end: it builds the engine
// and reference pool from a JSON script, executes the trades, persists the
// sale, trade log, rebalance snapshots and finalization, and prints the
// outcome.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/simulation"
	"token-sale-lab/internal/storage"
	chstore "token-sale-lab/internal/storage/clickhouse"
	"token-sale-lab/internal/storage/memory"
	"token-sale-lab/internal/storage/migrations"
	pgstore "token-sale-lab/internal/storage/postgres"
)

func main() {
	scriptPath := flag.String("script", "", "Path to the JSON sale script (required)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of the databases")

	flag.Parse()

	logger := log.New(os.Stdout, "[simulate] ", log.LstdFlags)

	if *scriptPath == "" {
		logger.Fatal("--script is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	script, err := loadScript(*scriptPath)
	if err != nil {
		logger.Fatalf("Failed to load script: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	runner := simulation.NewRunner(simulation.RunnerOptions{
		SaleStore:         stores.sales,
		TradeLogStore:     stores.tradeLog,
		RebalanceStore:    stores.rebalances,
		FinalizationStore: stores.finalizations,
		Logger:            logger,
	})

	result, err := runner.Run(ctx, script)
	if err != nil {
		logger.Fatalf("Simulation failed: %v", err)
	}

	fin := result.Finalization
	fmt.Printf("sale %s finalized\n", fin.SaleID)
	fmt.Printf("  reason:            %s\n", fin.Reason)
	fmt.Printf("  clearing price:    %s (1e18 scale)\n", fin.ClearingPriceWad)
	fmt.Printf("  asset remaining:   %s\n", fin.AssetBalance)
	fmt.Printf("  numeraire raised:  %s\n", fin.NumeraireBalance)
	fmt.Printf("  fees (asset/num):  %s / %s\n", fin.FeesAsset, fin.FeesNumeraire)
	fmt.Printf("  trades executed:   %d (rejected %d)\n", result.TradesExecuted, result.TradesRejected)
	fmt.Printf("  rebalances:        %d\n", result.Rebalances)
}

// allStores holds the storage implementations the simulator writes to.
type allStores struct {
	sales         storage.SaleStore
	tradeLog      storage.TradeLogStore
	rebalances    storage.RebalanceStore
	finalizations storage.FinalizationStore
}

// createStores creates all required stores and applies migrations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			sales:         memory.NewSaleStore(),
			tradeLog:      memory.NewTradeLogStore(),
			rebalances:    memory.NewRebalanceStore(),
			finalizations: memory.NewFinalizationStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}

	stores := &allStores{
		sales:         pgstore.NewSaleStore(pool),
		tradeLog:      pgstore.NewTradeLogStore(pool),
		finalizations: pgstore.NewFinalizationStore(pool),
		rebalances:    chstore.NewRebalanceStore(chConn),
	}
	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// scriptFile is the JSON shape of a sale script. Amounts are decimal
// strings.
type scriptFile struct {
	Sale struct {
		SaleID               string   `json:"sale_id"`
		NumTokensToSell      string   `json:"num_tokens_to_sell"`
		MinimumProceeds      string   `json:"minimum_proceeds"`
		MaximumProceeds      string   `json:"maximum_proceeds"`
		StartingTime         int64    `json:"starting_time"`
		EndingTime           int64    `json:"ending_time"`
		EpochLength          int64    `json:"epoch_length"`
		StartingTick         int      `json:"starting_tick"`
		EndingTick           int      `json:"ending_tick"`
		Gamma                int      `json:"gamma"`
		TickSpacing          int      `json:"tick_spacing"`
		NumPDSlugs           int      `json:"num_price_discovery_slugs"`
		Direction            string   `json:"direction"`
		EarlyExitAuthorities []string `json:"early_exit_authorities"`
	} `json:"sale"`
	FeeBps     int64 `json:"fee_bps"`
	FinalizeAt int64 `json:"finalize_at"`
	Trades     []struct {
		AtTime int64  `json:"at_time"`
		Side   string `json:"side"`
		Amount string `json:"amount"`
	} `json:"trades"`
}

// loadScript reads and decodes a sale script.
func loadScript(path string) (*simulation.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f scriptFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}

	supply, err := parseAmount(f.Sale.NumTokensToSell)
	if err != nil {
		return nil, fmt.Errorf("num_tokens_to_sell: %w", err)
	}
	minP, err := parseAmount(f.Sale.MinimumProceeds)
	if err != nil {
		return nil, fmt.Errorf("minimum_proceeds: %w", err)
	}
	maxP, err := parseAmount(f.Sale.MaximumProceeds)
	if err != nil {
		return nil, fmt.Errorf("maximum_proceeds: %w", err)
	}

	script := &simulation.Script{
		Config: &domain.SaleConfig{
			SaleID:                 f.Sale.SaleID,
			NumTokensToSell:        supply,
			MinimumProceeds:        minP,
			MaximumProceeds:        maxP,
			StartingTime:           f.Sale.StartingTime,
			EndingTime:             f.Sale.EndingTime,
			EpochLength:            f.Sale.EpochLength,
			StartingTick:           f.Sale.StartingTick,
			EndingTick:             f.Sale.EndingTick,
			Gamma:                  f.Sale.Gamma,
			TickSpacing:            f.Sale.TickSpacing,
			NumPriceDiscoverySlugs: f.Sale.NumPDSlugs,
			Direction:              domain.Direction(f.Sale.Direction),
			EarlyExitAuthorities:   f.Sale.EarlyExitAuthorities,
		},
		FeeBps:     f.FeeBps,
		FinalizeAt: f.FinalizeAt,
	}

	for i, t := range f.Trades {
		amount, err := parseAmount(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("trade %d amount: %w", i, err)
		}
		script.Trades = append(script.Trades, simulation.ScriptedTrade{
			AtTime: t.AtTime,
			Side:   simulation.Side(t.Side),
			Amount: amount,
		})
	}

	return script, nil
}

// parseAmount parses a decimal string, treating "" as zero.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}
