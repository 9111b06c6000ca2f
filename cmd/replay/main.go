// Package main replays persisted trade logs through a fresh engine and
// reports whether the stored rebalance and finalization records are
// reproduced exactly. Exits non-zero when any sale diverges.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	chstore "token-sale-lab/internal/storage/clickhouse"
	"token-sale-lab/internal/storage/migrations"
	pgstore "token-sale-lab/internal/storage/postgres"
	"token-sale-lab/internal/verification"
)

func main() {
	saleID := flag.String("sale-id", "", "Verify a single sale (default: all sales)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")

	flag.Parse()

	logger := log.New(os.Stdout, "[replay] ", log.LstdFlags)

	if *postgresDSN == "" || *clickhouseDSN == "" {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("Failed to migrate postgres: %v", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("Failed to migrate clickhouse: %v", err)
	}
	defer chConn.Close()

	verifier := verification.NewVerifier(verification.VerifierOptions{
		SaleStore:         pgstore.NewSaleStore(pool),
		TradeLogStore:     pgstore.NewTradeLogStore(pool),
		FinalizationStore: pgstore.NewFinalizationStore(pool),
		RebalanceStore:    chstore.NewRebalanceStore(chConn),
	})

	if *saleID != "" {
		res, err := verifier.VerifySale(ctx, *saleID)
		if err != nil {
			logger.Fatalf("Verification failed: %v", err)
		}
		printResult(res)
		if !res.Match {
			os.Exit(1)
		}
		return
	}

	report, err := verifier.VerifyAll(ctx)
	if err != nil {
		logger.Fatalf("Verification failed: %v", err)
	}

	for i := range report.Results {
		printResult(&report.Results[i])
	}
	fmt.Printf("verified %d sales: %d matched, %d divergent\n",
		report.TotalSales, report.MatchedSales, report.DivergentSales)
	if report.DivergentSales > 0 {
		os.Exit(1)
	}
}

func printResult(res *verification.SaleVerification) {
	status := "MATCH"
	if !res.Match {
		status = "DIVERGED"
	}
	fmt.Printf("sale %s: %s (%d trades replayed, %d rebalances checked)\n",
		res.SaleID, status, res.TradesReplayed, res.RebalancesChecked)
	for _, d := range res.Divergences {
		fmt.Printf("  %s: stored=%v replayed=%v\n", d.Field, d.Expected, d.Actual)
	}
}
