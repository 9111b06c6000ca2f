// Package main provides the sale service: it hosts live sale engines behind
// an HTTP API, persists every executed trade and rebalance, streams state to
// websocket monitors, and exposes Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mr-tron/base58"

	"token-sale-lab/internal/auction"
	"token-sale-lab/internal/domain"
	"token-sale-lab/internal/monitor"
	"token-sale-lab/internal/observability"
	"token-sale-lab/internal/pool"
	"token-sale-lab/internal/storage"
	chstore "token-sale-lab/internal/storage/clickhouse"
	"token-sale-lab/internal/storage/memory"
	"token-sale-lab/internal/storage/migrations"
	pgstore "token-sale-lab/internal/storage/postgres"
)

func main() {
	loadEnvFile()

	addr := flag.String("addr", ":8080", "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of the databases")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	server := &Server{
		stores:  stores,
		hub:     monitor.NewHub(logger),
		logger:  logger,
		sales:   make(map[string]*liveSale),
		started: time.Now(),
	}

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: server.routes(),
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		server.hub.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Shutdown error: %v", err)
		}
		cancel()
	}()

	logger.Printf("Listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// allStores holds all storage implementations.
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

	pgPool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pgPool); err != nil {
		pgPool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pgPool.Close()
		return nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}

	stores := &allStores{
		sales:         pgstore.NewSaleStore(pgPool),
		tradeLog:      pgstore.NewTradeLogStore(pgPool),
		finalizations: pgstore.NewFinalizationStore(pgPool),
		rebalances:    chstore.NewRebalanceStore(chConn),
	}
	cleanup := func() {
		chConn.Close()
		pgPool.Close()
	}
	return stores, cleanup, nil
}

// liveSale is one hosted sale. Its mutex is the trade transaction boundary:
// the engine's pre/post hooks and the log append execute under it as one
// atomic operation.
type liveSale struct {
	mu     sync.Mutex
	engine *auction.Engine
	pool   *pool.Pool
	seq    int64
}

// Server hosts live sales.
type Server struct {
	stores  *allStores
	hub     *monitor.Hub
	logger  *log.Logger
	started time.Time

	mu    sync.RWMutex
	sales map[string]*liveSale
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)

	mux.HandleFunc("POST /sales", s.handleCreateSale)
	mux.HandleFunc("GET /sales/{id}", s.handleGetSale)
	mux.HandleFunc("POST /sales/{id}/trades", s.handleTrade)
	mux.HandleFunc("POST /sales/{id}/early-exit", s.handleEarlyExit)
	mux.HandleFunc("POST /sales/{id}/finalize", s.handleFinalize)

	return mux
}

// createSaleRequest is the JSON body for POST /sales. Amounts are decimal
// strings.
type createSaleRequest struct {
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
	FeeBps               int64    `json:"fee_bps"`
}

func (s *Server) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	supply, err := parseAmount(req.NumTokensToSell)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	minP, err := parseAmount(req.MinimumProceeds)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	maxP, err := parseAmount(req.MaximumProceeds)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}

	cfg := &domain.SaleConfig{
		SaleID:                 req.SaleID,
		NumTokensToSell:        supply,
		MinimumProceeds:        minP,
		MaximumProceeds:        maxP,
		StartingTime:           req.StartingTime,
		EndingTime:             req.EndingTime,
		EpochLength:            req.EpochLength,
		StartingTick:           req.StartingTick,
		EndingTick:             req.EndingTick,
		Gamma:                  req.Gamma,
		TickSpacing:            req.TickSpacing,
		NumPriceDiscoverySlugs: req.NumPDSlugs,
		Direction:              domain.Direction(req.Direction),
		EarlyExitAuthorities:   req.EarlyExitAuthorities,
	}

	engine, err := auction.NewEngine(cfg)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	p, err := pool.New(engine, req.FeeBps)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	if _, exists := s.sales[cfg.SaleID]; exists {
		s.mu.Unlock()
		httpError(w, http.StatusConflict, fmt.Errorf("sale %s already hosted", cfg.SaleID))
		return
	}
	s.sales[cfg.SaleID] = &liveSale{engine: engine, pool: p}
	s.mu.Unlock()

	rec := &domain.SaleRecord{Config: *cfg, CreatedAt: time.Now().Unix()}
	if err := s.stores.sales.Insert(r.Context(), rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			httpError(w, http.StatusConflict, err)
			return
		}
		httpError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.Printf("sale %s created: supply=%s ticks=[%d,%d] gamma=%d",
		cfg.SaleID, cfg.NumTokensToSell, cfg.StartingTick, cfg.EndingTick, cfg.Gamma)
	writeJSON(w, http.StatusCreated, map[string]string{"sale_id": cfg.SaleID})
}

func (s *Server) lookup(saleID string) (*liveSale, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.sales[saleID]
	return ls, ok
}

// saleStateResponse is the JSON body for GET /sales/{id}.
type saleStateResponse struct {
	SaleID         string `json:"sale_id"`
	LastEpoch      int64  `json:"last_epoch"`
	AccumulatorWad string `json:"tick_accumulator_wad"`
	TickLower      int    `json:"tick_lower"`
	TickUpper      int    `json:"tick_upper"`
	CurrentTick    int    `json:"current_tick"`
	TokensSold     string `json:"tokens_sold"`
	Proceeds       string `json:"proceeds"`
	FeesAsset      string `json:"fees_asset"`
	FeesNumeraire  string `json:"fees_numeraire"`
	EarlyExit      bool   `json:"early_exit"`
	Finalized      bool   `json:"finalized"`
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.lookup(r.PathValue("id"))
	if !ok {
		httpError(w, http.StatusNotFound, errors.New("sale not hosted"))
		return
	}

	ls.mu.Lock()
	snap := ls.engine.Snapshot()
	tick := ls.pool.CurrentTick()
	cfg := ls.engine.Config()
	ls.mu.Unlock()

	writeJSON(w, http.StatusOK, saleStateResponse{
		SaleID:         cfg.SaleID,
		LastEpoch:      snap.LastEpoch,
		AccumulatorWad: snap.AccumulatorWad.String(),
		TickLower:      snap.TickLower,
		TickUpper:      snap.TickUpper,
		CurrentTick:    tick,
		TokensSold:     snap.TotalTokensSold.String(),
		Proceeds:       snap.TotalProceeds.String(),
		FeesAsset:      snap.FeesAsset.String(),
		FeesNumeraire:  snap.FeesNumeraire.String(),
		EarlyExit:      snap.EarlyExit,
		Finalized:      snap.Finalized,
	})
}

// tradeRequest is the JSON body for POST /sales/{id}/trades. AtTime zero
// means now.
type tradeRequest struct {
	AtTime int64  `json:"at_time"`
	Side   string `json:"side"` // "BUY" or "SELL"
	Amount string `json:"amount"`
}

type tradeResponse struct {
	Seq       int64  `json:"seq"`
	AmountOut string `json:"amount_out"`
	Tick      int    `json:"tick"`
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	saleID := r.PathValue("id")
	ls, ok := s.lookup(saleID)
	if !ok {
		httpError(w, http.StatusNotFound, errors.New("sale not hosted"))
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	now := req.AtTime
	if now == 0 {
		now = time.Now().Unix()
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	tickBefore := ls.pool.CurrentTick()
	epochBefore := ls.engine.LastEpoch()

	var out *big.Int
	switch strings.ToUpper(req.Side) {
	case "BUY":
		out, err = ls.pool.Buy(now, amount)
	case "SELL":
		out, err = ls.pool.Sell(now, amount)
	default:
		httpError(w, http.StatusBadRequest, fmt.Errorf("side must be BUY or SELL, got %q", req.Side))
		return
	}
	if err != nil {
		observability.RecordTradeRejected("api")
		httpError(w, http.StatusUnprocessableEntity, err)
		return
	}
	observability.RecordTradeExecuted(strings.ToUpper(req.Side))

	if rec := ls.engine.LastRebalance(); rec != nil && ls.engine.LastEpoch() > epochBefore {
		observability.RecordRebalance(rec.Branch, rec.EpochsElapsed, rec.LowerFallback)
		if err := s.stores.rebalances.Insert(r.Context(), rec); err != nil {
			s.logger.Printf("sale %s: persist rebalance epoch %d: %v", saleID, rec.Epoch, err)
		}
		s.hub.BroadcastRebalance(rec)
	}

	ls.seq++
	delta := ls.pool.LastTrade()
	entry := &domain.TradeLogEntry{
		SaleID:         saleID,
		Seq:            ls.seq,
		Timestamp:      now,
		CurrentTick:    tickBefore,
		AssetDelta:     delta.AssetDelta,
		NumeraireDelta: delta.NumeraireDelta,
		FeeAsset:       delta.FeeAsset,
		FeeNumeraire:   delta.FeeNumeraire,
	}
	if err := s.stores.tradeLog.Insert(r.Context(), entry); err != nil {
		s.logger.Printf("sale %s: persist trade %d: %v", saleID, ls.seq, err)
	}
	observability.DefaultMetrics.TradeLogEntries.Inc()

	snap := ls.engine.Snapshot()
	observability.UpdateSaleState(saleID, ls.engine.LastEpoch(),
		snap.AccumulatorWad, snap.TotalTokensSold, snap.TotalProceeds,
		snap.TickLower, snap.TickUpper)
	s.hub.Broadcast(&monitor.Update{
		Type:       "trade",
		SaleID:     saleID,
		Timestamp:  now,
		TokensSold: snap.TotalTokensSold.String(),
		Proceeds:   snap.TotalProceeds.String(),
	})

	writeJSON(w, http.StatusOK, tradeResponse{
		Seq:       ls.seq,
		AmountOut: out.String(),
		Tick:      ls.pool.CurrentTick(),
	})
}

// earlyExitRequest is the JSON body for POST /sales/{id}/early-exit. The
// signature is base58 over the sale's canonical early-exit message.
type earlyExitRequest struct {
	Signature string `json:"signature"`
	PublicKey string `json:"public_key"`
}

func (s *Server) handleEarlyExit(w http.ResponseWriter, r *http.Request) {
	saleID := r.PathValue("id")
	ls, ok := s.lookup(saleID)
	if !ok {
		httpError(w, http.StatusNotFound, errors.New("sale not hosted"))
		return
	}

	var req earlyExitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	sig, err := base58.Decode(req.Signature)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("decode signature: %w", err))
		return
	}

	ls.mu.Lock()
	err = ls.engine.TriggerEarlyExit(ls.engine.EarlyExitMessage(), sig, req.PublicKey)
	ls.mu.Unlock()
	if err != nil {
		httpError(w, http.StatusForbidden, err)
		return
	}

	observability.RecordEarlyExit()
	s.logger.Printf("sale %s: early exit authorized by %s", saleID, req.PublicKey)
	writeJSON(w, http.StatusOK, map[string]bool{"early_exit": true})
}

// finalizeRequest is the JSON body for POST /sales/{id}/finalize. AtTime
// zero means now.
type finalizeRequest struct {
	AtTime int64 `json:"at_time"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	saleID := r.PathValue("id")
	ls, ok := s.lookup(saleID)
	if !ok {
		httpError(w, http.StatusNotFound, errors.New("sale not hosted"))
		return
	}

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	now := req.AtTime
	if now == 0 {
		now = time.Now().Unix()
	}

	ls.mu.Lock()
	rec, err := ls.pool.Finalize(now)
	ls.mu.Unlock()
	if err != nil {
		httpError(w, http.StatusConflict, err)
		return
	}

	observability.RecordFinalization(rec.Reason)
	if err := s.stores.finalizations.Insert(r.Context(), rec); err != nil {
		s.logger.Printf("sale %s: persist finalization: %v", saleID, err)
	}
	s.hub.BroadcastFinalization(rec)

	s.logger.Printf("sale %s: finalized reason=%s proceeds=%s", saleID, rec.Reason, rec.NumeraireBalance)
	writeJSON(w, http.StatusOK, map[string]string{
		"reason":             rec.Reason,
		"clearing_price_wad": rec.ClearingPriceWad.String(),
		"asset_balance":      rec.AssetBalance.String(),
		"numeraire_balance":  rec.NumeraireBalance.String(),
	})
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	HostedSales int    `json:"hosted_sales"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	n := len(s.sales)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:      "running",
		Uptime:      time.Since(s.started).String(),
		HostedSales: n,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
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

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
