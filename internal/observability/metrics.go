// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Trade metrics
	TradesExecuted  *prometheus.CounterVec
	TradesRejected  *prometheus.CounterVec
	TradeLogEntries prometheus.Counter

	// Rebalance metrics
	RebalancesTotal *prometheus.CounterVec
	EpochsSkipped   prometheus.Counter
	LowerFallbacks  prometheus.Counter

	// Sale state gauges
	CurrentEpoch    *prometheus.GaugeVec
	AccumulatorWad  *prometheus.GaugeVec
	TotalTokensSold *prometheus.GaugeVec
	TotalProceeds   *prometheus.GaugeVec
	CurveTickLower  *prometheus.GaugeVec
	CurveTickUpper  *prometheus.GaugeVec

	// Finalization metrics
	FinalizationsTotal *prometheus.CounterVec
	EarlyExitsTotal    prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Monitor metrics
	MonitorClients  prometheus.Gauge
	MonitorMessages prometheus.Counter

	// Verification metrics
	ReplaysTotal      *prometheus.CounterVec
	ReplayDivergences prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_sale_lab"
	}

	return &Metrics{
		// Trade metrics
		TradesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "executed_total",
			Help:      "Total number of trades executed by side",
		}, []string{"side"}),
		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "rejected_total",
			Help:      "Total number of trades rejected by reason",
		}, []string{"reason"}),
		TradeLogEntries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "log_entries_total",
			Help:      "Total number of trade log entries persisted",
		}),

		// Rebalance metrics
		RebalancesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "applied_total",
			Help:      "Total number of applied rebalances by branch",
		}, []string{"branch"}),
		EpochsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "epochs_skipped_total",
			Help:      "Total number of tradeless epochs folded into a later rebalance",
		}),
		LowerFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "lower_fallbacks_total",
			Help:      "Total number of rebalances that placed the minimal lower slug",
		}),

		// Sale state gauges
		CurrentEpoch: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "current_epoch",
			Help:      "Epoch of the most recent rebalance",
		}, []string{"sale_id"}),
		AccumulatorWad: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "tick_accumulator",
			Help:      "Cumulative curve shift in ticks (1e18 scale collapsed to float)",
		}, []string{"sale_id"}),
		TotalTokensSold: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "tokens_sold",
			Help:      "Cumulative asset sold off the curve",
		}, []string{"sale_id"}),
		TotalProceeds: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "proceeds",
			Help:      "Cumulative numeraire collected, net of fees",
		}, []string{"sale_id"}),
		CurveTickLower: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "curve_tick_lower",
			Help:      "Lower curve bound in curve coordinates",
		}, []string{"sale_id"}),
		CurveTickUpper: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "curve_tick_upper",
			Help:      "Upper curve bound in curve coordinates",
		}, []string{"sale_id"}),

		// Finalization metrics
		FinalizationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "finalizations_total",
			Help:      "Total number of finalized sales by reason",
		}, []string{"reason"}),
		EarlyExitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "early_exits_total",
			Help:      "Total number of authorized early exits",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Monitor metrics
		MonitorClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "clients",
			Help:      "Number of connected monitor websocket clients",
		}),
		MonitorMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "messages_total",
			Help:      "Total number of monitor messages broadcast",
		}),

		// Verification metrics
		ReplaysTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "replays_total",
			Help:      "Total number of replay verifications by status",
		}, []string{"status"}),
		ReplayDivergences: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "divergences_total",
			Help:      "Total number of diverging fields found by replay verification",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTradeExecuted increments the executed trade counter for a side.
func RecordTradeExecuted(side string) {
	DefaultMetrics.TradesExecuted.WithLabelValues(side).Inc()
}

// RecordTradeRejected increments the rejected trade counter for a reason.
func RecordTradeRejected(reason string) {
	DefaultMetrics.TradesRejected.WithLabelValues(reason).Inc()
}

// RecordRebalance records one applied rebalance and any tradeless epochs it
// folded in.
func RecordRebalance(branch string, epochsElapsed int64, lowerFallback bool) {
	DefaultMetrics.RebalancesTotal.WithLabelValues(branch).Inc()
	if epochsElapsed > 1 {
		DefaultMetrics.EpochsSkipped.Add(float64(epochsElapsed - 1))
	}
	if lowerFallback {
		DefaultMetrics.LowerFallbacks.Inc()
	}
}

// UpdateSaleState updates the per-sale state gauges. Amounts collapse to
// float64 for export; the stores keep the exact integers.
func UpdateSaleState(saleID string, epoch int64, accWad, sold, proceeds *big.Int, tickLower, tickUpper int) {
	DefaultMetrics.CurrentEpoch.WithLabelValues(saleID).Set(float64(epoch))
	DefaultMetrics.AccumulatorWad.WithLabelValues(saleID).Set(bigToFloat(accWad))
	DefaultMetrics.TotalTokensSold.WithLabelValues(saleID).Set(bigToFloat(sold))
	DefaultMetrics.TotalProceeds.WithLabelValues(saleID).Set(bigToFloat(proceeds))
	DefaultMetrics.CurveTickLower.WithLabelValues(saleID).Set(float64(tickLower))
	DefaultMetrics.CurveTickUpper.WithLabelValues(saleID).Set(float64(tickUpper))
}

// RecordFinalization records a finalized sale.
func RecordFinalization(reason string) {
	DefaultMetrics.FinalizationsTotal.WithLabelValues(reason).Inc()
}

// RecordEarlyExit records an authorized early exit.
func RecordEarlyExit() {
	DefaultMetrics.EarlyExitsTotal.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordReplay records a replay verification outcome.
func RecordReplay(ok bool, divergences int) {
	status := "match"
	if !ok {
		status = "diverged"
	}
	DefaultMetrics.ReplaysTotal.WithLabelValues(status).Inc()
	if divergences > 0 {
		DefaultMetrics.ReplayDivergences.Add(float64(divergences))
	}
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
