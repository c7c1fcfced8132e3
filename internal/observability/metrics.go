// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Routing metrics
	QuoteCandidates *prometheus.CounterVec
	QuoteLatency    *prometheus.HistogramVec
	SwapBuilds      *prometheus.CounterVec

	// Submission metrics
	SubmissionAttempts *prometheus.CounterVec
	Confirmations      *prometheus.CounterVec
	ConfirmLatency     prometheus.Histogram

	// Price feed metrics
	PriceTicks       *prometheus.CounterVec
	StreamReconnects prometheus.Counter
	PricePollErrors  *prometheus.CounterVec

	// Position metrics
	Trades              *prometheus.CounterVec
	Exits               *prometheus.CounterVec
	PositionState       prometheus.Gauge
	LiquidationAttempts prometheus.Counter
	Liquidations        *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulTrade prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "solana_swap_trader"
	}

	return &Metrics{
		// Routing metrics
		QuoteCandidates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "quote_candidates_total",
			Help:      "Quote candidates by side and outcome (accepted or reject reason)",
		}, []string{"side", "outcome"}),
		QuoteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "quote_latency_seconds",
			Help:      "Aggregator quote request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 6},
		}, []string{"pass"}),
		SwapBuilds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "builds_total",
			Help:      "Swap transaction builds by outcome",
		}, []string{"outcome"}),

		// Submission metrics
		SubmissionAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "attempts_total",
			Help:      "Transaction submission attempts by endpoint, preflight mode and outcome",
		}, []string{"endpoint", "mode", "outcome"}),
		Confirmations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "confirmations_total",
			Help:      "Confirmation polls by final outcome (landed, failed, timeout)",
		}, []string{"outcome"}),
		ConfirmLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "confirm_latency_seconds",
			Help:      "Time from submission to a settled signature status",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 90},
		}),

		// Price feed metrics
		PriceTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "ticks_total",
			Help:      "Price candidates by source and debounce outcome",
		}, []string{"source", "outcome"}),
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "stream_subscriptions_total",
			Help:      "Vault stream subscriptions opened",
		}),
		PricePollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricefeed",
			Name:      "poll_errors_total",
			Help:      "HTTP price poll failures by endpoint and kind",
		}, []string{"endpoint", "kind"}),

		// Position metrics
		Trades: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "trades_total",
			Help:      "Trade runs by result (skipped, bought, failed)",
		}, []string{"result"}),
		Exits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "exits_total",
			Help:      "Position exits by cause",
		}, []string{"cause"}),
		PositionState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "state",
			Help:      "Current position state (0=new .. 4=closed)",
		}),
		LiquidationAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidator",
			Name:      "attempts_total",
			Help:      "Forced liquidation attempts",
		}),
		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidator",
			Name:      "runs_total",
			Help:      "Forced liquidation runs by result",
		}, []string{"result"}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Solana RPC call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulTrade: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_trade_timestamp",
			Help:      "Unix timestamp of the last closed position",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordQuoteCandidate records the outcome of one quote candidate.
func RecordQuoteCandidate(side, outcome string) {
	DefaultMetrics.QuoteCandidates.WithLabelValues(side, outcome).Inc()
}

// RecordQuoteLatency records quote latency for a pass (direct, fallback).
func RecordQuoteLatency(pass string, seconds float64) {
	DefaultMetrics.QuoteLatency.WithLabelValues(pass).Observe(seconds)
}

// RecordSwapBuild records a swap-build outcome.
func RecordSwapBuild(outcome string) {
	DefaultMetrics.SwapBuilds.WithLabelValues(outcome).Inc()
}

// RecordSubmission records one submission attempt.
func RecordSubmission(endpoint, mode, outcome string) {
	DefaultMetrics.SubmissionAttempts.WithLabelValues(endpoint, mode, outcome).Inc()
}

// RecordConfirmation records the final outcome of a confirmation poll.
func RecordConfirmation(outcome string, seconds float64) {
	DefaultMetrics.Confirmations.WithLabelValues(outcome).Inc()
	DefaultMetrics.ConfirmLatency.Observe(seconds)
}

// RecordPriceTick records a debounce decision.
func RecordPriceTick(source string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	DefaultMetrics.PriceTicks.WithLabelValues(source, outcome).Inc()
}

// RecordStreamSubscription counts a vault subscription.
func RecordStreamSubscription() {
	DefaultMetrics.StreamReconnects.Inc()
}

// RecordPricePollError records a poll failure.
func RecordPricePollError(endpoint, kind string) {
	DefaultMetrics.PricePollErrors.WithLabelValues(endpoint, kind).Inc()
}

// RecordTrade records the result of a trade run.
func RecordTrade(result string) {
	DefaultMetrics.Trades.WithLabelValues(result).Inc()
}

// RecordExit records a position exit.
func RecordExit(cause string) {
	DefaultMetrics.Exits.WithLabelValues(cause).Inc()
}

// SetPositionState updates the position state gauge.
func SetPositionState(state int) {
	DefaultMetrics.PositionState.Set(float64(state))
}

// RecordLiquidationAttempt counts one liquidation iteration.
func RecordLiquidationAttempt() {
	DefaultMetrics.LiquidationAttempts.Inc()
}

// RecordLiquidation records the result of a liquidation run.
func RecordLiquidation(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	DefaultMetrics.Liquidations.WithLabelValues(result).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkTradeClosed sets the last successful trade gauge to now (unix seconds).
func MarkTradeClosed(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulTrade.Set(float64(unixSeconds))
}
