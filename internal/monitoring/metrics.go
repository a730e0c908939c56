package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trade lifecycle metrics
	tradesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tyield_trades_opened_total",
			Help: "Total number of trades opened",
		},
		[]string{"pair", "side"},
	)

	tradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tyield_trades_closed_total",
			Help: "Total number of trades closed, by terminal state",
		},
		[]string{"pair", "state"},
	)

	tradeNotional = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tyield_trade_notional",
			Help:    "Distribution of opened trade sizes",
			Buckets: prometheus.ExponentialBuckets(1e6, 10, 8),
		},
		[]string{"pair"},
	)

	// Oracle metrics
	consensusPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tyield_consensus_price",
			Help: "Latest consensus price per feed, fixed-point 1e8",
		},
		[]string{"feed_id"},
	)

	oracleRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tyield_oracle_rejections_total",
			Help: "Consensus reads rejected, by reason",
		},
		[]string{"feed_id", "reason"},
	)

	// Safety metrics
	breakerTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tyield_circuit_breaker_tripped",
			Help: "1 while the circuit breaker is tripped, 0 otherwise",
		},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tyield_rate_limit_rejections_total",
			Help: "Operations rejected by the rate limiter, by class",
		},
		[]string{"class"},
	)

	// Governance metrics
	proposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tyield_proposals_total",
			Help: "Multisig proposal lifecycle events",
		},
		[]string{"action", "event"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tyield_errors_total",
			Help: "Total number of operation errors, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(tradesOpened)
	prometheus.MustRegister(tradesClosed)
	prometheus.MustRegister(tradeNotional)
	prometheus.MustRegister(consensusPrice)
	prometheus.MustRegister(oracleRejections)
	prometheus.MustRegister(breakerTripped)
	prometheus.MustRegister(rateLimitRejections)
	prometheus.MustRegister(proposalsTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler serves the Prometheus metrics endpoint.
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint.
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordTradeOpened records an opened trade.
func RecordTradeOpened(pair, side string, size uint64) {
	tradesOpened.WithLabelValues(pair, side).Inc()
	tradeNotional.WithLabelValues(pair).Observe(float64(size))
}

// RecordTradeClosed records a trade reaching a terminal state.
func RecordTradeClosed(pair, state string) {
	tradesClosed.WithLabelValues(pair, state).Inc()
}

// UpdateConsensusPrice updates the latest consensus price gauge.
func UpdateConsensusPrice(feedID string, price uint64) {
	consensusPrice.WithLabelValues(feedID).Set(float64(price))
}

// RecordOracleRejection records a rejected consensus read.
func RecordOracleRejection(feedID, reason string) {
	oracleRejections.WithLabelValues(feedID, reason).Inc()
}

// SetBreakerTripped updates the breaker state gauge.
func SetBreakerTripped(tripped bool) {
	if tripped {
		breakerTripped.Set(1)
	} else {
		breakerTripped.Set(0)
	}
}

// RecordRateLimitRejection records an operation blocked by the rate limiter.
func RecordRateLimitRejection(class string) {
	rateLimitRejections.WithLabelValues(class).Inc()
}

// RecordProposalEvent records a proposal lifecycle event
// (proposed, approved, executed, expired).
func RecordProposalEvent(action, event string) {
	proposalsTotal.WithLabelValues(action, event).Inc()
}

// RecordError records an operation error by kind.
func RecordError(kind string) {
	errorsTotal.WithLabelValues(kind).Inc()
}
