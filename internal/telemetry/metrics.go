// Package telemetry holds the Prometheus metrics the engine exports. All
// recording methods are nil-safe so components can run without a registry
// wired in (tests, simulate runs).
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the registry of engine metrics.
type Metrics struct {
	registry *prometheus.Registry

	Ticks           prometheus.Counter
	Decisions       *prometheus.CounterVec
	Trades          *prometheus.CounterVec
	BookFetch       *prometheus.HistogramVec
	BookAge         *prometheus.GaugeVec
	BalanceRefresh  *prometheus.CounterVec
	CollectorErrors *prometheus.CounterVec
}

// NewMetrics builds and registers all engine collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crypton_ticks_total",
			Help: "Dispatch loop ticks processed",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crypton_decisions_total",
			Help: "Engine decisions by reason code",
		}, []string{"reason"}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crypton_trades_total",
			Help: "Completed trade lifecycles by outcome",
		}, []string{"outcome"}),
		BookFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crypton_book_fetch_seconds",
			Help:    "Order book fetch latency per venue",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"venue"}),
		BookAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crypton_book_age_seconds",
			Help: "Age of the freshest snapshot per venue",
		}, []string{"venue"}),
		BalanceRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crypton_balance_refresh_total",
			Help: "Balance refreshes by venue and source (venue or store)",
		}, []string{"venue", "source"}),
		CollectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crypton_collector_errors_total",
			Help: "Collector fetch or stream failures per venue",
		}, []string{"venue"}),
	}

	m.registry.MustRegister(
		m.Ticks, m.Decisions, m.Trades, m.BookFetch,
		m.BookAge, m.BalanceRefresh, m.CollectorErrors,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordTick counts one dispatch loop pass.
func (m *Metrics) RecordTick() {
	if m != nil {
		m.Ticks.Inc()
	}
}

// RecordDecision counts one engine decision by reason code.
func (m *Metrics) RecordDecision(reason string) {
	if m != nil {
		m.Decisions.WithLabelValues(reason).Inc()
	}
}

// RecordTrade counts one completed trade lifecycle by outcome.
func (m *Metrics) RecordTrade(outcome string) {
	if m != nil {
		m.Trades.WithLabelValues(outcome).Inc()
	}
}

// RecordBookFetch observes one order book fetch.
func (m *Metrics) RecordBookFetch(venue string, d time.Duration) {
	if m != nil {
		m.BookFetch.WithLabelValues(venue).Observe(d.Seconds())
	}
}

// RecordBookAge publishes the age of a venue's freshest snapshot.
func (m *Metrics) RecordBookAge(venue string, age time.Duration) {
	if m != nil {
		m.BookAge.WithLabelValues(venue).Set(age.Seconds())
	}
}

// RecordBalanceRefresh counts one balance refresh from "venue" or "store".
func (m *Metrics) RecordBalanceRefresh(venue, source string) {
	if m != nil {
		m.BalanceRefresh.WithLabelValues(venue, source).Inc()
	}
}

// RecordCollectorError counts one collector failure.
func (m *Metrics) RecordCollectorError(venue string) {
	if m != nil {
		m.CollectorErrors.WithLabelValues(venue).Inc()
	}
}
