// Package instrumentation exposes Prometheus metrics for the tick pipelines.
package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics, labeled by feed.
type Metrics struct {
	TicksProcessed   *prometheus.CounterVec
	MalformedDropped *prometheus.CounterVec
	AlertsOpened     *prometheus.CounterVec
	AlertsClosed     *prometheus.CounterVec
	OpenAlerts       *prometheus.GaugeVec
	OracleFailures   *prometheus.CounterVec
	FeedReconnects   *prometheus.CounterVec
	FeedFreezes      *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all metrics on the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TicksProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stillwatch_ticks_processed_total",
			Help: "Total number of valid ticks folded into the engine",
		}, []string{"feed"}),

		MalformedDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stillwatch_ticks_malformed_total",
			Help: "Total number of malformed ticks dropped before evaluation",
		}, []string{"feed"}),

		AlertsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stillwatch_alerts_opened_total",
			Help: "Total number of inactivity alerts opened",
		}, []string{"feed"}),

		AlertsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stillwatch_alerts_closed_total",
			Help: "Total number of inactivity alerts closed, by reason",
		}, []string{"feed", "reason"}),

		OpenAlerts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stillwatch_alerts_open",
			Help: "Number of currently open inactivity alerts",
		}, []string{"feed"}),

		OracleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stillwatch_session_oracle_failures_total",
			Help: "Total number of market-session oracle failures",
		}, []string{"feed"}),

		FeedReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stillwatch_feed_reconnects_total",
			Help: "Total number of feed reconnect attempts",
		}, []string{"feed"}),

		FeedFreezes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stillwatch_feed_freezes_total",
			Help: "Total number of connection-level freeze detections",
		}, []string{"feed"}),
	}
}
