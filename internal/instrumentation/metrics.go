// Package instrumentation holds the Prometheus collectors of tickreplay.
package instrumentation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	TradesProduced  prometheus.Counter
	TradesProcessed prometheus.Counter
	TradesDropped   *prometheus.CounterVec
	PretendTrades   *prometheus.CounterVec
	ChunksCompleted prometheus.Counter
	Reconnects      *prometheus.CounterVec
	TransportStops  *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	SendLatencyMs   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TradesProduced: f.NewCounter(prometheus.CounterOpts{
			Name: "tickreplay_trades_produced_total",
			Help: "Trades appended to the trade log",
		}),
		TradesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "tickreplay_trades_processed_total",
			Help: "Trades that produced a snapshot in a replay session",
		}),
		TradesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickreplay_trades_dropped_total",
			Help: "Trades read but not emitted, by reason",
		}, []string{"reason"}),
		PretendTrades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickreplay_pretend_trades_total",
			Help: "Simulated trades by side",
		}, []string{"side"}),
		ChunksCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "tickreplay_chunks_completed_total",
			Help: "Chunks closed by a trade gap",
		}),
		Reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickreplay_transport_reconnects_total",
			Help: "Trade log reconnect attempts by role",
		}, []string{"role"}),
		TransportStops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tickreplay_transport_stops_total",
			Help: "Producers or consumers that gave up, by role",
		}, []string{"role"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "tickreplay_active_sessions",
			Help: "Replay sessions currently running",
		}),
		SendLatencyMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickreplay_send_latency_ms",
			Help:    "Time to append one trade, including retries, in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000, 5000},
		}),
	}
}

func (m *Metrics) RecordProduced() {
	if m == nil {
		return
	}
	m.TradesProduced.Inc()
}

func (m *Metrics) RecordProcessed() {
	if m == nil {
		return
	}
	m.TradesProcessed.Inc()
}

// RecordDropped counts a trade that was read but not emitted.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.TradesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPretendTrade(side string) {
	if m == nil {
		return
	}
	m.PretendTrades.WithLabelValues(side).Inc()
}

func (m *Metrics) RecordChunk() {
	if m == nil {
		return
	}
	m.ChunksCompleted.Inc()
}

// SessionStarted and SessionEnded move the active sessions gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// Reconnect, Stopped and Sent satisfy tradelog.Observer.
func (m *Metrics) Reconnect(role string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(role).Inc()
}

func (m *Metrics) Stopped(role string) {
	if m == nil {
		return
	}
	m.TransportStops.WithLabelValues(role).Inc()
}

func (m *Metrics) Sent(latency time.Duration) {
	if m == nil {
		return
	}
	m.SendLatencyMs.Observe(float64(latency) / float64(time.Millisecond))
}
