// Package metrics exposes Prometheus collectors for the admission
// middleware. The core bucket package deliberately carries no
// telemetry; everything observable lives here, in the embedding layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	decisions   *prometheus.CounterVec
	waitSeconds prometheus.Histogram
	trackedIDs  prometheus.Gauge
	sweptTotal  prometheus.Counter
}

// New registers the collectors with reg. Pass a fresh
// prometheus.NewRegistry in tests to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usagebucket_admission_decisions_total",
				Help: "Admission decisions by outcome (allowed or limited)",
			},
			[]string{"outcome"},
		),
		waitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "usagebucket_limited_wait_seconds",
				Help:    "Remaining wait durations returned for limited requests",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
			},
		),
		trackedIDs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "usagebucket_tracked_identifiers",
				Help: "Number of identifiers currently held in the usage table",
			},
		),
		sweptTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "usagebucket_swept_entries_total",
				Help: "Usage entries removed by periodic sweeps",
			},
		),
	}
}

// RecordDecision records one admission decision.
func (m *Metrics) RecordDecision(allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "limited"
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

// ObserveWait records the remaining wait returned for a limited request.
func (m *Metrics) ObserveWait(wait time.Duration) {
	m.waitSeconds.Observe(wait.Seconds())
}

// SetTracked updates the tracked-identifier gauge.
func (m *Metrics) SetTracked(n int) {
	m.trackedIDs.Set(float64(n))
}

// AddSwept accumulates entries removed by a sweep.
func (m *Metrics) AddSwept(n int) {
	m.sweptTotal.Add(float64(n))
}
