// Package metrics exports Prometheus counters and histograms describing
// turn outcomes, grounded on mercator-hq-jupiter's client_golang usage and
// the teacher's own pkg/proxy/metrics.go Metrics type.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the turn pipeline touches.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	KeepAliveEmitted prometheus.Counter
	UpstreamLatency  prometheus.Histogram
}

// outcome label values, matching the spec §7 taxonomy.
const (
	OutcomeSilence    = "silence"
	OutcomeSuperseded = "superseded"
	OutcomeDedupHit   = "dedup_hit"
	OutcomeNormal     = "normal"
	OutcomeCancelled  = "cancelled"
	OutcomeError      = "error"
)

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_turns_total",
			Help: "Turns processed by outcome.",
		}, []string{"outcome"}),
		KeepAliveEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_keepalive_emitted_total",
			Help: "Keep-alive filler chunks emitted.",
		}),
		UpstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_upstream_first_byte_seconds",
			Help:    "Time to first byte from the upstream gateway.",
			Buckets: []float64{.1, .25, .5, 1, 2, 2.5, 5, 10, 15, 20, 30},
		}),
	}
	reg.MustRegister(m.TurnsTotal, m.KeepAliveEmitted, m.UpstreamLatency)
	return m
}

// Noop returns a Metrics whose instruments are registered only on a fresh
// private registry that is never served, for tests and for
// METRICS_ENABLED=false deployments where /metrics is not mounted.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
