// Package metrics exports the runtime telemetry spec.md §4.7 calls for:
// P2P RTT distribution, the socketFallback counter, desync counter, and
// rollback-depth gauge. Grounded on luxfi-consensus's metrics.Metrics
// (Registerer wrapper, Register(collector)) — that repo registers
// consensus-round collectors the same way this registers sync-core ones.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector a running session reports against.
type Metrics struct {
	Registry prometheus.Registerer

	P2PRoundTrip     prometheus.Histogram
	SocketFallback   prometheus.Counter
	Desync           prometheus.Counter
	RollbackDepth    prometheus.Gauge
	SessionsActive   prometheus.Gauge
	SessionsEnded    *prometheus.CounterVec
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registry: reg,
		P2PRoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "syncd",
			Subsystem: "p2p",
			Name:      "round_trip_seconds",
			Help:      "P2P data-channel round-trip time, sampled from ping/pong.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		SocketFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Subsystem: "p2p",
			Name:      "socket_fallback_total",
			Help:      "Times a send fell back to the signaling relay because the P2P data channel was unavailable.",
		}),
		Desync: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syncd",
			Subsystem: "hasher",
			Name:      "desync_total",
			Help:      "Frame digest mismatches detected against a peer's reported hash.",
		}),
		RollbackDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncd",
			Subsystem: "rollback",
			Name:      "depth_frames",
			Help:      "Frames re-simulated by the most recent rollback.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "syncd",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently not in ENDED state.",
		}),
		SessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syncd",
			Subsystem: "session",
			Name:      "ended_total",
			Help:      "Sessions that reached ENDED, labeled by ended reason.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{
		m.P2PRoundTrip, m.SocketFallback, m.Desync, m.RollbackDepth, m.SessionsActive, m.SessionsEnded,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	return m
}
