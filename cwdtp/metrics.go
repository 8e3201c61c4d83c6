package cwdtp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors a Connection/Acceptor pair
// updates inline. A nil *Metrics is valid everywhere in this package: every
// method is a no-op guard, so callers that don't care about metrics can pass
// Options{} without registering anything.
type Metrics struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	handshakeDuration prometheus.Histogram
	heartbeatTimeouts prometheus.Counter
	rejectedHandshakes *prometheus.CounterVec
}

// NewMetrics builds and, if reg is non-nil, registers the CWDTP collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cwdtp_connections_active",
			Help: "CWDTP connections currently in the OPEN or CLOSING state.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cwdtp_connections_total",
			Help: "Total CWDTP connections that completed the opening handshake.",
		}),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cwdtp_handshake_duration_seconds",
			Help:    "Time from the start of the opening handshake to the OPEN transition.",
			Buckets: prometheus.DefBuckets,
		}),
		heartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cwdtp_heartbeat_timeouts_total",
			Help: "Connections terminated for failing a ping/pong heartbeat round.",
		}),
		rejectedHandshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cwdtp_rejected_handshakes_total",
			Help: "Upgrade requests rejected during acceptor screening, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.connectionsActive,
			m.connectionsTotal,
			m.handshakeDuration,
			m.heartbeatTimeouts,
			m.rejectedHandshakes,
		)
	}
	return m
}

func (m *Metrics) incActive() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) decActive() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

func (m *Metrics) incTotal() {
	if m != nil {
		m.connectionsTotal.Inc()
	}
}

func (m *Metrics) observeHandshake(d time.Duration) {
	if m != nil {
		m.handshakeDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) incHeartbeatTimeout() {
	if m != nil {
		m.heartbeatTimeouts.Inc()
	}
}

func (m *Metrics) incRejected(reason string) {
	if m != nil {
		m.rejectedHandshakes.WithLabelValues(reason).Inc()
	}
}
