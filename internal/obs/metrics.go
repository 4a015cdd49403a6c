package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session close outcomes used as the "outcome" label.
const (
	OutcomeNormal  = "normal"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

var (
	ConnectionsAccepted   = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_connections_accepted_total", Help: "TCP connections accepted"})
	SessionsWaiting       = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_sessions_waiting", Help: "Connections waiting for their partner"})
	SessionsPaired        = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_sessions_paired_total", Help: "Sessions paired and relayed"})
	PairTimeouts          = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_pair_timeouts_total", Help: "Waiting connections whose partner never arrived"})
	SessionsClosed        = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_sessions_closed_total", Help: "Relayed sessions by outcome"}, []string{"outcome"})
	BytesForwarded        = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_bytes_forwarded_total", Help: "Payload bytes forwarded between peers"})
	ErrorsTotal           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_errors_total", Help: "Errors by type"}, []string{"type"})
	SessionDuration       = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_session_duration_seconds", Help: "Relayed session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
