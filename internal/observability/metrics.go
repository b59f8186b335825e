package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	managerOpenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowsock",
		Subsystem: "manager",
		Name:      "open_total",
		Help:      "Times the connection manager's engine transport reported open.",
	})
	managerCloseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowsock",
			Subsystem: "manager",
			Name:      "close_total",
			Help:      "Times the connection manager's engine transport closed, by reason.",
		},
		[]string{"reason"},
	)
	managerReconnectAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowsock",
		Subsystem: "manager",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnect attempts made by the backoff-driven reconnect loop.",
	})
	managerReconnectFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowsock",
		Subsystem: "manager",
		Name:      "reconnect_failed_total",
		Help:      "Times the reconnect loop exhausted its attempt cap and gave up.",
	})
	socketAckLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowsock",
		Subsystem: "socket",
		Name:      "ack_latency_seconds",
		Help:      "Time between an acked emit and its ACK packet arriving.",
		Buckets:   prometheus.DefBuckets,
	})
)

// RegisterMetrics registers every collector with the default Prometheus
// registry. Safe to call more than once; only the first call takes
// effect.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			managerOpenTotal,
			managerCloseTotal,
			managerReconnectAttemptsTotal,
			managerReconnectFailedTotal,
			socketAckLatencySeconds,
		)
	})
}

// RecordManagerOpen increments the manager-open counter.
func RecordManagerOpen() {
	RegisterMetrics()
	managerOpenTotal.Inc()
}

// RecordManagerClose increments the manager-close counter for reason.
func RecordManagerClose(reason string) {
	RegisterMetrics()
	if reason == "" {
		reason = "unknown"
	}
	managerCloseTotal.WithLabelValues(reason).Inc()
}

// RecordManagerReconnectAttempt increments the reconnect-attempt counter.
func RecordManagerReconnectAttempt() {
	RegisterMetrics()
	managerReconnectAttemptsTotal.Inc()
}

// RecordManagerReconnectFailed increments the reconnect-failed counter.
func RecordManagerReconnectFailed() {
	RegisterMetrics()
	managerReconnectFailedTotal.Inc()
}

// RecordAckLatency observes the seconds elapsed between an acked emit
// and its ACK packet, in the socket ack-latency histogram.
func RecordAckLatency(seconds float64) {
	RegisterMetrics()
	socketAckLatencySeconds.Observe(seconds)
}
