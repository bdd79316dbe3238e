package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initWALMetrics initializes agent write-ahead-log metrics.
func (m *Manager) initWALMetrics(cfg Config) {
	m.walDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "depth",
			Help:      "Current number of records held in the agent WAL, by agent",
		},
		[]string{"agent_id"},
	)

	m.walBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "bytes",
			Help:      "Approximate on-disk size of the agent WAL, by agent",
		},
		[]string{"agent_id"},
	)

	m.walPublishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "publish_attempts_total",
			Help:      "Total publish attempts from the WAL drain loop, by outcome",
		},
		[]string{"outcome"},
	)

	m.walPublishLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "publish_latency_seconds",
			Help:      "Latency of a single WAL record publish attempt",
			Buckets:   cfg.PublishLatencyBuckets,
		},
	)

	m.walDeadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "dead_letter_total",
			Help:      "Total records routed to the dead-letter queue, by rejection reason",
		},
		[]string{"reason"},
	)

	m.registry.MustRegister(m.walDepth)
	m.registry.MustRegister(m.walBytes)
	m.registry.MustRegister(m.walPublishAttempts)
	m.registry.MustRegister(m.walPublishLatency)
	m.registry.MustRegister(m.walDeadLetters)
}

// SetWALDepth sets the current record count for an agent's WAL.
func (m *Manager) SetWALDepth(agentID string, depth float64) {
	if !m.enabled {
		return
	}
	m.walDepth.WithLabelValues(agentID).Set(depth)
}

// SetWALBytes sets the approximate on-disk size for an agent's WAL.
func (m *Manager) SetWALBytes(agentID string, bytes float64) {
	if !m.enabled {
		return
	}
	m.walBytes.WithLabelValues(agentID).Set(bytes)
}

// RecordPublishAttempt records the outcome of one WAL drain-loop publish attempt.
func (m *Manager) RecordPublishAttempt(outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.walPublishAttempts.WithLabelValues(outcome).Inc()
	m.walPublishLatency.Observe(duration.Seconds())
}

// RecordDeadLetter records a record routed to the dead-letter queue.
func (m *Manager) RecordDeadLetter(reason string) {
	if !m.enabled {
		return
	}
	m.walDeadLetters.WithLabelValues(reason).Inc()
}
