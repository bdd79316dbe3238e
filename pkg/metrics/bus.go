package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initBusMetrics initializes EventBus ingestion metrics.
func (m *Manager) initBusMetrics(cfg Config) {
	m.busReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "received_total",
			Help:      "Total number of envelopes received by the bus, by pipeline outcome status",
		},
		[]string{"status"},
	)

	m.busInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "inflight",
			Help:      "Current number of envelopes admitted but not yet durably stored",
		},
	)

	m.busSignatureFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "signature_failures_total",
			Help:      "Total number of envelopes rejected for signature verification failure, by agent",
		},
		[]string{"agent_id"},
	)

	m.busOverloadRejects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "overload_rejections_total",
			Help:      "Total number of envelopes rejected because the bus was shedding load",
		},
	)

	m.busStoreLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "store_latency_seconds",
			Help:      "Latency of the durable event-store insert step of the publish pipeline",
			Buckets:   cfg.StoreLatencyBuckets,
		},
	)

	m.busDedupHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dedup_hits_total",
			Help:      "Total number of envelopes recognized as duplicates of an in-flight or already-stored event",
		},
	)

	m.registry.MustRegister(m.busReceived)
	m.registry.MustRegister(m.busInFlight)
	m.registry.MustRegister(m.busSignatureFailures)
	m.registry.MustRegister(m.busOverloadRejects)
	m.registry.MustRegister(m.busStoreLatency)
	m.registry.MustRegister(m.busDedupHits)
}

// RecordBusReceived records the terminal outcome of one Publish pipeline run.
func (m *Manager) RecordBusReceived(status string) {
	if !m.enabled {
		return
	}
	m.busReceived.WithLabelValues(status).Inc()
}

// IncBusInFlight increments the count of envelopes admitted but not yet stored.
func (m *Manager) IncBusInFlight() {
	if !m.enabled {
		return
	}
	m.busInFlight.Inc()
}

// DecBusInFlight decrements the in-flight envelope count.
func (m *Manager) DecBusInFlight() {
	if !m.enabled {
		return
	}
	m.busInFlight.Dec()
}

// RecordSignatureFailure records a signature verification rejection for agentID.
func (m *Manager) RecordSignatureFailure(agentID string) {
	if !m.enabled {
		return
	}
	m.busSignatureFailures.WithLabelValues(agentID).Inc()
}

// RecordOverloadRejection records an envelope shed due to bus overload.
func (m *Manager) RecordOverloadRejection() {
	if !m.enabled {
		return
	}
	m.busOverloadRejects.Inc()
}

// RecordStoreLatency records how long the event-store insert step took.
func (m *Manager) RecordStoreLatency(d time.Duration) {
	if !m.enabled {
		return
	}
	m.busStoreLatency.Observe(d.Seconds())
}

// RecordDedupHit records a duplicate-envelope detection.
func (m *Manager) RecordDedupHit() {
	if !m.enabled {
		return
	}
	m.busDedupHits.Inc()
}
