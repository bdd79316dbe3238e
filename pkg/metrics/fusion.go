package metrics

import "github.com/prometheus/client_golang/prometheus"

// initFusionMetrics initializes correlation-engine metrics.
func (m *Manager) initFusionMetrics(cfg Config) {
	m.fusionEventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "events_ingested_total",
			Help:      "Total events appended to a device's correlation window, by event type",
		},
		[]string{"event_type"},
	)

	m.fusionRuleEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "rule_evaluations_total",
			Help:      "Total rule evaluation passes, by rule",
		},
		[]string{"rule"},
	)

	m.fusionRuleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "rule_errors_total",
			Help:      "Total rule evaluation panics/errors recovered by the engine, by rule",
		},
		[]string{"rule"},
	)

	m.fusionIncidentsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "incidents_emitted_total",
			Help:      "Total incidents emitted, by rule and severity",
		},
		[]string{"rule", "severity"},
	)

	m.fusionWindowSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "window_size_events",
			Help:      "Current number of events held in a device's correlation window",
		},
		[]string{"device_id"},
	)

	m.fusionWindowOverflow = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "window_overflow_total",
			Help:      "Total events evicted from a device's correlation window for exceeding its capacity",
		},
		[]string{"device_id"},
	)

	m.registry.MustRegister(m.fusionEventsIngested)
	m.registry.MustRegister(m.fusionRuleEvaluations)
	m.registry.MustRegister(m.fusionRuleErrors)
	m.registry.MustRegister(m.fusionIncidentsEmitted)
	m.registry.MustRegister(m.fusionWindowSize)
	m.registry.MustRegister(m.fusionWindowOverflow)
}

// RecordWindowOverflow records an event evicted from a device's window for
// exceeding its configured capacity.
func (m *Manager) RecordWindowOverflow(deviceID string) {
	if !m.enabled {
		return
	}
	m.fusionWindowOverflow.WithLabelValues(deviceID).Inc()
}

// RecordEventIngested records one event appended to a correlation window.
func (m *Manager) RecordEventIngested(eventType string) {
	if !m.enabled {
		return
	}
	m.fusionEventsIngested.WithLabelValues(eventType).Inc()
}

// RecordRuleEvaluation records one rule evaluation pass.
func (m *Manager) RecordRuleEvaluation(rule string) {
	if !m.enabled {
		return
	}
	m.fusionRuleEvaluations.WithLabelValues(rule).Inc()
}

// RecordRuleError records a recovered rule evaluation panic or error.
func (m *Manager) RecordRuleError(rule string) {
	if !m.enabled {
		return
	}
	m.fusionRuleErrors.WithLabelValues(rule).Inc()
}

// RecordIncidentEmitted records one emitted incident.
func (m *Manager) RecordIncidentEmitted(rule, severity string) {
	if !m.enabled {
		return
	}
	m.fusionIncidentsEmitted.WithLabelValues(rule, severity).Inc()
}

// SetWindowSize sets the current correlation-window depth for a device.
func (m *Manager) SetWindowSize(deviceID string, size float64) {
	if !m.enabled {
		return
	}
	m.fusionWindowSize.WithLabelValues(deviceID).Set(size)
}
