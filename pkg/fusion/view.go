// Package fusion consumes verified telemetry envelopes, maintains a bounded
// per-device sliding window, evaluates correlation rules against it, and
// emits incidents and device risk snapshots.
package fusion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/amoskys/amoskys/pkg/envelope"
)

// EventType classifies a TelemetryEventView for rule matching and metrics.
type EventType string

const (
	EventSecurity EventType = "SECURITY"
	EventAudit    EventType = "AUDIT"
	EventProcess  EventType = "PROCESS"
	EventFlow     EventType = "FLOW"
	EventMetric   EventType = "METRIC"
)

// Severity is the normalized severity of a TelemetryEventView, independent
// of any incident severity a rule later assigns.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// TelemetryEventView is the normalized, in-memory projection of an envelope
// that correlation rules operate on.
type TelemetryEventView struct {
	EventID    string
	DeviceID   string
	Type       EventType
	Severity   Severity
	Timestamp  time.Time
	Attributes map[string]string

	Security *envelope.SecurityEvent
	Audit    *envelope.AuditEvent
	Process  *envelope.ProcessEvent
	Flow     *envelope.FlowEvent
	Metric   *envelope.MetricEvent

	// ClockSkewFlagged is set when the envelope's timestamp was more than
	// five minutes ahead of ingest time; flagged events are still ingested
	// and evaluated identically to unflagged ones.
	ClockSkewFlagged bool
}

var payloadToEventType = map[envelope.PayloadKind]EventType{
	envelope.PayloadSecurity: EventSecurity,
	envelope.PayloadAudit:    EventAudit,
	envelope.PayloadProcess:  EventProcess,
	envelope.PayloadFlow:     EventFlow,
	envelope.PayloadMetric:   EventMetric,
}

// ClockSkewTolerance is the maximum amount an envelope's timestamp may lead
// ingest time before it is flagged.
const ClockSkewTolerance = 5 * time.Minute

// FromEnvelope projects an envelope into its TelemetryEventView, unmarshaling
// the typed payload body for the envelope's kind.
func FromEnvelope(env envelope.Envelope, ingestedAt time.Time) (TelemetryEventView, error) {
	eventType, ok := payloadToEventType[env.Kind]
	if !ok {
		return TelemetryEventView{}, fmt.Errorf("fusion: unknown payload kind %q", env.Kind)
	}

	view := TelemetryEventView{
		EventID:    env.EventID,
		DeviceID:   env.DeviceID(),
		Type:       eventType,
		Severity:   SeverityInfo,
		Timestamp:  time.Unix(0, env.TimestampNs).UTC(),
		Attributes: env.Attributes,
	}
	if view.Timestamp.Sub(ingestedAt) > ClockSkewTolerance {
		view.ClockSkewFlagged = true
	}

	switch eventType {
	case EventSecurity:
		var body envelope.SecurityEvent
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return TelemetryEventView{}, fmt.Errorf("fusion: unmarshal security payload: %w", err)
		}
		view.Security = &body
		if body.Result == "FAILURE" {
			view.Severity = SeverityWarn
		}
	case EventAudit:
		var body envelope.AuditEvent
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return TelemetryEventView{}, fmt.Errorf("fusion: unmarshal audit payload: %w", err)
		}
		view.Audit = &body
	case EventProcess:
		var body envelope.ProcessEvent
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return TelemetryEventView{}, fmt.Errorf("fusion: unmarshal process payload: %w", err)
		}
		view.Process = &body
	case EventFlow:
		var body envelope.FlowEvent
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return TelemetryEventView{}, fmt.Errorf("fusion: unmarshal flow payload: %w", err)
		}
		view.Flow = &body
	case EventMetric:
		var body envelope.MetricEvent
		if err := json.Unmarshal(env.Payload, &body); err != nil {
			return TelemetryEventView{}, fmt.Errorf("fusion: unmarshal metric payload: %w", err)
		}
		view.Metric = &body
	}

	return view, nil
}
