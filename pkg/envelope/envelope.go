// Package envelope defines the canonical telemetry envelope carried from
// agent to bus to fusion engine, along with its deterministic signing
// serialization.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersionV1 is the initial envelope schema.
const SchemaVersionV1 uint32 = 1

// PayloadKind identifies which concrete payload an envelope carries.
type PayloadKind string

const (
	PayloadFlow     PayloadKind = "flow_event"
	PayloadProcess  PayloadKind = "process_event"
	PayloadSecurity PayloadKind = "security_event"
	PayloadAudit    PayloadKind = "audit_event"
	PayloadMetric   PayloadKind = "metric_event"
)

// knownPayloadKinds is consulted by Validate.
var knownPayloadKinds = map[PayloadKind]bool{
	PayloadFlow:     true,
	PayloadProcess:  true,
	PayloadSecurity: true,
	PayloadAudit:    true,
	PayloadMetric:   true,
}

// Envelope is the canonical telemetry event envelope. Agents construct and
// sign it; the bus verifies and stores it; the fusion engine reads it back.
type Envelope struct {
	Version       uint32            `json:"version"`
	SourceAgentID string            `json:"source_agent_id"`
	EventID       string            `json:"event_id"`
	TimestampNs   int64             `json:"timestamp_ns"`
	Kind          PayloadKind       `json:"kind"`
	Payload       json.RawMessage   `json:"payload"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Signature     []byte            `json:"signature,omitempty"`
}

// BuildInput collects the fields an agent supplies when emitting a new event.
// EventID, Version and TimestampNs are filled in by Build.
type BuildInput struct {
	SourceAgentID string
	Kind          PayloadKind
	Payload       any
	Attributes    map[string]string
}

// Build constructs a new, unsigned Envelope with a generated event ID and the
// current wall-clock timestamp.
func Build(input BuildInput) (Envelope, error) {
	if input.SourceAgentID == "" {
		return Envelope{}, fmt.Errorf("envelope: source agent id is required")
	}
	if !knownPayloadKinds[input.Kind] {
		return Envelope{}, fmt.Errorf("envelope: unknown payload kind %q", input.Kind)
	}

	payload, err := json.Marshal(input.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal payload: %w", err)
	}

	return Envelope{
		Version:       SchemaVersionV1,
		SourceAgentID: input.SourceAgentID,
		EventID:       uuid.NewString(),
		TimestampNs:   time.Now().UTC().UnixNano(),
		Kind:          input.Kind,
		Payload:       payload,
		Attributes:    input.Attributes,
	}, nil
}

// Validate checks the envelope's structural invariants, independent of
// signature verification.
func (e Envelope) Validate() error {
	if e.Version == 0 {
		return fmt.Errorf("envelope: missing version")
	}
	if e.SourceAgentID == "" {
		return fmt.Errorf("envelope: missing source_agent_id")
	}
	if e.EventID == "" {
		return fmt.Errorf("envelope: missing event_id")
	}
	if e.TimestampNs <= 0 {
		return fmt.Errorf("envelope: missing or non-positive timestamp_ns")
	}
	if !knownPayloadKinds[e.Kind] {
		return fmt.Errorf("envelope: unknown payload kind %q", e.Kind)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope: empty payload")
	}
	return nil
}

// DeviceID returns the device identity events should be windowed by: the
// explicit "device_id" attribute when set, else the source agent's ID.
func (e Envelope) DeviceID() string {
	if id, ok := e.Attributes["device_id"]; ok && id != "" {
		return id
	}
	return e.SourceAgentID
}
