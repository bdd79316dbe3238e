package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/pkg/envelope"
	"github.com/amoskys/amoskys/pkg/fusion"
)

func TestMultiTacticAttack_ChainWithinWindow_FiresCritical(t *testing.T) {
	base := time.Now().UTC()
	events := []fusion.TelemetryEventView{
		{
			EventID: "p1", DeviceID: "device-1", Type: fusion.EventProcess, Timestamp: base,
			Process: &envelope.ProcessEvent{ExecutablePath: "/tmp/x"},
		},
		{
			EventID: "f1", DeviceID: "device-1", Type: fusion.EventFlow, Timestamp: base.Add(5 * time.Minute),
			Flow: &envelope.FlowEvent{DstIP: "198.51.100.9", DstPort: 4444},
		},
		{
			EventID: "a1", DeviceID: "device-1", Type: fusion.EventAudit, Timestamp: base.Add(10 * time.Minute),
			Audit: &envelope.AuditEvent{Action: "CREATED", ObjectType: "LAUNCH_AGENT", ObjectPath: "/Users/alice/x.plist"},
		},
	}

	incidents := NewMultiTacticAttack().Evaluate(events, "device-1")

	require.Len(t, incidents, 1)
	assert.Equal(t, fusion.IncidentCritical, incidents[0].Severity)
	assert.Equal(t, "198.51.100.9:4444", incidents[0].Metadata["dst"])
	assert.Equal(t, "/tmp/x", incidents[0].Metadata["process_path"])
}

func TestMultiTacticAttack_OutsideWindow_DoesNotFire(t *testing.T) {
	base := time.Now().UTC()
	events := []fusion.TelemetryEventView{
		{
			EventID: "p1", DeviceID: "device-1", Type: fusion.EventProcess, Timestamp: base,
			Process: &envelope.ProcessEvent{ExecutablePath: "/tmp/x"},
		},
		{
			EventID: "f1", DeviceID: "device-1", Type: fusion.EventFlow, Timestamp: base.Add(16 * time.Minute),
			Flow: &envelope.FlowEvent{DstIP: "198.51.100.9", DstPort: 4444},
		},
		{
			EventID: "a1", DeviceID: "device-1", Type: fusion.EventAudit, Timestamp: base.Add(17 * time.Minute),
			Audit: &envelope.AuditEvent{Action: "CREATED", ObjectType: "LAUNCH_AGENT", ObjectPath: "/Users/alice/x.plist"},
		},
	}

	incidents := NewMultiTacticAttack().Evaluate(events, "device-1")
	assert.Empty(t, incidents)
}

func TestMultiTacticAttack_WhitelistedDestination_DoesNotFire(t *testing.T) {
	base := time.Now().UTC()
	events := []fusion.TelemetryEventView{
		{
			EventID: "p1", DeviceID: "device-1", Type: fusion.EventProcess, Timestamp: base,
			Process: &envelope.ProcessEvent{ExecutablePath: "/tmp/x"},
		},
		{
			EventID: "f1", DeviceID: "device-1", Type: fusion.EventFlow, Timestamp: base.Add(time.Minute),
			Flow: &envelope.FlowEvent{DstIP: "10.0.0.5", DstPort: 443},
		},
		{
			EventID: "a1", DeviceID: "device-1", Type: fusion.EventAudit, Timestamp: base.Add(2 * time.Minute),
			Audit: &envelope.AuditEvent{Action: "CREATED", ObjectType: "LAUNCH_AGENT", ObjectPath: "/Users/alice/x.plist"},
		},
	}

	incidents := NewMultiTacticAttack().Evaluate(events, "device-1")
	assert.Empty(t, incidents)
}
