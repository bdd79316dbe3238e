package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/pkg/envelope"
	"github.com/amoskys/amoskys/pkg/fusion"
)

func TestPersistenceAfterAuth_LaunchAgentUnderUsers_FiresCritical(t *testing.T) {
	base := time.Now().UTC()
	events := []fusion.TelemetryEventView{
		{
			EventID: "auth-1", DeviceID: "device-1", Type: fusion.EventSecurity, Timestamp: base,
			Security: &envelope.SecurityEvent{AuthType: "SSH", Result: "SUCCESS", TargetUser: "alice"},
		},
		{
			EventID: "audit-1", DeviceID: "device-1", Type: fusion.EventAudit, Timestamp: base.Add(120 * time.Second),
			Audit: &envelope.AuditEvent{
				Action:     "CREATED",
				ObjectType: "LAUNCH_AGENT",
				ObjectPath: "/Users/alice/Library/LaunchAgents/com.x.plist",
			},
		},
	}

	incidents := NewPersistenceAfterAuth().Evaluate(events, "device-1")

	require.Len(t, incidents, 1)
	assert.Equal(t, fusion.IncidentCritical, incidents[0].Severity)
	assert.Equal(t, "/Users/alice/Library/LaunchAgents/com.x.plist", incidents[0].Metadata["object_path"])
	assert.Equal(t, "120", incidents[0].Metadata["delta_seconds"])
}

func TestPersistenceAfterAuth_SystemPath_FiresHigh(t *testing.T) {
	base := time.Now().UTC()
	events := []fusion.TelemetryEventView{
		{
			EventID: "auth-1", DeviceID: "device-1", Type: fusion.EventSecurity, Timestamp: base,
			Security: &envelope.SecurityEvent{AuthType: "SUDO", Result: "SUCCESS", TargetUser: "root"},
		},
		{
			EventID: "audit-1", DeviceID: "device-1", Type: fusion.EventAudit, Timestamp: base.Add(30 * time.Second),
			Audit: &envelope.AuditEvent{Action: "CREATED", ObjectType: "CRON", ObjectPath: "/etc/cron.d/x"},
		},
	}

	incidents := NewPersistenceAfterAuth().Evaluate(events, "device-1")

	require.Len(t, incidents, 1)
	assert.Equal(t, fusion.IncidentHigh, incidents[0].Severity)
}

func TestPersistenceAfterAuth_OutsideWindow_DoesNotFire(t *testing.T) {
	base := time.Now().UTC()
	events := []fusion.TelemetryEventView{
		{
			EventID: "auth-1", DeviceID: "device-1", Type: fusion.EventSecurity, Timestamp: base,
			Security: &envelope.SecurityEvent{AuthType: "SSH", Result: "SUCCESS"},
		},
		{
			EventID: "audit-1", DeviceID: "device-1", Type: fusion.EventAudit, Timestamp: base.Add(11 * time.Minute),
			Audit: &envelope.AuditEvent{Action: "CREATED", ObjectType: "LAUNCH_AGENT", ObjectPath: "/Users/alice/x.plist"},
		},
	}

	incidents := NewPersistenceAfterAuth().Evaluate(events, "device-1")
	assert.Empty(t, incidents)
}
