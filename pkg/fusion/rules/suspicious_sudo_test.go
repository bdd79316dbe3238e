package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/pkg/envelope"
	"github.com/amoskys/amoskys/pkg/fusion"
)

func TestSuspiciousSudo_DestructiveCommand_FiresCritical(t *testing.T) {
	events := []fusion.TelemetryEventView{
		{
			EventID: "e1", DeviceID: "device-1", Type: fusion.EventSecurity, Timestamp: time.Now().UTC(),
			Security: &envelope.SecurityEvent{AuthType: "SUDO", SudoCommand: "rm -rf /"},
		},
	}

	incidents := NewSuspiciousSudo().Evaluate(events, "device-1")

	require.Len(t, incidents, 1)
	assert.Equal(t, fusion.IncidentCritical, incidents[0].Severity)
	assert.Equal(t, "Privilege Escalation", incidents[0].Tactics[0])
	assert.Equal(t, "T1548.003", incidents[0].Techniques[0])
}

func TestSuspiciousSudo_LaunchAgentWrite_FiresHigh(t *testing.T) {
	events := []fusion.TelemetryEventView{
		{
			EventID: "e1", DeviceID: "device-1", Type: fusion.EventSecurity, Timestamp: time.Now().UTC(),
			Security: &envelope.SecurityEvent{AuthType: "SUDO", SudoCommand: "cp payload /Library/LaunchAgents/x.plist"},
		},
	}

	incidents := NewSuspiciousSudo().Evaluate(events, "device-1")

	require.Len(t, incidents, 1)
	assert.Equal(t, fusion.IncidentHigh, incidents[0].Severity)
}

func TestSuspiciousSudo_BenignCommand_DoesNotFire(t *testing.T) {
	events := []fusion.TelemetryEventView{
		{
			EventID: "e1", DeviceID: "device-1", Type: fusion.EventSecurity, Timestamp: time.Now().UTC(),
			Security: &envelope.SecurityEvent{AuthType: "SUDO", SudoCommand: "apt-get update"},
		},
	}

	incidents := NewSuspiciousSudo().Evaluate(events, "device-1")
	assert.Empty(t, incidents)
}
