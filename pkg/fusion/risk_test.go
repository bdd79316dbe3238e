package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/amoskys/amoskys/pkg/envelope"
)

func TestRiskState_BaseContributionOnly(t *testing.T) {
	s := NewRiskState("device-1")
	now := time.Now().UTC()

	s.Recompute(nil, nil, now)

	assert.Equal(t, 10.0, s.Score)
	assert.Equal(t, RiskLow, s.Level)
	assert.Equal(t, []string{"base"}, s.ReasonTags)
}

func TestRiskState_CriticalIncidentAloneReachesMedium(t *testing.T) {
	s := NewRiskState("device-1")
	now := time.Now().UTC()

	incidents := []Incident{
		{RuleName: "persistence_after_auth", Severity: IncidentCritical, EventIDs: []string{"e1", "e2"}},
	}
	s.Recompute(nil, incidents, now)

	assert.Equal(t, 60.0, s.Score) // base 10 + critical 50
	assert.Equal(t, RiskMedium, s.Level)
}

// TestRiskState_Scenario2_PersistenceAfterAuthReachesCritical reproduces
// spec.md section 8 seed scenario 2 verbatim: an SSH success for alice
// followed within 120s by a LaunchAgent created under her home directory.
// persistence_after_auth fires CRITICAL on the launch-agent path prefix
// match, and that, combined with the window's own new-launch-agent
// contribution, must push the device's risk level to CRITICAL.
func TestRiskState_Scenario2_PersistenceAfterAuthReachesCritical(t *testing.T) {
	s := NewRiskState("device-1")
	base := time.Now().UTC()

	events := []TelemetryEventView{
		{
			EventID: "auth-1", DeviceID: "d1", Type: EventSecurity, Timestamp: base,
			Security: &envelope.SecurityEvent{AuthType: "SSH", Result: "SUCCESS", TargetUser: "alice"},
		},
		{
			EventID: "audit-1", DeviceID: "d1", Type: EventAudit, Timestamp: base.Add(120 * time.Second),
			Audit: &envelope.AuditEvent{
				Action:     "CREATED",
				ObjectType: "LAUNCH_AGENT",
				ObjectPath: "/Users/alice/Library/LaunchAgents/com.x.plist",
			},
		},
	}
	incidents := []Incident{
		{
			IncidentID: "incident-1",
			DeviceID:   "d1",
			RuleName:   "persistence_after_auth",
			Severity:   IncidentCritical,
			EventIDs:   []string{"auth-1", "audit-1"},
		},
	}

	s.Recompute(events, incidents, base.Add(120*time.Second))

	assert.Equal(t, RiskCritical, s.Level)
}

func TestRiskState_ScoreClampedTo100(t *testing.T) {
	s := NewRiskState("device-1")
	now := time.Now().UTC()

	events := []TelemetryEventView{
		{EventID: "f1", Type: EventSecurity, Timestamp: now, Security: &envelope.SecurityEvent{AuthType: "SSH", Result: "FAILURE"}},
		{EventID: "f2", Type: EventSecurity, Timestamp: now, Security: &envelope.SecurityEvent{AuthType: "SSH", Result: "FAILURE"}},
		{EventID: "f3", Type: EventSecurity, Timestamp: now, Security: &envelope.SecurityEvent{AuthType: "SSH", Result: "FAILURE"}},
		{EventID: "f4", Type: EventSecurity, Timestamp: now, Security: &envelope.SecurityEvent{AuthType: "SSH", Result: "FAILURE"}},
	}
	incidents := []Incident{
		{RuleName: "suspicious_sudo", Severity: IncidentCritical, EventIDs: []string{"s1"}},
		{RuleName: "persistence_after_auth", Severity: IncidentCritical, EventIDs: []string{"p1"}},
	}

	s.Recompute(events, incidents, now)

	assert.Equal(t, 100.0, s.Score)
	assert.Equal(t, RiskCritical, s.Level)
}

func TestRiskState_IdleDecayReducesScoreOverTime(t *testing.T) {
	s := NewRiskState("device-1")
	now := time.Now().UTC()

	incidents := []Incident{{RuleName: "suspicious_sudo", Severity: IncidentHigh, EventIDs: []string{"e1"}}}
	s.Recompute(nil, incidents, now)
	firstScore := s.Score

	s.Recompute(nil, nil, now.Add(20*time.Minute))

	assert.Less(t, s.Score, firstScore)
}

func TestRiskState_NewSourceIPContributesOnce(t *testing.T) {
	s := NewRiskState("device-1")
	now := time.Now().UTC()

	events := []TelemetryEventView{
		{EventID: "e1", Type: EventSecurity, Timestamp: now, Security: &envelope.SecurityEvent{AuthType: "SSH", Result: "SUCCESS", SourceIP: "203.0.113.5"}},
	}

	s.Recompute(events, nil, now)
	assert.Equal(t, 25.0, s.Score) // base 10 + new-source-ip 15

	// Re-evaluating the same still-in-window event from the same source IP
	// must not re-award the one-time new-source-ip contribution.
	s.Recompute(events, nil, now.Add(time.Second))
	assert.Equal(t, 10.0, s.Score) // base only; 203.0.113.5 is now known
}
