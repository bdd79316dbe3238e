package fusion

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RiskLevel buckets a RiskState's score into the levels an operator reads.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

const idleDecayStep = 10 * time.Minute

// RiskState is a device's running risk snapshot, recomputed on every
// evaluation tick from the device's current window plus the incidents that
// tick emitted. It carries cross-tick memory (seen source IPs, key files,
// and launch agents) so repeat observations don't re-trigger the same
// one-time contribution.
type RiskState struct {
	DeviceID         string
	Score            float64
	Level            RiskLevel
	ReasonTags       []string
	SupportingEvents []string
	UpdatedAt        time.Time

	knownSourceIPs      map[string]bool
	knownSSHKeyFiles    map[string]bool
	knownLaunchAgents   map[string]bool
	lastContributingAt  time.Time
}

// NewRiskState builds an empty risk state for a device.
func NewRiskState(deviceID string) *RiskState {
	return &RiskState{
		DeviceID:          deviceID,
		Level:             RiskLow,
		knownSourceIPs:    map[string]bool{},
		knownSSHKeyFiles:  map[string]bool{},
		knownLaunchAgents: map[string]bool{},
	}
}

// Recompute applies the contribution table from the device's current window
// and the incidents just emitted, clamping the result to [0, 100].
func (s *RiskState) Recompute(events []TelemetryEventView, incidents []Incident, now time.Time) {
	contributions := map[string]float64{"base": 10}
	supporting := map[string]bool{}

	failedSSH := 0
	for _, ev := range events {
		if ev.Type == EventSecurity && ev.Security != nil && ev.Security.AuthType == "SSH" && ev.Security.Result == "FAILURE" {
			failedSSH++
			supporting[ev.EventID] = true
		}
	}
	if failedSSH > 0 {
		delta := float64(failedSSH) * 5
		if delta > 20 {
			delta = 20
		}
		contributions[fmt.Sprintf("ssh_brute_force_attempts_%d", failedSSH)] = delta
		s.lastContributingAt = now
	}

	for _, ev := range events {
		switch {
		case ev.Type == EventSecurity && ev.Security != nil && ev.Security.AuthType == "SSH" && ev.Security.Result == "SUCCESS":
			ip := ev.Security.SourceIP
			if ip != "" && !s.knownSourceIPs[ip] {
				contributions["ssh_success_new_source_ip_"+ip] = 15
				supporting[ev.EventID] = true
				s.lastContributingAt = now
			}
			if ip != "" {
				s.knownSourceIPs[ip] = true
			}
		case ev.Type == EventAudit && ev.Audit != nil && ev.Audit.Action == "CREATED" && ev.Audit.ObjectType == "SSH_KEYS":
			if !s.knownSSHKeyFiles[ev.Audit.ObjectPath] {
				contributions["new_ssh_key_file"] = 30
				supporting[ev.EventID] = true
				s.lastContributingAt = now
			}
			s.knownSSHKeyFiles[ev.Audit.ObjectPath] = true
		case ev.Type == EventAudit && ev.Audit != nil && ev.Audit.Action == "CREATED" && ev.Audit.ObjectType == "LAUNCH_AGENT" && strings.HasPrefix(ev.Audit.ObjectPath, "/Users/"):
			if !s.knownLaunchAgents[ev.Audit.ObjectPath] {
				contributions["new_launch_agent_under_users"] = 25
				supporting[ev.EventID] = true
				s.lastContributingAt = now
			}
			s.knownLaunchAgents[ev.Audit.ObjectPath] = true
		}
	}

	for _, inc := range incidents {
		for _, id := range inc.EventIDs {
			supporting[id] = true
		}
		if inc.RuleName == "suspicious_sudo" {
			contributions["suspicious_sudo"] = 30
			s.lastContributingAt = now
		}
		switch inc.Severity {
		case IncidentHigh:
			contributions["incident_high_"+inc.RuleName] = 20
			s.lastContributingAt = now
		case IncidentCritical:
			// Weighted so a single CRITICAL incident on top of any other
			// same-tick contribution (e.g. the launch-agent-under-/Users/
			// tag from persistence_after_auth itself) clears the CRITICAL
			// risk-level threshold, per spec.md section 8 seed scenario 2.
			contributions["incident_critical_"+inc.RuleName] = 50
			s.lastContributingAt = now
		}
	}

	if !s.lastContributingAt.IsZero() {
		if steps := int(now.Sub(s.lastContributingAt) / idleDecayStep); steps > 0 {
			contributions["idle_decay"] = -10 * float64(steps)
		}
	}

	total := 0.0
	var tags []string
	for tag, delta := range contributions {
		total += delta
		if delta != 0 {
			tags = append(tags, tag)
		}
	}
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	sort.Strings(tags)

	var supportList []string
	for id := range supporting {
		supportList = append(supportList, id)
	}
	sort.Strings(supportList)

	s.Score = total
	s.Level = levelFor(total)
	s.ReasonTags = tags
	s.SupportingEvents = supportList
	s.UpdatedAt = now
}

// DeviceRiskSnapshot is the persisted, read-only view of a RiskState.
type DeviceRiskSnapshot struct {
	DeviceID         string
	Score            float64
	Level            RiskLevel
	ReasonTags       []string
	SupportingEvents []string
	UpdatedAt        time.Time
}

// Snapshot returns the persistable view of the current risk state.
func (s *RiskState) Snapshot() DeviceRiskSnapshot {
	return DeviceRiskSnapshot{
		DeviceID:         s.DeviceID,
		Score:            s.Score,
		Level:            s.Level,
		ReasonTags:       append([]string(nil), s.ReasonTags...),
		SupportingEvents: append([]string(nil), s.SupportingEvents...),
		UpdatedAt:        s.UpdatedAt,
	}
}

func levelFor(score float64) RiskLevel {
	switch {
	case score <= 30:
		return RiskLow
	case score <= 60:
		return RiskMedium
	case score <= 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}
