package rules

import (
	"fmt"
	"regexp"

	"github.com/amoskys/amoskys/pkg/fusion"
)

// sudoPattern is one fixed suspicious sudo-command pattern.
type sudoPattern struct {
	name     string
	re       *regexp.Regexp
	critical bool
}

// sudoPatterns is the fixed pattern set suspicious_sudo matches against.
// Class A (critical): sudoers edits, kernel extension loads, and
// destructive filesystem operations on root paths. Everything else
// (writes under Launch{Agents,Daemons}) is high severity.
var sudoPatterns = []sudoPattern{
	{name: "sudoers_edit", re: regexp.MustCompile(`(?i)(visudo|/etc/sudoers)`), critical: true},
	{name: "kext_load", re: regexp.MustCompile(`(?i)(kextload|kmutil\s+load)`), critical: true},
	{name: "destructive_fs", re: regexp.MustCompile(`(?i)rm\s+-rf\s+/(\s|$)`), critical: true},
	{name: "launch_agent_write", re: regexp.MustCompile(`(?i)/Library/Launch(Agents|Daemons)/`), critical: false},
}

type suspiciousSudo struct{}

// NewSuspiciousSudo builds the suspicious_sudo rule.
func NewSuspiciousSudo() Rule {
	return suspiciousSudo{}
}

func (suspiciousSudo) Name() string { return "suspicious_sudo" }

func (r suspiciousSudo) Evaluate(events []fusion.TelemetryEventView, deviceID string) []fusion.Incident {
	var incidents []fusion.Incident
	for _, ev := range events {
		if ev.Type != fusion.EventSecurity || ev.Security == nil || ev.Security.AuthType != "SUDO" {
			continue
		}
		cmd := ev.Security.SudoCommand
		if cmd == "" {
			continue
		}

		matched, isCritical := matchSudoPattern(cmd)
		if matched == "" {
			continue
		}

		severity := fusion.IncidentHigh
		if isCritical {
			severity = fusion.IncidentCritical
		}

		incidents = append(incidents, fusion.Incident{
			IncidentID: DeterministicID("suspicious_sudo", deviceID, ev.EventID),
			DeviceID:   deviceID,
			Severity:   severity,
			Tactics:    []string{"Privilege Escalation"},
			Techniques: []string{"T1548.003"},
			RuleName:   "suspicious_sudo",
			Summary:    fmt.Sprintf("sudo command matched suspicious pattern %q: %s", matched, cmd),
			StartTS:    ev.Timestamp,
			EndTS:      ev.Timestamp,
			EventIDs:   []string{ev.EventID},
			Metadata: map[string]string{
				"matched_pattern": matched,
				"command":         cmd,
			},
		})
	}
	return incidents
}

func matchSudoPattern(cmd string) (pattern string, critical bool) {
	for _, p := range sudoPatterns {
		if p.re.MatchString(cmd) {
			return p.name, p.critical
		}
	}
	return "", false
}
