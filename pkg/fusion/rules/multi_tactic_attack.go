package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/amoskys/amoskys/pkg/fusion"
)

const multiTacticWindow = 15 * time.Minute

// suspiciousProcessPrefixes flags process executions launched from
// non-standard, user-writable locations.
var suspiciousProcessPrefixes = []string{"/tmp/", "~/Downloads/"}

// whitelistedFlowPrefixes are destination IPs considered benign (private
// address ranges); everything else counts as a non-whitelisted destination.
var whitelistedFlowPrefixes = []string{"10.", "172.16.", "192.168.", "127."}

type multiTacticAttack struct{}

// NewMultiTacticAttack builds the multi_tactic_attack rule: a suspicious
// process execution, a connection to a non-whitelisted destination, and a
// persistence artifact creation, all within a 15-minute sub-window.
func NewMultiTacticAttack() Rule {
	return multiTacticAttack{}
}

func (multiTacticAttack) Name() string { return "multi_tactic_attack" }

func (r multiTacticAttack) Evaluate(events []fusion.TelemetryEventView, deviceID string) []fusion.Incident {
	var procs, flows, audits []fusion.TelemetryEventView

	for _, ev := range events {
		switch {
		case ev.Type == fusion.EventProcess && ev.Process != nil && hasSuspiciousPrefix(ev.Process.ExecutablePath):
			procs = append(procs, ev)
		case ev.Type == fusion.EventFlow && ev.Flow != nil && !isWhitelistedDst(ev.Flow.DstIP):
			flows = append(flows, ev)
		case ev.Type == fusion.EventAudit && ev.Audit != nil && ev.Audit.Action == "CREATED" && persistenceObjectTypes[ev.Audit.ObjectType]:
			audits = append(audits, ev)
		}
	}

	seen := map[string]bool{}
	var incidents []fusion.Incident

	for _, p := range procs {
		for _, f := range flows {
			for _, a := range audits {
				if !within(multiTacticWindow, p, f, a) {
					continue
				}

				terminal := latest(p, f, a)
				if seen[terminal.EventID] {
					continue
				}
				seen[terminal.EventID] = true

				start := earliest(p, f, a)
				incidents = append(incidents, fusion.Incident{
					IncidentID: DeterministicID("multi_tactic_attack", deviceID, terminal.EventID),
					DeviceID:   deviceID,
					Severity:   fusion.IncidentCritical,
					Tactics:    []string{"Execution", "Command and Control", "Persistence"},
					Techniques: []string{"T1059", "T1071", "T1543.001"},
					RuleName:   "multi_tactic_attack",
					Summary: fmt.Sprintf("suspicious process %s, connection to %s:%d, and persistence artifact %s within 15 minutes",
						p.Process.ExecutablePath, f.Flow.DstIP, f.Flow.DstPort, a.Audit.ObjectType),
					StartTS:  start.Timestamp,
					EndTS:    terminal.Timestamp,
					EventIDs: []string{p.EventID, f.EventID, a.EventID},
					Metadata: map[string]string{
						"process_path":    p.Process.ExecutablePath,
						"dst":             fmt.Sprintf("%s:%d", f.Flow.DstIP, f.Flow.DstPort),
						"persistence_kind": a.Audit.ObjectType,
					},
				})
			}
		}
	}
	return incidents
}

func hasSuspiciousPrefix(path string) bool {
	for _, prefix := range suspiciousProcessPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isWhitelistedDst(ip string) bool {
	for _, prefix := range whitelistedFlowPrefixes {
		if strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}

func within(window time.Duration, times ...fusion.TelemetryEventView) bool {
	min, max := times[0].Timestamp, times[0].Timestamp
	for _, t := range times[1:] {
		if t.Timestamp.Before(min) {
			min = t.Timestamp
		}
		if t.Timestamp.After(max) {
			max = t.Timestamp
		}
	}
	return max.Sub(min) <= window
}

func earliest(events ...fusion.TelemetryEventView) fusion.TelemetryEventView {
	out := events[0]
	for _, e := range events[1:] {
		if e.Timestamp.Before(out.Timestamp) {
			out = e
		}
	}
	return out
}

func latest(events ...fusion.TelemetryEventView) fusion.TelemetryEventView {
	out := events[0]
	for _, e := range events[1:] {
		if e.Timestamp.After(out.Timestamp) {
			out = e
		}
	}
	return out
}
