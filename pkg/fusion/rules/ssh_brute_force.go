package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/amoskys/amoskys/pkg/fusion"
)

const sshBruteForceWindow = 30 * time.Minute

type sshBruteForce struct{}

// NewSSHBruteForce builds the ssh_brute_force rule: three or more failed SSH
// logins from the same source IP within 30 minutes, followed by a success
// from that IP.
func NewSSHBruteForce() Rule {
	return sshBruteForce{}
}

func (sshBruteForce) Name() string { return "ssh_brute_force" }

func (r sshBruteForce) Evaluate(events []fusion.TelemetryEventView, deviceID string) []fusion.Incident {
	byIP := map[string][]fusion.TelemetryEventView{}
	for _, ev := range events {
		if ev.Type != fusion.EventSecurity || ev.Security == nil || ev.Security.AuthType != "SSH" {
			continue
		}
		ip := ev.Security.SourceIP
		if ip == "" {
			continue
		}
		byIP[ip] = append(byIP[ip], ev)
	}

	var incidents []fusion.Incident
	for ip, ipEvents := range byIP {
		sorted := append([]fusion.TelemetryEventView(nil), ipEvents...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

		var pendingFailures []fusion.TelemetryEventView
		for _, ev := range sorted {
			if ev.Security.Result == "FAILURE" {
				pendingFailures = trimOlderThan(pendingFailures, ev.Timestamp, sshBruteForceWindow)
				pendingFailures = append(pendingFailures, ev)
				continue
			}
			if ev.Security.Result != "SUCCESS" {
				continue
			}

			pendingFailures = trimOlderThan(pendingFailures, ev.Timestamp, sshBruteForceWindow)
			if len(pendingFailures) < 3 {
				continue
			}

			supporting := append([]fusion.TelemetryEventView(nil), pendingFailures...)
			eventIDs := make([]string, 0, len(supporting)+1)
			for _, f := range supporting {
				eventIDs = append(eventIDs, f.EventID)
			}
			eventIDs = append(eventIDs, ev.EventID)

			targetUser := ev.Security.TargetUser
			if targetUser == "" {
				targetUser = supporting[0].Security.TargetUser
			}

			incidents = append(incidents, fusion.Incident{
				IncidentID: DeterministicID("ssh_brute_force", deviceID, ev.EventID),
				DeviceID:   deviceID,
				Severity:   fusion.IncidentHigh,
				Tactics:    []string{"Initial Access"},
				Techniques: []string{"T1110", "T1021.004"},
				RuleName:   "ssh_brute_force",
				Summary:    fmt.Sprintf("%d failed SSH logins from %s followed by a successful login", len(supporting), ip),
				StartTS:    supporting[0].Timestamp,
				EndTS:      ev.Timestamp,
				EventIDs:   eventIDs,
				Metadata: map[string]string{
					"source_ip":          ip,
					"target_user":        targetUser,
					"failed_attempts":    fmt.Sprintf("%d", len(supporting)),
					"time_to_compromise": fmt.Sprintf("%d", int64(ev.Timestamp.Sub(supporting[0].Timestamp).Seconds())),
				},
			})

			pendingFailures = nil
		}
	}
	return incidents
}

// trimOlderThan drops events whose timestamp is more than window before ref.
func trimOlderThan(events []fusion.TelemetryEventView, ref time.Time, window time.Duration) []fusion.TelemetryEventView {
	cutoff := ref.Add(-window)
	i := 0
	for ; i < len(events); i++ {
		if events[i].Timestamp.After(cutoff) {
			break
		}
	}
	return events[i:]
}
