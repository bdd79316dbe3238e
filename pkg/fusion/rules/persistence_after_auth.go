package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/amoskys/amoskys/pkg/fusion"
)

const persistenceWindow = 10 * time.Minute

var persistenceObjectTypes = map[string]bool{
	"LAUNCH_AGENT": true,
	"LAUNCH_DAEMON": true,
	"CRON":         true,
	"SSH_KEYS":     true,
}

type persistenceAfterAuth struct{}

// NewPersistenceAfterAuth builds the persistence_after_auth rule: a
// successful SSH or sudo authentication followed within ten minutes by
// creation of a persistence artifact.
func NewPersistenceAfterAuth() Rule {
	return persistenceAfterAuth{}
}

func (persistenceAfterAuth) Name() string { return "persistence_after_auth" }

func (r persistenceAfterAuth) Evaluate(events []fusion.TelemetryEventView, deviceID string) []fusion.Incident {
	sorted := append([]fusion.TelemetryEventView(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var lastAuth *fusion.TelemetryEventView
	var incidents []fusion.Incident

	for i := range sorted {
		ev := sorted[i]

		if ev.Type == fusion.EventSecurity && ev.Security != nil &&
			(ev.Security.AuthType == "SSH" || ev.Security.AuthType == "SUDO") &&
			ev.Security.Result == "SUCCESS" {
			lastAuth = &sorted[i]
			continue
		}

		if ev.Type != fusion.EventAudit || ev.Audit == nil {
			continue
		}
		if ev.Audit.Action != "CREATED" || !persistenceObjectTypes[ev.Audit.ObjectType] {
			continue
		}
		if lastAuth == nil || ev.Timestamp.Sub(lastAuth.Timestamp) > persistenceWindow {
			continue
		}

		severity := fusion.IncidentHigh
		if strings.HasPrefix(ev.Audit.ObjectPath, "/Users/") {
			severity = fusion.IncidentCritical
		}

		incidents = append(incidents, fusion.Incident{
			IncidentID: DeterministicID("persistence_after_auth", deviceID, ev.EventID),
			DeviceID:   deviceID,
			Severity:   severity,
			Tactics:    []string{"Persistence"},
			Techniques: []string{"T1543.001", "T1543.004", "T1053.003", "T1098.004"},
			RuleName:   "persistence_after_auth",
			Summary:    fmt.Sprintf("persistence artifact %s created at %s following authenticated session", ev.Audit.ObjectType, ev.Audit.ObjectPath),
			StartTS:    lastAuth.Timestamp,
			EndTS:      ev.Timestamp,
			EventIDs:   []string{lastAuth.EventID, ev.EventID},
			Metadata: map[string]string{
				"object_path":  ev.Audit.ObjectPath,
				"auth_user":    lastAuth.Security.TargetUser,
				"delta_seconds": fmt.Sprintf("%d", int64(ev.Timestamp.Sub(lastAuth.Timestamp).Seconds())),
			},
		})
		lastAuth = nil
	}
	return incidents
}
