// Package rules implements the fusion engine's fixed set of correlation
// rules: pure functions from a device's event window to zero or more
// incidents.
package rules

import (
	"github.com/google/uuid"

	"github.com/amoskys/amoskys/pkg/fusion"
)

// Rule is an alias of fusion.Rule for convenience within this package.
type Rule = fusion.Rule

// incidentNamespace is a fixed namespace UUID used to derive deterministic
// incident ids; it has no meaning beyond seeding uuid.NewSHA1.
var incidentNamespace = uuid.MustParse("6f1b3b1a-8d2c-4b8f-9e2a-7c6d5a4b3c2d")

// DeterministicID derives a stable incident_id from the rule name, device
// id, and terminal event id, so re-evaluating the same terminal event is a
// no-op rather than a duplicate incident.
func DeterministicID(ruleName, deviceID, terminalEventID string) string {
	return uuid.NewSHA1(incidentNamespace, []byte(ruleName+"|"+deviceID+"|"+terminalEventID)).String()
}

// All returns the fixed, ordered list of mandatory rules.
func All() []Rule {
	return []Rule{
		NewSSHBruteForce(),
		NewPersistenceAfterAuth(),
		NewSuspiciousSudo(),
		NewMultiTacticAttack(),
	}
}
