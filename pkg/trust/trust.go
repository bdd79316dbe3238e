// Package trust maintains the bus's agent trust map: the set of agent
// identities permitted to publish, each bound to the Ed25519 public key their
// envelopes are verified against and an expected certificate fingerprint.
// The fingerprint is stored and returned by CertFingerprint; nothing in this
// package compares it against an mTLS handshake.
// The map is loaded from a YAML/JSON file and swapped wholesale on reload so
// readers never block behind a writer (a read-copy-update snapshot).
package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry describes one trusted agent.
type Entry struct {
	AgentID         string    `json:"agent_id" yaml:"agent_id"`
	PublicKeyHex    string    `json:"public_key_hex" yaml:"public_key_hex"`
	CertFingerprint string    `json:"cert_fingerprint" yaml:"cert_fingerprint"`
	ValidUntil      time.Time `json:"valid_until" yaml:"valid_until"`
}

type resolvedEntry struct {
	PublicKey       ed25519.PublicKey
	CertFingerprint string
	ValidUntil      time.Time
}

type snapshot struct {
	entries map[string]resolvedEntry
}

// Map is a hot-reloadable, read-copy-update trust map. The zero value is not
// usable; construct one with Load.
type Map struct {
	current atomic.Pointer[snapshot]
}

// Load reads a trust-map file (YAML or JSON, by extension) and returns a
// ready-to-use Map.
func Load(path string) (*Map, error) {
	m := &Map{}
	if err := m.Reload(path); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads the trust-map file and atomically swaps the in-memory
// snapshot. Existing readers holding a prior snapshot are unaffected.
func (m *Map) Reload(path string) error {
	entries, err := readEntries(path)
	if err != nil {
		return err
	}

	resolved := make(map[string]resolvedEntry, len(entries))
	for _, e := range entries {
		pub, err := decodePublicKey(e.PublicKeyHex)
		if err != nil {
			return fmt.Errorf("trust: agent %s: %w", e.AgentID, err)
		}
		resolved[e.AgentID] = resolvedEntry{
			PublicKey:       pub,
			CertFingerprint: e.CertFingerprint,
			ValidUntil:      e.ValidUntil,
		}
	}

	m.current.Store(&snapshot{entries: resolved})
	return nil
}

func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trust: read %s: %w", path, err)
	}

	var entries []Entry
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("trust: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("trust: parse %s: %w", path, err)
		}
	}
	return entries, nil
}

func decodePublicKey(hexKey string) (ed25519.PublicKey, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key hex: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	return ed25519.PublicKey(key), nil
}

// IsTrusted implements interceptors.Authorizer: reports whether agentID is
// currently present and not expired.
func (m *Map) IsTrusted(agentID string) bool {
	snap := m.current.Load()
	if snap == nil {
		return false
	}
	entry, ok := snap.entries[agentID]
	if !ok {
		return false
	}
	return entry.ValidUntil.IsZero() || time.Now().Before(entry.ValidUntil)
}

// PublicKey returns the Ed25519 public key registered for agentID, and
// whether the agent is currently trusted.
func (m *Map) PublicKey(agentID string) (ed25519.PublicKey, bool) {
	snap := m.current.Load()
	if snap == nil {
		return nil, false
	}
	entry, ok := snap.entries[agentID]
	if !ok || (!entry.ValidUntil.IsZero() && !time.Now().Before(entry.ValidUntil)) {
		return nil, false
	}
	return entry.PublicKey, true
}

// CertFingerprint returns the expected mTLS certificate fingerprint for
// agentID, and whether the agent is registered.
func (m *Map) CertFingerprint(agentID string) (string, bool) {
	snap := m.current.Load()
	if snap == nil {
		return "", false
	}
	entry, ok := snap.entries[agentID]
	return entry.CertFingerprint, ok
}

// Len returns the number of trusted agents in the current snapshot.
func (m *Map) Len() int {
	snap := m.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.entries)
}
