package trust

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTrustFile(t *testing.T, entries []Entry) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "trust.yaml")

	var buf []byte
	buf = append(buf, []byte("")...)
	for _, e := range entries {
		line := "- agent_id: " + e.AgentID + "\n" +
			"  public_key_hex: " + e.PublicKeyHex + "\n" +
			"  cert_fingerprint: " + e.CertFingerprint + "\n"
		if !e.ValidUntil.IsZero() {
			line += "  valid_until: " + e.ValidUntil.Format(time.RFC3339) + "\n"
		}
		buf = append(buf, []byte(line)...)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("write trust file: %v", err)
	}
	return path
}

func newKeyHex(t *testing.T) (string, ed25519.PublicKey) {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return hex.EncodeToString(pub), pub
}

func TestLoad_AndIsTrusted(t *testing.T) {
	keyHex, pub := newKeyHex(t)
	path := writeTrustFile(t, []Entry{
		{AgentID: "agent-1", PublicKeyHex: keyHex, CertFingerprint: "aa:bb"},
	})

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !m.IsTrusted("agent-1") {
		t.Error("expected agent-1 to be trusted")
	}
	if m.IsTrusted("agent-unknown") {
		t.Error("expected unknown agent to be untrusted")
	}

	got, ok := m.PublicKey("agent-1")
	if !ok || string(got) != string(pub) {
		t.Error("expected PublicKey to return the registered key")
	}

	fp, ok := m.CertFingerprint("agent-1")
	if !ok || fp != "aa:bb" {
		t.Errorf("expected cert fingerprint aa:bb, got %q", fp)
	}
}

func TestIsTrusted_ExpiredEntry(t *testing.T) {
	keyHex, _ := newKeyHex(t)
	path := writeTrustFile(t, []Entry{
		{AgentID: "agent-1", PublicKeyHex: keyHex, ValidUntil: time.Now().Add(-time.Hour)},
	})

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if m.IsTrusted("agent-1") {
		t.Error("expected expired agent to be untrusted")
	}
}

func TestReload_SwapsSnapshotWithoutBlockingReaders(t *testing.T) {
	keyHex1, _ := newKeyHex(t)
	path := writeTrustFile(t, []Entry{{AgentID: "agent-1", PublicKeyHex: keyHex1}})

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", m.Len())
	}

	keyHex2, _ := newKeyHex(t)
	path2 := writeTrustFile(t, []Entry{
		{AgentID: "agent-1", PublicKeyHex: keyHex1},
		{AgentID: "agent-2", PublicKeyHex: keyHex2},
	})
	data, err := os.ReadFile(path2)
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("overwrite trust file: %v", err)
	}

	if err := m.Reload(path); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 entries after reload, got %d", m.Len())
	}
	if !m.IsTrusted("agent-2") {
		t.Error("expected agent-2 to be trusted after reload")
	}
}

func TestLoad_RejectsMalformedPublicKey(t *testing.T) {
	path := writeTrustFile(t, []Entry{{AgentID: "agent-1", PublicKeyHex: "not-hex!"}})
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed public key hex")
	}
}
