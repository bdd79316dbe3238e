package envelope

import (
	"crypto/ed25519"
	"fmt"
)

// Sign computes the Ed25519 detached signature over the envelope's canonical
// bytes and stores it on e.Signature.
func Sign(e *Envelope, priv ed25519.PrivateKey) error {
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("envelope: invalid ed25519 private key size %d", len(priv))
	}
	e.Signature = ed25519.Sign(priv, CanonicalBytes(*e))
	return nil
}

// Verify reports whether e.Signature is a valid Ed25519 signature over e's
// canonical bytes for the given public key. It does not mutate e.
func Verify(e Envelope, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize || len(e.Signature) == 0 {
		return false
	}
	sig := e.Signature
	e.Signature = nil
	return ed25519.Verify(pub, CanonicalBytes(e), sig)
}
