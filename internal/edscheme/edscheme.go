// Package edscheme provides an ed25519-backed signature scheme with the
// same shape as the SchnorrQ scheme. Tests use it to exercise signing
// flows with cheap, well-known arithmetic.
package edscheme

import (
	"fmt"

	"github.com/spacemeshos/ed25519"
)

// Scheme signs 32-byte digests with ed25519 keys derived from 32-byte
// seeds. The zero value is ready to use.
type Scheme struct{}

// GeneratePublicKey derives the ed25519 public key of a 32-byte seed.
func (Scheme) GeneratePublicKey(privateKey []byte) ([]byte, error) {
	if len(privateKey) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid `privateKey`; expected: %d bytes, given: %d", ed25519.SeedSize, len(privateKey))
	}
	return ed25519.NewKeyFromSeed(privateKey).Public().(ed25519.PublicKey), nil
}

// Sign signs digest. The public key argument is accepted for interface
// parity and not consulted.
func (Scheme) Sign(privateKey, publicKey, digest []byte) ([]byte, error) {
	if len(privateKey) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid `privateKey`; expected: %d bytes, given: %d", ed25519.SeedSize, len(privateKey))
	}
	return ed25519.Sign(ed25519.NewKeyFromSeed(privateKey), digest), nil
}

// Verify reports whether signature is a valid ed25519 signature of digest.
func (Scheme) Verify(publicKey, digest, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, digest, signature)
}
