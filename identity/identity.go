// Package identity derives identities from seeds and renders them in the
// protocol's shifted hex encoding.
//
// A seed is 55 lowercase Latin letters. Converting each letter to its
// alphabet position and applying index odometer increments yields the
// hash preimage of the private key. An identity string is the public key
// followed by a 3-byte checksum, both shifted-hex encoded and uppercased.
package identity

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/computor-tools/qubic-go/schnorrq"
)

const (
	// SeedLength is the number of letters in a seed.
	SeedLength = 55

	// ChecksumLength is the number of checksum bytes appended to the
	// public key.
	ChecksumLength = 3

	// Length is the number of characters in an identity string.
	Length = 2 * (schnorrq.PublicKeySize + ChecksumLength)

	// SeedChecksumLength is the number of characters in a seed checksum.
	SeedChecksumLength = 3
)

// ErrInvalidChecksum is returned when an identity string fails checksum
// recomputation.
var ErrInvalidChecksum = errors.New("invalid checksum")

// ValidateSeed checks that seed consists of exactly SeedLength lowercase
// Latin letters.
func ValidateSeed(seed string) error {
	if len(seed) != SeedLength {
		return fmt.Errorf("invalid `seed`; expected: %d lowercase letters, given: %d characters", SeedLength, len(seed))
	}
	for i := 0; i < len(seed); i++ {
		if seed[i] < 'a' || seed[i] > 'z' {
			return fmt.Errorf("invalid `seed`; expected: lowercase letters only, given: %q at position %d", seed[i], i)
		}
	}
	return nil
}

// SeedToBytes converts seed into its 55-byte alphabet-position form.
func SeedToBytes(seed string) ([]byte, error) {
	if err := ValidateSeed(seed); err != nil {
		return nil, err
	}
	b := make([]byte, SeedLength)
	for i := 0; i < SeedLength; i++ {
		b[i] = seed[i] - 'a'
	}
	return b, nil
}

// Preimage returns the private key hash preimage for seed at index: the
// seed bytes advanced by index odometer increments. Each increment adds
// one to position 0 and carries into the following position whenever a
// byte exceeds 26, resetting it to 1.
func Preimage(seed string, index uint64) ([]byte, error) {
	preimage, err := SeedToBytes(seed)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < index; i++ {
		for j := 0; j < len(preimage); j++ {
			preimage[j]++
			if preimage[j] > 26 {
				preimage[j] = 1
				continue
			}
			break
		}
	}
	return preimage, nil
}

// PrivateKey derives the 32-byte private key for seed at index.
func PrivateKey(seed string, index uint64) ([]byte, error) {
	preimage, err := Preimage(seed, index)
	if err != nil {
		return nil, err
	}
	return schnorrq.Hash(preimage, schnorrq.PrivateKeySize), nil
}

// FromPublicKey renders publicKey as a 70-character identity string.
func FromPublicKey(publicKey []byte) (string, error) {
	if len(publicKey) != schnorrq.PublicKeySize {
		return "", fmt.Errorf("invalid `publicKey`; expected: %d bytes, given: %d", schnorrq.PublicKeySize, len(publicKey))
	}
	checksum := schnorrq.Hash(publicKey, ChecksumLength)
	return strings.ToUpper(BytesToShiftedHex(publicKey) + BytesToShiftedHex(checksum)), nil
}

// PublicKey parses an identity string into its 32-byte public key,
// enforcing the trailing checksum.
func PublicKey(id string) ([]byte, error) {
	if len(id) != Length {
		return nil, fmt.Errorf("invalid `identity`; expected: %d characters, given: %d", Length, len(id))
	}
	raw, err := ShiftedHexToBytes(strings.ToLower(id))
	if err != nil {
		return nil, fmt.Errorf("invalid `identity`; %w", err)
	}
	publicKey := raw[:schnorrq.PublicKeySize]
	if !bytes.Equal(raw[schnorrq.PublicKeySize:], schnorrq.Hash(publicKey, ChecksumLength)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidChecksum, id)
	}
	return publicKey, nil
}

// VerifyChecksum reports whether id is a well-formed identity string whose
// checksum matches its public key.
func VerifyChecksum(id string) bool {
	_, err := PublicKey(id)
	return err == nil
}

// SeedChecksum returns the 3-character checksum of seed: the leading
// shifted-hex characters of the 2-byte seed hash, uppercased.
func SeedChecksum(seed string) (string, error) {
	seedBytes, err := SeedToBytes(seed)
	if err != nil {
		return "", err
	}
	sum := schnorrq.Hash(seedBytes, 2)
	return strings.ToUpper(BytesToShiftedHex(sum)[:SeedChecksumLength]), nil
}

// BytesToShiftedHex encodes data with each nibble mapped to a lowercase
// letter, high nibble first.
func BytesToShiftedHex(data []byte) string {
	out := make([]byte, 2*len(data))
	for i, b := range data {
		out[2*i] = 'a' + (b >> 4)
		out[2*i+1] = 'a' + (b & 0x0f)
	}
	return string(out)
}

// ShiftedHexToBytes decodes a lowercase shifted-hex string.
func ShiftedHexToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("invalid shifted hex; expected: even length, given: %d characters", len(s))
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		hi := s[i] - 'a'
		lo := s[i+1] - 'a'
		if hi > 15 || lo > 15 {
			return nil, fmt.Errorf("invalid shifted hex; expected: letters a through p, given: %q", s[i:i+2])
		}
		out[i/2] = hi<<4 | lo
	}
	return out, nil
}
