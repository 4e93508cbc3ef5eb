// Package schnorrq implements the SchnorrQ signature scheme on the FourQ
// curve and the KangarooTwelve hash the protocol derives keys, checksums
// and digests with.
package schnorrq

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/cloudflare/circl/ecc/fourq"
)

const (
	// PrivateKeySize is the size of a private key in bytes.
	PrivateKeySize = 32

	// PublicKeySize is the size of an encoded public key in bytes.
	PublicKeySize = 32

	// SignatureSize is the size of a signature in bytes.
	SignatureSize = 64

	// DigestSize is the size of the signed digest in bytes.
	DigestSize = 32
)

// Scheme signs and verifies 32-byte digests with SchnorrQ keys. The zero
// value is ready to use.
type Scheme struct{}

// GeneratePublicKey derives the public key of privateKey: the encoding of
// s*G, where s is the low 32 bytes of the 64-byte hash of privateKey.
func (Scheme) GeneratePublicKey(privateKey []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("invalid `privateKey`; expected: %d bytes, given: %d", PrivateKeySize, len(privateKey))
	}

	k := Hash(privateKey, 64)
	s := intToLE32(reduce32(k[:32]))

	var p fourq.Point
	p.ScalarBaseMult(&s)

	var out [PublicKeySize]byte
	p.Marshal(&out)
	return out[:], nil
}

// Sign produces a 64-byte signature of digest under privateKey. Signing is
// deterministic: the nonce is derived from the private key and the digest,
// so signing the same digest twice yields the same bytes.
func (Scheme) Sign(privateKey, publicKey, digest []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("invalid `privateKey`; expected: %d bytes, given: %d", PrivateKeySize, len(privateKey))
	}
	if len(publicKey) != PublicKeySize {
		return nil, fmt.Errorf("invalid `publicKey`; expected: %d bytes, given: %d", PublicKeySize, len(publicKey))
	}
	if len(digest) != DigestSize {
		return nil, fmt.Errorf("invalid `digest`; expected: %d bytes, given: %d", DigestSize, len(digest))
	}

	k := Hash(privateKey, 64)

	buf := make([]byte, 0, 2*PublicKeySize+DigestSize)
	buf = append(buf, k[32:]...)
	buf = append(buf, digest...)
	r := reduce32(Hash(buf, 64))

	rEnc := intToLE32(r)
	var rPoint fourq.Point
	rPoint.ScalarBaseMult(&rEnc)

	signature := make([]byte, SignatureSize)
	var rBytes [32]byte
	rPoint.Marshal(&rBytes)
	copy(signature, rBytes[:])

	buf = buf[:0]
	buf = append(buf, signature[:32]...)
	buf = append(buf, publicKey...)
	buf = append(buf, digest...)
	h := reduce32(Hash(buf, 64))

	s := new(big.Int).Mul(reduce32(k[:32]), h)
	s.Mod(s, order)
	s.Sub(r, s)
	s.Mod(s, order)

	sEnc := intToLE32(s)
	copy(signature[32:], sEnc[:])
	return signature, nil
}

// Verify reports whether signature is a valid signature of digest under
// publicKey.
func (Scheme) Verify(publicKey, digest, signature []byte) bool {
	if len(publicKey) != PublicKeySize || len(digest) != DigestSize || len(signature) != SignatureSize {
		return false
	}
	// Encoding bounds: the high bit of each point encoding's 16th byte
	// must be clear, and s must fit in 246 bits.
	if publicKey[15]&0x80 != 0 || signature[15]&0x80 != 0 || signature[62]&0xC0 != 0 || signature[63] != 0 {
		return false
	}

	var pubEnc [32]byte
	copy(pubEnc[:], publicKey)
	var a fourq.Point
	if !a.Unmarshal(&pubEnc) {
		return false
	}

	buf := make([]byte, 0, 2*PublicKeySize+DigestSize)
	buf = append(buf, signature[:32]...)
	buf = append(buf, publicKey...)
	buf = append(buf, digest...)
	h := reduce32(Hash(buf, 64))

	s := intToLE32(reduce32(signature[32:]))
	var sg fourq.Point
	sg.ScalarBaseMult(&s)

	var rPrime fourq.Point
	rPrime.Add(&sg, scalarMult(h, &a))

	var enc [32]byte
	rPrime.Marshal(&enc)
	return bytes.Equal(enc[:], signature[:32])
}

// scalarMult computes k*q with a plain double-and-add ladder. k must be
// reduced modulo the subgroup order. Point.ScalarMult clears the cofactor
// before multiplying, which is not what the verification equation wants.
func scalarMult(k *big.Int, q *fourq.Point) *fourq.Point {
	var acc fourq.Point
	acc.SetIdentity()
	for i := k.BitLen() - 1; i >= 0; i-- {
		acc.Add(&acc, &acc)
		if k.Bit(i) == 1 {
			acc.Add(&acc, q)
		}
	}
	return &acc
}
