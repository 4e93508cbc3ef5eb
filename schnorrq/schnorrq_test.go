package schnorrq

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashVector(t *testing.T) {
	t.Parallel()

	// KangarooTwelve(M=empty, C=empty, 32 bytes).
	expected := "1ac2d450fc3b4205d19da7bfca1b37513c0803577ac7167f06fe2ce1f0ef39e5"
	require.Equal(t, expected, hex.EncodeToString(Hash(nil, 32)))
}

func TestHashPrefixProperty(t *testing.T) {
	t.Parallel()

	// Key derivation relies on the short output being a prefix of the
	// long one.
	data := []byte("prefix property probe")
	require.Equal(t, Hash(data, 64)[:32], Hash(data, 32))
	require.Equal(t, Hash(data, 32)[:16], Hash(data, 16))

	digest := HashDigest(data)
	require.Equal(t, Hash(data, 32), digest[:])
}

func TestGenerateSignVerify(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	scheme := Scheme{}
	privateKey := Hash([]byte("signing key material"), PrivateKeySize)
	publicKey, err := scheme.GeneratePublicKey(privateKey)
	r.NoError(err)
	r.Len(publicKey, PublicKeySize)

	digest := Hash([]byte("message"), DigestSize)
	signature, err := scheme.Sign(privateKey, publicKey, digest)
	r.NoError(err)
	r.Len(signature, SignatureSize)

	r.True(scheme.Verify(publicKey, digest, signature))
}

func TestSignDeterministic(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	scheme := Scheme{}
	privateKey := Hash([]byte("deterministic key"), PrivateKeySize)
	publicKey, err := scheme.GeneratePublicKey(privateKey)
	r.NoError(err)

	digest := Hash([]byte("payload"), DigestSize)
	first, err := scheme.Sign(privateKey, publicKey, digest)
	r.NoError(err)
	second, err := scheme.Sign(privateKey, publicKey, digest)
	r.NoError(err)
	r.Equal(first, second)
}

func TestVerifyRejectsTampering(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	scheme := Scheme{}
	privateKey := Hash([]byte("tamper key"), PrivateKeySize)
	publicKey, err := scheme.GeneratePublicKey(privateKey)
	r.NoError(err)

	digest := Hash([]byte("original"), DigestSize)
	signature, err := scheme.Sign(privateKey, publicKey, digest)
	r.NoError(err)

	otherDigest := Hash([]byte("forged"), DigestSize)
	r.False(scheme.Verify(publicKey, otherDigest, signature))

	flipped := append([]byte(nil), signature...)
	flipped[0] ^= 1
	r.False(scheme.Verify(publicKey, digest, flipped))

	otherKey := Hash([]byte("other key"), PrivateKeySize)
	otherPublic, err := scheme.GeneratePublicKey(otherKey)
	r.NoError(err)
	r.False(scheme.Verify(otherPublic, digest, signature))
}

func TestVerifyRejectsBadEncodings(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	scheme := Scheme{}
	privateKey := Hash([]byte("encoding key"), PrivateKeySize)
	publicKey, err := scheme.GeneratePublicKey(privateKey)
	r.NoError(err)

	digest := Hash([]byte("encoded"), DigestSize)
	signature, err := scheme.Sign(privateKey, publicKey, digest)
	r.NoError(err)

	cases := map[string]func([]byte, []byte) ([]byte, []byte){
		"public key high bit": func(pub, sig []byte) ([]byte, []byte) {
			pub[15] |= 0x80
			return pub, sig
		},
		"nonce point high bit": func(pub, sig []byte) ([]byte, []byte) {
			sig[15] |= 0x80
			return pub, sig
		},
		"scalar overflow bits": func(pub, sig []byte) ([]byte, []byte) {
			sig[62] |= 0xc0
			return pub, sig
		},
		"scalar top byte": func(pub, sig []byte) ([]byte, []byte) {
			sig[63] = 1
			return pub, sig
		},
		"truncated signature": func(pub, sig []byte) ([]byte, []byte) {
			return pub, sig[:SignatureSize-1]
		},
	}
	for name, mutate := range cases {
		pub, sig := mutate(append([]byte(nil), publicKey...), append([]byte(nil), signature...))
		r.False(scheme.Verify(pub, digest, sig), name)
	}
}

func TestInvalidInputSizes(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	scheme := Scheme{}
	_, err := scheme.GeneratePublicKey(make([]byte, PrivateKeySize-1))
	r.Error(err)

	privateKey := Hash([]byte("size key"), PrivateKeySize)
	publicKey, err := scheme.GeneratePublicKey(privateKey)
	r.NoError(err)

	_, err = scheme.Sign(privateKey, publicKey, make([]byte, DigestSize+1))
	r.Error(err)
	_, err = scheme.Sign(privateKey, publicKey[:PublicKeySize-1], make([]byte, DigestSize))
	r.Error(err)
	_, err = scheme.Sign(privateKey[:PrivateKeySize-1], publicKey, make([]byte, DigestSize))
	r.Error(err)
}

func TestScalarRoundTrip(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	b := Hash([]byte("scalar bytes"), 32)
	x := leToInt(b)
	enc := intToLE32(x)
	r.Equal(b, enc[:])

	reduced := reduce32(b)
	r.True(reduced.Cmp(order) < 0)
	r.True(reduced.Sign() >= 0)
}
