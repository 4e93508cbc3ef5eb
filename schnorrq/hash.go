package schnorrq

import (
	"github.com/cloudflare/circl/xof/k12"
)

// Hash computes the protocol hash: KangarooTwelve over data with an
// empty customization string, truncated to size bytes.
func Hash(data []byte, size int) []byte {
	state := k12.NewDraft10(nil)
	_, _ = state.Write(data)
	out := make([]byte, size)
	_, _ = state.Read(out)
	return out
}

// HashDigest is a convenience wrapper returning the 32-byte form used
// for signing.
func HashDigest(data []byte) [32]byte {
	var digest [32]byte
	copy(digest[:], Hash(data, len(digest)))
	return digest
}
