package ledger

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/computor-tools/qubic-go/schnorrq"
)

// essenceScalarSize is the size of the scalar prefix of the essence:
// the counter and the energy balance.
const essenceScalarSize = 4 + 8

// essence builds the canonical ledger digest input over the given state:
// counter, energy and the record hashes in lexicographic order.
func essence(counter uint32, energy uint64, hashes [][32]byte) []byte {
	sorted := make([][32]byte, len(hashes))
	copy(sorted, hashes)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	b := make([]byte, essenceScalarSize, essenceScalarSize+32*len(sorted))
	binary.LittleEndian.PutUint32(b[0:], counter)
	binary.LittleEndian.PutUint64(b[4:], energy)
	for _, hash := range sorted {
		b = append(b, hash[:]...)
	}
	return b
}

// hashesLocked collects the transfer hashes of all records.
func (l *Ledger) hashesLocked() [][32]byte {
	hashes := make([][32]byte, 0, len(l.slots))
	for hash := range l.slots {
		hashes = append(hashes, hash)
	}
	return hashes
}

// signEssenceLocked signs the essence of the current in-memory state.
func (l *Ledger) signEssenceLocked() ([]byte, error) {
	digest := schnorrq.HashDigest(essence(l.counter, l.energy, l.hashesLocked()))
	return l.scheme.Sign(l.privateKey, l.publicKey[:], digest[:])
}

// verifyEssence reports whether signature seals the given state under the
// identity's public key.
func (l *Ledger) verifyEssence(counter uint32, energy uint64, hashes [][32]byte, signature []byte) bool {
	digest := schnorrq.HashDigest(essence(counter, energy, hashes))
	return l.scheme.Verify(l.publicKey[:], digest[:], signature)
}
