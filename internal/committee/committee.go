// Package committee builds a fully keyed committee with a signed
// computer-state snapshot. The integration harness serves it as the fake
// bridge's authority; package tests use it to produce verifiable status
// slabs and receipts without a live network.
package committee

import (
	"encoding/binary"
	"fmt"

	"github.com/computor-tools/qubic-go/bitfield"
	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/schnorrq"
)

// Committee holds the key material of an admin and all computors, plus
// the admin-signed snapshot of the current epoch and tick.
type Committee struct {
	Scheme          protocol.Scheme
	AdminPrivateKey []byte
	AdminPublicKey  []byte
	State           *protocol.ComputerState

	computorPrivateKeys [protocol.NumberOfComputors][]byte
}

// New derives a deterministic committee from seed and signs a snapshot at
// the given epoch and tick.
func New(scheme protocol.Scheme, seed []byte, epoch uint16, tick uint32) (*Committee, error) {
	c := &Committee{
		Scheme:          scheme,
		AdminPrivateKey: deriveKey(seed, protocol.NumberOfComputors),
	}

	adminPublicKey, err := scheme.GeneratePublicKey(c.AdminPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("derive admin key: %w", err)
	}
	c.AdminPublicKey = adminPublicKey

	for i := 0; i < protocol.NumberOfComputors; i++ {
		c.computorPrivateKeys[i] = deriveKey(seed, uint16(i))
	}

	state, err := c.StateAt(epoch, tick)
	if err != nil {
		return nil, err
	}
	c.State = state
	return c, nil
}

// StateAt signs a snapshot of the same committee at another epoch and
// tick.
func (c *Committee) StateAt(epoch uint16, tick uint32) (*protocol.ComputerState, error) {
	state := &protocol.ComputerState{
		ComputorIndex: protocol.NumberOfComputors,
		Epoch:         epoch,
		Tick:          tick,
		Timestamp:     uint64(tick) * 1_000_000,
	}
	for i := 0; i < protocol.NumberOfComputors; i++ {
		publicKey, err := c.Scheme.GeneratePublicKey(c.computorPrivateKeys[i])
		if err != nil {
			return nil, fmt.Errorf("derive computor key %d: %w", i, err)
		}
		copy(state.ComputorPublicKeys[i][:], publicKey)
	}
	if err := state.Sign(c.Scheme, c.AdminPrivateKey, c.AdminPublicKey); err != nil {
		return nil, fmt.Errorf("sign snapshot: %w", err)
	}
	return state, nil
}

// StatusSlab signs reporter's status record for hash with every lane set
// to vote.
func (c *Committee) StatusSlab(reporter uint16, hash [32]byte, vote bitfield.Vote) (*protocol.TransferStatus, error) {
	slab := &protocol.TransferStatus{
		TransferHash:  hash,
		ComputorIndex: reporter,
		Epoch:         c.State.Epoch,
		Tick:          c.State.Tick,
	}
	slab.Bitfield.Fill(vote)
	publicKey := c.State.ComputorPublicKeys[reporter]
	if err := slab.Sign(c.Scheme, c.computorPrivateKeys[reporter], publicKey[:]); err != nil {
		return nil, fmt.Errorf("sign slab %d: %w", reporter, err)
	}
	return slab, nil
}

// Receipt assembles a processed-transfer receipt attested by the given
// reporters.
func (c *Committee) Receipt(hash [32]byte, reporters []uint16) (*protocol.Receipt, error) {
	receipt := &protocol.Receipt{State: c.State}
	for _, reporter := range reporters {
		slab, err := c.StatusSlab(reporter, hash, bitfield.VoteProcessed)
		if err != nil {
			return nil, err
		}
		receipt.Slabs = append(receipt.Slabs, slab)
	}
	return receipt, nil
}

// QuorumReceipt assembles a receipt attested by the first QuorumThreshold
// reporters.
func (c *Committee) QuorumReceipt(hash [32]byte) (*protocol.Receipt, error) {
	reporters := make([]uint16, protocol.QuorumThreshold)
	for i := range reporters {
		reporters[i] = uint16(i)
	}
	return c.Receipt(hash, reporters)
}

func deriveKey(seed []byte, index uint16) []byte {
	b := make([]byte, 0, len(seed)+2)
	b = append(b, seed...)
	b = binary.LittleEndian.AppendUint16(b, index)
	return schnorrq.Hash(b, schnorrq.PrivateKeySize)
}
