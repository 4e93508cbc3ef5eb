package protocol

import (
	"fmt"

	"github.com/computor-tools/qubic-go/bitfield"
)

// Receipt is self-contained evidence of a processed transfer: the
// admin-signed committee snapshot followed by the signed status slab of
// every reporting computor that attested processing it.
type Receipt struct {
	State *ComputerState
	Slabs []*TransferStatus
}

// Marshal packs the receipt: the state record followed by whole slabs.
func (r *Receipt) Marshal() []byte {
	b := make([]byte, 0, StateRecordSize+StatusRecordSize*len(r.Slabs))
	b = append(b, r.State.Marshal()...)
	for _, slab := range r.Slabs {
		b = append(b, slab.Marshal()...)
	}
	return b
}

// ParseReceipt splits receipt bytes into the snapshot and its slabs.
func ParseReceipt(data []byte) (*Receipt, error) {
	if len(data) < StateRecordSize {
		return nil, fmt.Errorf("invalid receipt; expected: at least %d bytes, given: %d", StateRecordSize, len(data))
	}
	if (len(data)-StateRecordSize)%StatusRecordSize != 0 {
		return nil, fmt.Errorf("invalid receipt; expected: whole status records after the snapshot, given: %d trailing bytes", (len(data)-StateRecordSize)%StatusRecordSize)
	}

	state, err := UnmarshalComputerState(data[:StateRecordSize])
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{State: state}
	for off := StateRecordSize; off < len(data); off += StatusRecordSize {
		slab, err := UnmarshalTransferStatus(data[off : off+StatusRecordSize])
		if err != nil {
			return nil, err
		}
		receipt.Slabs = append(receipt.Slabs, slab)
	}
	return receipt, nil
}

// Verify checks the receipt's signature chain as evidence that the
// transfer identified by transferHash was processed: the snapshot must be
// admin-issued and admin-signed, and at least QuorumThreshold distinct
// computors must have signed a slab for transferHash, consistent with the
// snapshot's epoch and tick, whose own lane reads processed.
func (r *Receipt) Verify(scheme Scheme, adminPublicKey []byte, transferHash [32]byte) error {
	if r.State.ComputorIndex != NumberOfComputors {
		return fmt.Errorf("receipt snapshot not admin-issued; expected computor index %d, given: %d", NumberOfComputors, r.State.ComputorIndex)
	}
	if !r.State.VerifyAdminSignature(scheme, adminPublicKey) {
		return fmt.Errorf("receipt snapshot admin signature did not verify")
	}

	attested := make(map[uint16]struct{}, len(r.Slabs))
	for i, slab := range r.Slabs {
		if slab.TransferHash != transferHash {
			return fmt.Errorf("receipt slab %d reports a different transfer", i)
		}
		if slab.ComputorIndex >= NumberOfComputors {
			return fmt.Errorf("receipt slab %d has invalid computor index %d", i, slab.ComputorIndex)
		}
		if slab.Epoch != r.State.Epoch || slab.Tick > r.State.Tick {
			return fmt.Errorf("receipt slab %d is inconsistent with the snapshot: epoch %d tick %d against epoch %d tick %d",
				i, slab.Epoch, slab.Tick, r.State.Epoch, r.State.Tick)
		}
		reporter := slab.ComputorIndex
		if !slab.VerifySignature(scheme, r.State.ComputorPublicKeys[reporter][:]) {
			return fmt.Errorf("receipt slab %d signature did not verify against computor %d", i, reporter)
		}
		if slab.Bitfield.Get(int(reporter)) != bitfield.VoteProcessed {
			return fmt.Errorf("receipt slab %d does not attest processing by computor %d", i, reporter)
		}
		attested[reporter] = struct{}{}
	}

	if len(attested) < QuorumThreshold {
		return fmt.Errorf("receipt quorum not reached; expected: at least %d attesting computors, given: %d", QuorumThreshold, len(attested))
	}
	return nil
}
