package ledger

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/protocol"
)

// ReplayResult is the outcome of a launch replay.
type ReplayResult struct {
	// Records are the accepted records ordered by slot.
	Records []*Record

	// Skipped holds one error per persisted record that failed its
	// signature chain and was left out of the rebuilt state.
	Skipped []error
}

// Replay rebuilds the in-memory state from the database. Every record is
// re-verified: unprocessed transfers against the identity's own public
// key, processed ones against the embedded chain of source key, admin
// snapshot and per-slab computor keys. The essence signature is checked
// only after the whole key stream is consumed; if it does not verify, no
// derived state is exposed and ErrSignatureVerificationFailed is
// returned with the state left zeroed.
func (l *Ledger) Replay() (*ReplayResult, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	var (
		counter   uint32
		energy    uint64
		signature []byte
		records   = make(map[uint32]*Record)
		slots     = make(map[[32]byte]uint32)
		skipped   []error
	)

	it := l.db.NewIterator()
	defer it.Release()
	for it.Next() {
		key := string(it.Key())
		value := append([]byte(nil), it.Value()...)

		switch key {
		case counterKey:
			if len(value) != 4 {
				return nil, fmt.Errorf("%w: malformed counter value", ErrSignatureVerificationFailed)
			}
			counter = binary.LittleEndian.Uint32(value)
			continue
		case energyKey:
			if len(value) != 8 {
				return nil, fmt.Errorf("%w: malformed energy value", ErrSignatureVerificationFailed)
			}
			energy = binary.LittleEndian.Uint64(value)
			continue
		case signatureKey:
			signature = value
			continue
		}

		slot64, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			l.logger.Warn("ignoring foreign ledger key", zap.String("key", key))
			continue
		}
		slot := uint32(slot64)

		record, err := l.decodeRecord(slot, value)
		if err != nil {
			l.logger.Warn("skipping ledger record", zap.Uint32("slot", slot), zap.Error(err))
			skipped = append(skipped, err)
			continue
		}
		records[slot] = record
		slots[record.Transfer.Hash()] = slot
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	// A fresh database has no state to verify.
	if counter == 0 && energy == 0 && signature == nil && len(records) == 0 {
		return &ReplayResult{}, nil
	}

	hashes := make([][32]byte, 0, len(slots))
	for hash := range slots {
		hashes = append(hashes, hash)
	}
	if !l.verifyEssence(counter, energy, hashes, signature) {
		return nil, fmt.Errorf("%w: ledger essence signature did not verify", ErrSignatureVerificationFailed)
	}

	l.counter = counter
	l.energy = energy
	l.records = records
	l.slots = slots

	result := &ReplayResult{Skipped: skipped}
	for slot := uint32(1); slot <= counter; slot++ {
		if record, ok := records[slot]; ok {
			result.Records = append(result.Records, record)
		}
	}
	return result, nil
}

// decodeRecord decrypts and verifies one persisted record value.
func (l *Ledger) decodeRecord(slot uint32, value []byte) (*Record, error) {
	plain := l.crypt(slot, value)
	if len(plain) < 1+protocol.TransferSize {
		return nil, fmt.Errorf("%w: record %d is truncated", ErrSignatureVerificationFailed, slot)
	}

	tag := plain[0]
	transfer, err := protocol.UnmarshalTransfer(plain[1 : 1+protocol.TransferSize])
	if err != nil {
		return nil, fmt.Errorf("%w: record %d: %v", ErrSignatureVerificationFailed, slot, err)
	}

	switch tag {
	case tagUnprocessed:
		if len(plain) != 1+protocol.TransferSize {
			return nil, fmt.Errorf("%w: record %d has trailing bytes", ErrSignatureVerificationFailed, slot)
		}
		// A record this identity wrote must carry its own signature; a
		// corrupt on-disk transfer fails here before it can be
		// re-broadcast.
		if transfer.Source != l.publicKey || !transfer.VerifySignature(l.scheme) {
			return nil, fmt.Errorf("%w: record %d transfer signature", ErrSignatureVerificationFailed, slot)
		}
		return &Record{Slot: slot, Transfer: transfer}, nil

	case tagProcessed:
		if !transfer.VerifySignature(l.scheme) {
			return nil, fmt.Errorf("%w: record %d transfer signature", ErrSignatureVerificationFailed, slot)
		}
		receipt, err := protocol.ParseReceipt(plain[1+protocol.TransferSize:])
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrSignatureVerificationFailed, slot, err)
		}
		if err := receipt.Verify(l.scheme, l.adminPublicKey, transfer.Hash()); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrSignatureVerificationFailed, slot, err)
		}
		return &Record{Slot: slot, Transfer: transfer, Receipt: receipt}, nil

	default:
		return nil, fmt.Errorf("%w: record %d has unknown tag %d", ErrSignatureVerificationFailed, slot, tag)
	}
}
