package ledger

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/protocol"
)

// AppendTransfer stores t as a new unprocessed record and returns its
// slot. The record is sealed into the essence signature in the same
// atomic batch, so a crash between the write and a later broadcast can
// never leave an on-wire transfer unrecorded locally.
func (l *Ledger) AppendTransfer(t *protocol.Transfer) (uint32, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	hash := t.Hash()
	if _, ok := l.slots[hash]; ok {
		return 0, fmt.Errorf("invalid `transfer`; expected: unseen hash, given: already stored")
	}

	slot := l.counter + 1
	record := &Record{Slot: slot, Transfer: t}

	l.counter = slot
	l.records[slot] = record
	l.slots[hash] = slot

	if err := l.commitLocked(slot, record, 0); err != nil {
		l.counter = slot - 1
		delete(l.records, slot)
		delete(l.slots, hash)
		return 0, err
	}
	return slot, nil
}

// Settle rewrites the record of hash as processed, attaching receipt and
// adjusting the energy balance: the transferred amount is subtracted,
// clamped at zero, unless this identity is the destination. The old slot
// is deleted in the same atomic batch. On failure in-memory state is
// reverted.
func (l *Ledger) Settle(hash [32]byte, receipt *protocol.Receipt) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	oldSlot, ok := l.slots[hash]
	if !ok {
		return fmt.Errorf("invalid `hash`; expected: stored transfer, given: unknown")
	}
	old := l.records[oldSlot]
	if old.Processed() {
		return nil
	}

	slot := l.counter + 1
	record := &Record{Slot: slot, Transfer: old.Transfer, Receipt: receipt}

	prevEnergy := l.energy
	l.counter = slot
	l.energy = l.settledEnergyLocked(old.Transfer)
	l.records[slot] = record
	delete(l.records, oldSlot)
	l.slots[hash] = slot

	if err := l.commitLocked(slot, record, oldSlot); err != nil {
		l.counter = slot - 1
		l.energy = prevEnergy
		l.records[oldSlot] = old
		delete(l.records, slot)
		l.slots[hash] = oldSlot
		return err
	}
	return nil
}

// Import integrates an externally obtained processed transfer. Importing
// a transfer already stored as processed is a no-op; one stored as
// unprocessed is settled. A previously unknown transfer is appended as
// processed, crediting the energy balance when this identity is the
// destination.
func (l *Ledger) Import(t *protocol.Transfer, receipt *protocol.Receipt) error {
	hash := t.Hash()

	l.mtx.Lock()
	if slot, ok := l.slots[hash]; ok {
		processed := l.records[slot].Processed()
		l.mtx.Unlock()
		if processed {
			return nil
		}
		return l.Settle(hash, receipt)
	}
	defer l.mtx.Unlock()

	slot := l.counter + 1
	record := &Record{Slot: slot, Transfer: t, Receipt: receipt}

	prevEnergy := l.energy
	l.counter = slot
	if t.Destination == l.publicKey {
		l.energy += t.Energy
	}
	l.records[slot] = record
	l.slots[hash] = slot

	if err := l.commitLocked(slot, record, 0); err != nil {
		l.counter = slot - 1
		l.energy = prevEnergy
		delete(l.records, slot)
		delete(l.slots, hash)
		return err
	}
	return nil
}

// SetEnergy overwrites the energy balance. On failure the in-memory
// balance is reverted.
func (l *Ledger) SetEnergy(energy uint64) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	prev := l.energy
	l.energy = energy
	if err := l.commitLocked(0, nil, 0); err != nil {
		l.energy = prev
		return err
	}
	return nil
}

// settledEnergyLocked returns the balance after t is processed.
func (l *Ledger) settledEnergyLocked(t *protocol.Transfer) uint64 {
	if t.Destination == l.publicKey {
		return l.energy
	}
	if t.Energy > l.energy {
		return 0
	}
	return l.energy - t.Energy
}

// commitLocked writes the scalar keys, a fresh essence signature and,
// when record is non-nil, the record's encrypted value in one atomic
// batch. deleteSlot, when non-zero, removes the superseded slot in the
// same batch.
func (l *Ledger) commitLocked(slot uint32, record *Record, deleteSlot uint32) error {
	signature, err := l.signEssenceLocked()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	counterBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(counterBytes, l.counter)
	energyBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(energyBytes, l.energy)

	batch := l.db.NewBatch()
	if err := batch.Put([]byte(counterKey), counterBytes); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if err := batch.Put([]byte(energyKey), energyBytes); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if err := batch.Put([]byte(signatureKey), signature); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if record != nil {
		if err := batch.Put(slotKey(slot), l.crypt(slot, encodeRecord(record))); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
	}
	if deleteSlot != 0 {
		if err := batch.Delete(slotKey(deleteSlot)); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
	}
	if err := batch.Write(); err != nil {
		l.logger.Warn("ledger batch refused", zap.Uint32("slot", slot), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

// slotKey renders a numeric record key.
func slotKey(slot uint32) []byte {
	return []byte(strconv.FormatUint(uint64(slot), 10))
}

// encodeRecord packs a record's plaintext: the tag byte, the transfer and
// the receipt when present.
func encodeRecord(record *Record) []byte {
	transfer := record.Transfer.Marshal()
	if !record.Processed() {
		return append([]byte{tagUnprocessed}, transfer...)
	}
	receipt := record.Receipt.Marshal()
	b := make([]byte, 0, 1+len(transfer)+len(receipt))
	b = append(b, tagProcessed)
	b = append(b, transfer...)
	b = append(b, receipt...)
	return b
}
