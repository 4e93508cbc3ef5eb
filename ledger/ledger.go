// Package ledger keeps the identity's transfer history in an encrypted
// key-value database sealed by an essence signature.
//
// Numeric keys hold per-record ciphertexts, encrypted with a stream
// cipher keyed from the seed. The scalar keys "counter" and "energy" and
// the record hashes are bound together by the essence: their canonical
// concatenation, signed by the identity on every mutation. An attacker
// who can rewrite the database but cannot forge the identity signature
// cannot produce a state the replay accepts.
package ledger

import (
	"errors"
	"sync"

	"github.com/luxfi/database"
	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/schnorrq"
)

// Scalar keys. Numeric record keys are the decimal slot numbers 1..counter.
const (
	counterKey   = "counter"
	energyKey    = "energy"
	signatureKey = "signature"
)

// Record tags, the first plaintext byte of a numeric key's value.
const (
	tagUnprocessed byte = 0
	tagProcessed   byte = 1
)

var (
	// ErrPersistenceFailed is returned when an atomic batch is refused.
	// In-memory state has been reverted when it surfaces.
	ErrPersistenceFailed = errors.New("persistence failed")

	// ErrSignatureVerificationFailed is returned when a persisted record
	// or the essence signature does not verify on replay.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
)

// Record is one entry of the ledger: a transfer, plus its receipt once
// processing was attested by the committee.
type Record struct {
	Slot     uint32
	Transfer *protocol.Transfer
	Receipt  *protocol.Receipt
}

// Processed reports whether the record carries a receipt.
func (r *Record) Processed() bool {
	return r.Receipt != nil
}

// Ledger is the encrypted local transfer history of one identity. All
// methods are safe for concurrent use.
type Ledger struct {
	db             database.Database
	scheme         protocol.Scheme
	streamKey      []byte
	privateKey     []byte
	publicKey      [32]byte
	adminPublicKey []byte
	logger         *zap.Logger

	mtx     sync.Mutex
	counter uint32
	energy  uint64
	records map[uint32]*Record
	slots   map[[32]byte]uint32
}

// New wraps db as the ledger of the identity holding privateKey. The
// record stream key is derived from seedBytes; adminPublicKey anchors
// the verification chain of persisted receipts. State is empty until
// Replay runs.
func New(db database.Database, scheme protocol.Scheme, seedBytes, privateKey, publicKey, adminPublicKey []byte, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		db:             db,
		scheme:         scheme,
		streamKey:      schnorrq.Hash(seedBytes, streamKeySize),
		privateKey:     privateKey,
		adminPublicKey: adminPublicKey,
		logger:         logger,
		records:        make(map[uint32]*Record),
		slots:          make(map[[32]byte]uint32),
	}
	copy(l.publicKey[:], publicKey)
	return l
}

// Counter returns the current record slot counter.
func (l *Ledger) Counter() uint32 {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.counter
}

// Energy returns the current energy balance.
func (l *Ledger) Energy() uint64 {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.energy
}

// Records returns all records ordered by slot.
func (l *Ledger) Records() []*Record {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	records := make([]*Record, 0, len(l.records))
	for slot := uint32(1); slot <= l.counter; slot++ {
		if record, ok := l.records[slot]; ok {
			records = append(records, record)
		}
	}
	return records
}

// Record returns the record of the transfer identified by hash, or nil.
func (l *Ledger) Record(hash [32]byte) *Record {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if slot, ok := l.slots[hash]; ok {
		return l.records[slot]
	}
	return nil
}
