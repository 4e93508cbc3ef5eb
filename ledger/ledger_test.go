package ledger

import (
	"errors"
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/computor-tools/qubic-go/internal/committee"
	"github.com/computor-tools/qubic-go/internal/edscheme"
	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/schnorrq"
)

var testScheme = edscheme.Scheme{}

type fixture struct {
	seedBytes  []byte
	privateKey []byte
	publicKey  []byte
	committee  *committee.Committee
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	seedBytes := schnorrq.Hash([]byte("ledger test seed"), 55)
	privateKey := schnorrq.Hash(seedBytes, 32)
	publicKey, err := testScheme.GeneratePublicKey(privateKey)
	require.NoError(t, err)

	c, err := committee.New(testScheme, []byte("ledger committee"), 1, 100)
	require.NoError(t, err)

	return &fixture{
		seedBytes:  seedBytes,
		privateKey: privateKey,
		publicKey:  publicKey,
		committee:  c,
	}
}

func (f *fixture) ledger(t *testing.T, db database.Database) *Ledger {
	t.Helper()
	return New(db, testScheme, f.seedBytes, f.privateKey, f.publicKey, f.committee.AdminPublicKey, zaptest.NewLogger(t))
}

func (f *fixture) transfer(t *testing.T, timestamp, energy uint64) *protocol.Transfer {
	t.Helper()

	tr := &protocol.Transfer{
		Timestamp: timestamp,
		Energy:    energy,
	}
	copy(tr.Source[:], f.publicKey)
	copy(tr.Destination[:], schnorrq.Hash([]byte("destination"), 32))
	require.NoError(t, tr.Sign(testScheme, f.privateKey))
	return tr
}

func TestAppendAndReplay(t *testing.T) {
	t.Parallel()
	r := require.New(t)
	f := newFixture(t)
	db := memdb.New()

	l := f.ledger(t, db)
	replayed, err := l.Replay()
	r.NoError(err)
	r.Empty(replayed.Records)

	r.NoError(l.SetEnergy(10_000_000))

	tr := f.transfer(t, 1_000_000, 2_000_000)
	slot, err := l.AppendTransfer(tr)
	r.NoError(err)
	r.Equal(uint32(1), slot)
	r.Equal(uint32(1), l.Counter())

	// A second ledger over the same database rebuilds the same state.
	restored := f.ledger(t, db)
	replayed, err = restored.Replay()
	r.NoError(err)
	r.Empty(replayed.Skipped)
	r.Len(replayed.Records, 1)
	r.False(replayed.Records[0].Processed())
	r.Equal(tr.Hash(), replayed.Records[0].Transfer.Hash())
	r.Equal(uint64(10_000_000), restored.Energy())
	r.Equal(uint32(1), restored.Counter())
}

func TestAppendRejectsDuplicate(t *testing.T) {
	t.Parallel()
	r := require.New(t)
	f := newFixture(t)

	l := f.ledger(t, memdb.New())
	tr := f.transfer(t, 1_000_000, 2_000_000)

	_, err := l.AppendTransfer(tr)
	r.NoError(err)
	_, err = l.AppendTransfer(tr)
	r.Error(err)
}

func TestSettle(t *testing.T) {
	t.Parallel()
	r := require.New(t)
	f := newFixture(t)
	db := memdb.New()

	l := f.ledger(t, db)
	r.NoError(l.SetEnergy(10_000_000))

	tr := f.transfer(t, 1_000_000, 2_000_000)
	hash := tr.Hash()
	_, err := l.AppendTransfer(tr)
	r.NoError(err)

	receipt, err := f.committee.QuorumReceipt(hash)
	r.NoError(err)
	r.NoError(l.Settle(hash, receipt))

	// The transferred amount left the balance; the record moved to a new
	// slot and the old one is gone.
	r.Equal(uint64(8_000_000), l.Energy())
	r.Equal(uint32(2), l.Counter())
	record := l.Record(hash)
	r.NotNil(record)
	r.True(record.Processed())
	r.Equal(uint32(2), record.Slot)
	has, err := db.Has([]byte("1"))
	r.NoError(err)
	r.False(has)

	// Settling twice is a no-op.
	r.NoError(l.Settle(hash, receipt))
	r.Equal(uint64(8_000_000), l.Energy())

	// Replay verifies the whole receipt chain.
	restored := f.ledger(t, db)
	replayed, err := restored.Replay()
	r.NoError(err)
	r.Len(replayed.Records, 1)
	r.True(replayed.Records[0].Processed())
	r.Equal(uint64(8_000_000), restored.Energy())
}

func TestSettleClampsEnergy(t *testing.T) {
	t.Parallel()
	r := require.New(t)
	f := newFixture(t)

	l := f.ledger(t, memdb.New())
	r.NoError(l.SetEnergy(1_000_000))

	tr := f.transfer(t, 1_000_000, 2_000_000)
	hash := tr.Hash()
	_, err := l.AppendTransfer(tr)
	r.NoError(err)

	receipt, err := f.committee.QuorumReceipt(hash)
	r.NoError(err)
	r.NoError(l.Settle(hash, receipt))
	r.Equal(uint64(0), l.Energy())
}

func TestImportCreditsDestination(t *testing.T) {
	t.Parallel()
	r := require.New(t)
	f := newFixture(t)

	l := f.ledger(t, memdb.New())

	// An inbound transfer: this identity is the destination.
	sourceKey := schnorrq.Hash([]byte("other seed"), 32)
	sourcePublic, err := testScheme.GeneratePublicKey(sourceKey)
	r.NoError(err)
	tr := &protocol.Transfer{Timestamp: 2_000_000, Energy: 5_000_000}
	copy(tr.Source[:], sourcePublic)
	copy(tr.Destination[:], f.publicKey)
	r.NoError(tr.Sign(testScheme, sourceKey))

	receipt, err := f.committee.QuorumReceipt(tr.Hash())
	r.NoError(err)

	r.NoError(l.Import(tr, receipt))
	r.Equal(uint64(5_000_000), l.Energy())
	r.Equal(uint32(1), l.Counter())

	// Idempotent.
	r.NoError(l.Import(tr, receipt))
	r.Equal(uint64(5_000_000), l.Energy())
	r.Equal(uint32(1), l.Counter())
}

func TestReplayDetectsTampering(t *testing.T) {
	t.Parallel()
	r := require.New(t)
	f := newFixture(t)
	db := memdb.New()

	l := f.ledger(t, db)
	r.NoError(l.SetEnergy(10_000_000))
	_, err := l.AppendTransfer(f.transfer(t, 1_000_000, 2_000_000))
	r.NoError(err)

	// Inflate the stored balance without being able to re-sign the
	// essence.
	r.NoError(db.Put([]byte(energyKey), []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}))

	restored := f.ledger(t, db)
	_, err = restored.Replay()
	r.ErrorIs(err, ErrSignatureVerificationFailed)
	r.Equal(uint64(0), restored.Energy())
	r.Equal(uint32(0), restored.Counter())
}

func TestReplaySkipsCorruptRecord(t *testing.T) {
	t.Parallel()
	r := require.New(t)
	f := newFixture(t)
	db := memdb.New()

	l := f.ledger(t, db)
	_, err := l.AppendTransfer(f.transfer(t, 1_000_000, 2_000_000))
	r.NoError(err)

	// Corrupt the record ciphertext. The record fails its signature
	// check and the essence no longer covers the remaining state.
	value, err := db.Get([]byte("1"))
	r.NoError(err)
	value[40] ^= 0x01
	r.NoError(db.Put([]byte("1"), value))

	restored := f.ledger(t, db)
	_, err = restored.Replay()
	r.ErrorIs(err, ErrSignatureVerificationFailed)
}

type failingDB struct {
	database.Database
}

func (db failingDB) NewBatch() database.Batch {
	return failingBatch{db.Database.NewBatch()}
}

type failingBatch struct {
	database.Batch
}

func (failingBatch) Write() error {
	return errors.New("batch refused")
}

func TestRollbackOnFailedBatch(t *testing.T) {
	t.Parallel()
	r := require.New(t)
	f := newFixture(t)
	db := memdb.New()

	l := f.ledger(t, db)
	r.NoError(l.SetEnergy(10_000_000))
	tr := f.transfer(t, 1_000_000, 2_000_000)
	hash := tr.Hash()
	_, err := l.AppendTransfer(tr)
	r.NoError(err)

	broken := f.ledger(t, failingDB{db})
	_, err = broken.Replay()
	r.NoError(err)

	// SetEnergy reverts the balance.
	err = broken.SetEnergy(42)
	r.ErrorIs(err, ErrPersistenceFailed)
	r.Equal(uint64(10_000_000), broken.Energy())

	// A failed settle leaves counter, balance and record untouched.
	receipt, err := f.committee.QuorumReceipt(hash)
	r.NoError(err)
	err = broken.Settle(hash, receipt)
	r.ErrorIs(err, ErrPersistenceFailed)
	r.Equal(uint64(10_000_000), broken.Energy())
	r.Equal(uint32(1), broken.Counter())
	r.False(broken.Record(hash).Processed())

	// A failed append reverts the counter and the hash set.
	other := f.transfer(t, 3_000_000, 4_000_000)
	_, err = broken.AppendTransfer(other)
	r.ErrorIs(err, ErrPersistenceFailed)
	r.Equal(uint32(1), broken.Counter())
	r.Nil(broken.Record(other.Hash()))
}

func TestEssenceOrdering(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	// The essence sorts hashes lexicographically regardless of insertion
	// order.
	a := [32]byte{0x02}
	b := [32]byte{0x01}
	r.Equal(essence(2, 7, [][32]byte{a, b}), essence(2, 7, [][32]byte{b, a}))
	r.NotEqual(essence(2, 7, [][32]byte{a}), essence(2, 7, [][32]byte{b}))
}
