// Package transfer implements the transfer lifecycle: building and
// signing records, broadcasting them, polling the committee for status
// and settling receipts into the local ledger.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/identity"
	"github.com/computor-tools/qubic-go/ledger"
	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/quorum"
)

// ErrInsufficientEnergy is returned when a transfer exceeds the current
// local balance.
var ErrInsufficientEnergy = errors.New("insufficient energy")

const (
	// statusPollMinInterval is the least time between two status polls
	// of the same transfer: two full request sweeps of the committee.
	statusPollMinInterval = protocol.NumberOfComputors * 100 * 2 * time.Millisecond

	// staleAge is how much older than the current timestamp an
	// unprocessed record must be to get re-broadcast at launch, in
	// wire-timestamp units.
	staleAge = 60 * 1_000_000
)

// Events receive pipeline callbacks. Nil fields are skipped. For a
// settled transfer Energy fires before Receipt.
type Events struct {
	Transfer func(t *protocol.Transfer)
	Energy   func(energy uint64)
	Receipt  func(hash [32]byte, receipt *protocol.Receipt, encoded string)
	Error    func(err error)
}

// Pipeline drives transfers from construction to settlement.
type Pipeline struct {
	scheme     protocol.Scheme
	engine     *quorum.Engine
	ledger     *ledger.Ledger
	timestamps *protocol.TimestampSource
	adminKey   []byte
	privateKey []byte
	source     [32]byte
	events     Events
	logger     *zap.Logger

	mtx     sync.Mutex
	pending map[[32]byte]*pendingTransfer
}

type pendingTransfer struct {
	transfer *protocol.Transfer
	lastPoll time.Time
	polling  bool
}

// New builds a pipeline for the identity holding privateKey; source is
// its public key.
func New(scheme protocol.Scheme, engine *quorum.Engine, led *ledger.Ledger, timestamps *protocol.TimestampSource, adminKey, privateKey, source []byte, events Events, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		scheme:     scheme,
		engine:     engine,
		ledger:     led,
		timestamps: timestamps,
		adminKey:   adminKey,
		privateKey: privateKey,
		events:     events,
		logger:     logger,
		pending:    make(map[[32]byte]*pendingTransfer),
	}
	copy(p.source[:], source)
	return p
}

// Submit builds, signs, persists and broadcasts a transfer of energy to
// destination. The record is durable before the first byte goes on the
// wire. Confirmation is asynchronous: the pipeline polls the committee
// once the engine reports an agreed computer state.
func (p *Pipeline) Submit(destination string, energy uint64) (*protocol.Transfer, error) {
	destinationKey, err := identity.PublicKey(destination)
	if err != nil {
		return nil, err
	}
	if energy < protocol.MinEnergyAmount {
		return nil, fmt.Errorf("invalid `energy`; expected: >= %d, given: %d", protocol.MinEnergyAmount, energy)
	}
	if energy > p.ledger.Energy() {
		return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientEnergy, p.ledger.Energy(), energy)
	}

	t := &protocol.Transfer{
		Source:    p.source,
		Timestamp: p.timestamps.Next(),
		Energy:    energy,
	}
	copy(t.Destination[:], destinationKey)
	if err := t.Sign(p.scheme, p.privateKey); err != nil {
		return nil, err
	}

	frame, err := protocol.NewBroadcastTransferRequest(t.Marshal())
	if err != nil {
		return nil, err
	}

	if _, err := p.ledger.AppendTransfer(t); err != nil {
		return nil, err
	}
	p.engine.Broadcast(frame)
	p.track(t)

	if p.events.Transfer != nil {
		p.events.Transfer(t)
	}
	return t, nil
}

// Resume re-registers unprocessed records after a launch replay and
// re-broadcasts the stale ones, now being the current wire timestamp.
func (p *Pipeline) Resume(records []*ledger.Record, now uint64) {
	for _, record := range records {
		if record.Processed() {
			continue
		}
		p.track(record.Transfer)

		if record.Transfer.Timestamp+staleAge <= now {
			frame, err := protocol.NewBroadcastTransferRequest(record.Transfer.Marshal())
			if err != nil {
				continue
			}
			p.logger.Info("re-broadcasting stale transfer", zap.Uint64("timestamp", record.Transfer.Timestamp))
			p.engine.Broadcast(frame)
		}
	}
}

// NotifyComputerState reacts to an engine info update: at status 2 and
// above every pending transfer whose backoff elapsed gets a status poll.
func (p *Pipeline) NotifyComputerState(ctx context.Context, status int) {
	if status < 2 {
		return
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()
	for hash, pending := range p.pending {
		if pending.polling || time.Since(pending.lastPoll) < statusPollMinInterval {
			continue
		}
		pending.polling = true
		pending.lastPoll = time.Now()
		hash := hash
		go p.poll(ctx, hash)
	}
}

// Pending returns the hashes of transfers awaiting settlement.
func (p *Pipeline) Pending() [][32]byte {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	hashes := make([][32]byte, 0, len(p.pending))
	for hash := range p.pending {
		hashes = append(hashes, hash)
	}
	return hashes
}

func (p *Pipeline) track(t *protocol.Transfer) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	hash := t.Hash()
	if _, ok := p.pending[hash]; !ok {
		p.pending[hash] = &pendingTransfer{transfer: t}
	}
}

// poll asks the committee for the transfer's status and settles the
// record when a processed receipt comes back.
func (p *Pipeline) poll(ctx context.Context, hash [32]byte) {
	report, err := p.engine.GetTransferStatus(ctx, hash)

	p.mtx.Lock()
	if pending, ok := p.pending[hash]; ok {
		pending.polling = false
	}
	p.mtx.Unlock()

	if err != nil {
		p.logger.Debug("transfer status poll failed", zap.Error(err))
		return
	}
	if report.Receipt == nil {
		// Concluded without processing; the next info update retries.
		p.logger.Info("transfer not processed yet",
			zap.Int("unseen", report.Unseen), zap.Int("seen", report.Seen), zap.Int("processed", report.Processed))
		return
	}

	if err := p.settle(hash, report.Receipt); err != nil {
		p.emitError(err)
	}
}

// settle rewrites the ledger record as processed and emits the energy
// and receipt events, in that order.
func (p *Pipeline) settle(hash [32]byte, receipt *protocol.Receipt) error {
	record := p.ledger.Record(hash)
	if record == nil {
		return fmt.Errorf("settling unknown transfer")
	}

	// Replay re-verifies every persisted receipt; one that cannot pass
	// must not be stored.
	if err := receipt.Verify(p.scheme, p.adminKey, hash); err != nil {
		return fmt.Errorf("settlement receipt did not verify: %w", err)
	}

	if err := p.ledger.Settle(hash, receipt); err != nil {
		return err
	}

	p.mtx.Lock()
	delete(p.pending, hash)
	p.mtx.Unlock()

	if p.events.Energy != nil {
		p.events.Energy(p.ledger.Energy())
	}
	if p.events.Receipt != nil {
		p.events.Receipt(hash, receipt, EncodeEnvelope(record.Transfer, receipt))
	}
	return nil
}

func (p *Pipeline) emitError(err error) {
	p.logger.Warn("transfer pipeline error", zap.Error(err))
	if p.events.Error != nil {
		p.events.Error(err)
	}
}
