package qubic

import (
	"sync"

	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/protocol"
)

// Event is the typed sum of everything the client reports. Subscribers
// receive events on a channel and match on the concrete type.
type Event interface {
	isEvent()
}

// OpenEvent reports a peer socket that finished connecting.
type OpenEvent struct {
	Slot    int
	Address string
}

// CloseEvent reports a peer socket that failed or was closed.
type CloseEvent struct {
	Slot    int
	Address string
	Err     error
}

// ErrorEvent reports a non-fatal failure.
type ErrorEvent struct {
	Err error
}

// InfoEvent reports computer-state synchronization progress: the number
// of agreeing peers, the agreed snapshot and the current peer set.
type InfoEvent struct {
	Status        int
	ComputerState *protocol.ComputerState
	Peers         []string
}

// TransferEvent reports a transfer that was persisted and broadcast.
type TransferEvent struct {
	Transfer *protocol.Transfer
}

// ReceiptEvent reports a settled transfer. ReceiptBase64 is the export
// envelope accepted by ImportReceipt.
type ReceiptEvent struct {
	Hash          [32]byte
	Receipt       *protocol.Receipt
	ReceiptBase64 string
}

// EnergyEvent reports the energy balance after a settlement.
type EnergyEvent struct {
	Energy uint64
}

// TransferStatusEvent reports aggregate committee votes about a pending
// transfer.
type TransferStatusEvent struct {
	Hash      [32]byte
	Unseen    int
	Seen      int
	Processed int
	Epoch     uint16
	Tick      uint32
}

// EnvironmentEvent reports an environment update for a subscribed
// environment.
type EnvironmentEvent struct {
	Environment string
	Digest      [32]byte
	Tick        uint32
	Data        []byte
}

func (OpenEvent) isEvent()           {}
func (CloseEvent) isEvent()          {}
func (ErrorEvent) isEvent()          {}
func (InfoEvent) isEvent()           {}
func (TransferEvent) isEvent()       {}
func (ReceiptEvent) isEvent()        {}
func (EnergyEvent) isEvent()         {}
func (TransferStatusEvent) isEvent() {}
func (EnvironmentEvent) isEvent()    {}

// broadcaster fans events out to subscriber channels. Delivery is
// non-blocking: a subscriber that stops draining loses events rather
// than stalling the client.
type broadcaster struct {
	mtx    sync.Mutex
	subs   map[chan Event]struct{}
	logger *zap.Logger
}

func newBroadcaster(logger *zap.Logger) *broadcaster {
	return &broadcaster{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

func (b *broadcaster) subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

func (b *broadcaster) unsubscribeReceiver(ch <-chan Event) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for sub := range b.subs {
		if (<-chan Event)(sub) == ch {
			delete(b.subs, sub)
			close(sub)
			return
		}
	}
}

func (b *broadcaster) publish(event Event) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("event subscriber full; dropping event")
		}
	}
}

func (b *broadcaster) close() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan Event]struct{})
}
