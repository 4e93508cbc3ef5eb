// Package quorum maintains the client's three peer connections and turns
// them into a safe source of truth: every request fans out to all peers
// and replies only count once enough of them agree byte-for-byte.
package quorum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/transport"
)

// ErrInvalidResponses is reported when all three peers answered a
// request round and no two answers matched.
var ErrInvalidResponses = errors.New("invalid responses")

// environmentCacheSize caps the dedup cache of environment reports.
// Completed ticks are never explicitly cleaned up; the LRU bounds the
// map instead.
const environmentCacheSize = 256

// Info is one computer-state synchronization update. Status counts the
// peers whose snapshot signatures matched: 0 means the engine lost
// agreement, 1 a single verified response, 2 and 3 a quorum of the
// connected peers. State is the agreed snapshot, nil at status 0.
type Info struct {
	Status int
	State  *protocol.ComputerState
	Peers  []string
}

// Hooks receive engine callbacks. Nil fields are skipped. Hooks are
// invoked from engine goroutines and must not block.
type Hooks struct {
	Open           func(slot int, address string)
	Close          func(slot int, address string, err error)
	Info           func(info Info)
	TransferStatus func(report TransferStatusReport)
	Environment    func(update EnvironmentUpdate)
	Error          func(err error)
}

// Config carries the engine dependencies and timing knobs.
type Config struct {
	Peers          []string
	Dialer         transport.Dialer
	Scheme         protocol.Scheme
	AdminPublicKey []byte
	Timestamps     *protocol.TimestampSource

	ConnectionTimeout time.Duration
	ReconnectTimeout  time.Duration
	SyncInterval      time.Duration
	SyncDelay         time.Duration

	// StatusRequestSpacing separates the per-computor requests of a
	// transfer-status poll; zero means the default of 100 ms.
	StatusRequestSpacing time.Duration

	Hooks  Hooks
	Logger *zap.Logger
}

// Engine owns the peer sockets, the computer-state synchronization loop
// and the transfer-status polls.
type Engine struct {
	dialer     transport.Dialer
	scheme     protocol.Scheme
	adminKey   []byte
	timestamps *protocol.TimestampSource
	hooks      Hooks
	logger     *zap.Logger

	connectionTimeout time.Duration
	reconnectTimeout  time.Duration
	syncInterval      time.Duration
	syncDelay         time.Duration
	statusSpacing     time.Duration

	mtx            sync.Mutex
	peers          [protocol.NumberOfConnections]string
	conns          [protocol.NumberOfConnections]transport.Conn
	queue          peerQueue
	round          *stateRound
	state          *protocol.ComputerState
	stateStatus    int
	lastAgreement  time.Time
	desyncReported bool
	polls          map[[32]byte]*statusPoll
	subs           map[[32]byte]*environmentSub
	seenReports    *lru.Cache

	runCtx context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds an engine. Launch must be called before it does anything.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Peers) != protocol.NumberOfConnections {
		return nil, fmt.Errorf("invalid `Peers`; expected: %d addresses, given: %d", protocol.NumberOfConnections, len(cfg.Peers))
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("invalid `Dialer`; expected: non-nil")
	}
	if cfg.Timestamps == nil {
		cfg.Timestamps = protocol.NewTimestampSource(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.StatusRequestSpacing == 0 {
		cfg.StatusRequestSpacing = statusRequestSpacing
	}

	seen, err := lru.New(environmentCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dialer:            cfg.Dialer,
		scheme:            cfg.Scheme,
		adminKey:          cfg.AdminPublicKey,
		timestamps:        cfg.Timestamps,
		hooks:             cfg.Hooks,
		logger:            cfg.Logger,
		connectionTimeout: cfg.ConnectionTimeout,
		reconnectTimeout:  cfg.ReconnectTimeout,
		syncInterval:      cfg.SyncInterval,
		syncDelay:         cfg.SyncDelay,
		statusSpacing:     cfg.StatusRequestSpacing,
		polls:             make(map[[32]byte]*statusPoll),
		subs:              make(map[[32]byte]*environmentSub),
		seenReports:       seen,
	}
	copy(e.peers[:], cfg.Peers)
	return e, nil
}

// Launch starts the socket managers and the state synchronization loop.
func (e *Engine) Launch(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	group, runCtx := errgroup.WithContext(runCtx)
	e.group = group
	e.runCtx = runCtx

	for slot := 0; slot < protocol.NumberOfConnections; slot++ {
		slot := slot
		group.Go(func() error {
			e.runSocket(runCtx, slot)
			return nil
		})
	}
	group.Go(func() error {
		e.runStateSync(runCtx)
		return nil
	})
}

// Terminate stops the engine and waits for its goroutines.
func (e *Engine) Terminate() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	_ = e.group.Wait()
}

// SetPeer points connection slot at address. The socket is restarted
// only when the address actually changes.
func (e *Engine) SetPeer(slot int, address string) error {
	if slot < 0 || slot >= protocol.NumberOfConnections {
		return fmt.Errorf("invalid `slot`; expected: 0..%d, given: %d", protocol.NumberOfConnections-1, slot)
	}
	if address == "" {
		return fmt.Errorf("invalid `address`; expected: non-empty")
	}

	e.mtx.Lock()
	if e.peers[slot] == address {
		e.mtx.Unlock()
		return nil
	}
	e.peers[slot] = address
	conn := e.conns[slot]
	e.mtx.Unlock()

	// Failing the read loop sends the socket through the reconnect path,
	// which picks up the new address.
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

// Peers returns the current peer addresses by slot.
func (e *Engine) Peers() []string {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return append([]string(nil), e.peers[:]...)
}

// State returns the current agreed snapshot, or nil before the first
// agreement.
func (e *Engine) State() *protocol.ComputerState {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.state
}

// Broadcast fans data out to every open socket.
func (e *Engine) Broadcast(data []byte) {
	e.mtx.Lock()
	conns := e.conns
	e.mtx.Unlock()

	for slot, conn := range conns {
		if conn == nil {
			continue
		}
		if err := conn.Send(data); err != nil {
			e.logger.Debug("broadcast send failed", zap.Int("slot", slot), zap.Error(err))
		}
	}
}

// runSocket drives one connection slot through its lifecycle: dial with
// a deadline, serve the read loop, rotate to a gossiped peer on failure
// and retry after the reconnect delay.
func (e *Engine) runSocket(ctx context.Context, slot int) {
	for {
		address := e.peerAddress(slot)

		dialCtx, cancel := context.WithTimeout(ctx, e.connectionTimeout)
		conn, err := e.dialer.Dial(dialCtx, address)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Debug("dial failed", zap.Int("slot", slot), zap.String("address", address), zap.Error(err))
			e.rotatePeer(slot)
		} else {
			e.attach(slot, conn)
			e.emitOpen(slot, address)
			e.onOpen(slot, conn)

			err = e.serve(ctx, slot, conn)
			e.detach(slot, conn)
			e.emitClose(slot, address, err)
			if ctx.Err() != nil {
				return
			}
			e.rotatePeer(slot)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.reconnectTimeout):
		}
	}
}

// serve pumps inbound messages until the connection fails or ctx ends.
func (e *Engine) serve(ctx context.Context, slot int, conn transport.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		message, err := conn.Receive()
		if err != nil {
			return err
		}
		if err := e.handleMessage(slot, message); err != nil {
			// A malformed frame poisons the whole stream; drop the
			// socket and let the reconnect path recover.
			_ = conn.Close()
			return err
		}
	}
}

// onOpen issues the per-connection bootstrap: a public-peer exchange,
// re-subscription of environments and a replay of the request sets of
// every outstanding transfer-status poll.
func (e *Engine) onOpen(slot int, conn transport.Conn) {
	if err := conn.Send(protocol.NewExchangePublicPeersRequest()); err != nil {
		e.logger.Debug("peer exchange request failed", zap.Int("slot", slot), zap.Error(err))
		return
	}

	e.mtx.Lock()
	pending := make([][]byte, 0)
	for _, sub := range e.subs {
		pending = append(pending, protocol.NewEnvironmentRequest(e.timestamps.Next(), sub.digest))
	}
	for _, poll := range e.polls {
		pending = append(pending, poll.issued...)
	}
	e.mtx.Unlock()

	for _, request := range pending {
		if err := conn.Send(request); err != nil {
			e.logger.Debug("request replay failed", zap.Int("slot", slot), zap.Error(err))
			return
		}
	}
}

// handleMessage splits one inbound message into frames and dispatches
// them.
func (e *Engine) handleMessage(slot int, message []byte) error {
	frames, err := protocol.Split(message)
	if err != nil {
		return err
	}

	for _, frame := range frames {
		switch frame.Kind {
		case protocol.KindSubTyped:
			sub, err := protocol.ParseSubTyped(frame.Payload)
			if err != nil {
				return err
			}
			switch sub.SubKind {
			case protocol.SubKindComputerState:
				e.handleStateResponse(sub)
			case protocol.SubKindTransferStatus:
				e.handleStatusResponse(sub)
			case protocol.SubKindEnvironment:
				e.handleEnvironmentResponse(sub)
			default:
				e.logger.Debug("unknown sub-kind", zap.Int("slot", slot), zap.Uint8("subKind", sub.SubKind))
			}
		case protocol.KindExchangePublicPeers:
			e.handlePeersResponse(frame.Payload)
		default:
			e.logger.Debug("unknown request kind", zap.Int("slot", slot), zap.Uint16("kind", frame.Kind))
		}
	}
	return nil
}

func (e *Engine) peerAddress(slot int) string {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.peers[slot]
}

func (e *Engine) attach(slot int, conn transport.Conn) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.conns[slot] = conn
}

func (e *Engine) detach(slot int, conn transport.Conn) {
	_ = conn.Close()
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.conns[slot] == conn {
		e.conns[slot] = nil
	}
}

// rotatePeer swaps slot to the next gossiped public peer, if any, and
// asks an open socket for a refill once the queue drains.
func (e *Engine) rotatePeer(slot int) {
	e.mtx.Lock()
	next, ok := e.queue.pop()
	if ok {
		e.peers[slot] = next
	}
	drained := ok && e.queue.empty()
	var refill transport.Conn
	if drained {
		for _, conn := range e.conns {
			if conn != nil {
				refill = conn
				break
			}
		}
	}
	e.mtx.Unlock()

	if refill != nil {
		if err := refill.Send(protocol.NewExchangePublicPeersRequest()); err != nil {
			e.logger.Debug("peer refill request failed", zap.Error(err))
		}
	}
}

// handlePeersResponse appends gossiped addresses to the rotation queue.
func (e *Engine) handlePeersResponse(payload []byte) {
	gossiped := protocol.ParsePeers(payload)

	e.mtx.Lock()
	defer e.mtx.Unlock()
	for _, address := range gossiped {
		current := false
		for _, peer := range e.peers {
			if peer == address {
				current = true
				break
			}
		}
		if !current {
			e.queue.push(address)
		}
	}
}

func (e *Engine) emitOpen(slot int, address string) {
	e.logger.Info("peer socket open", zap.Int("slot", slot), zap.String("address", address))
	if e.hooks.Open != nil {
		e.hooks.Open(slot, address)
	}
}

func (e *Engine) emitClose(slot int, address string, err error) {
	e.logger.Info("peer socket closed", zap.Int("slot", slot), zap.String("address", address), zap.Error(err))
	if e.hooks.Close != nil {
		e.hooks.Close(slot, address, err)
	}
}

func (e *Engine) emitInfo(info Info) {
	if e.hooks.Info != nil {
		e.hooks.Info(info)
	}
}

func (e *Engine) emitError(err error) {
	if e.hooks.Error != nil {
		e.hooks.Error(err)
	}
}
