// Package qubic is a client for the quorum-operated distributed ledger.
// A local identity observes committee state, submits signed energy
// transfers and collects cryptographically verifiable receipts agreed by
// a supermajority of the committee.
//
// The client composes a quorum engine over three peer connections, an
// encrypted local ledger and a transfer pipeline; it forwards a small,
// explicit surface of each and reports progress through typed events.
package qubic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"go.uber.org/zap"

	"github.com/computor-tools/qubic-go/config"
	"github.com/computor-tools/qubic-go/identity"
	"github.com/computor-tools/qubic-go/ledger"
	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/quorum"
	"github.com/computor-tools/qubic-go/schnorrq"
	"github.com/computor-tools/qubic-go/transfer"
	"github.com/computor-tools/qubic-go/transport"
)

// Error kinds surfaced by the client. Subpackage sentinels are
// re-exported so embedders match on one package.
var (
	ErrInvalidChecksum             = identity.ErrInvalidChecksum
	ErrInsufficientEnergy          = transfer.ErrInsufficientEnergy
	ErrInvalidResponses            = quorum.ErrInvalidResponses
	ErrPersistenceFailed           = ledger.ErrPersistenceFailed
	ErrSignatureVerificationFailed = ledger.ErrSignatureVerificationFailed

	errNotLaunched     = errors.New("client not launched")
	errAlreadyLaunched = errors.New("client already launched")
)

// Client is one identity's connection to the computer.
type Client struct {
	cfg    *config.Config
	logger *zap.Logger
	scheme protocol.Scheme
	dialer transport.Dialer
	db     database.Database
	clock  func() time.Time

	id         string
	publicKey  []byte
	privateKey []byte
	adminKey   []byte
	timestamps *protocol.TimestampSource
	events     *broadcaster

	mtx      sync.Mutex
	launched bool
	ownsDB   bool
	runCtx   context.Context
	cancel   context.CancelFunc
	ledger   *ledger.Ledger
	engine   *quorum.Engine
	pipeline *transfer.Pipeline
}

// New validates cfg, derives the identity and prepares a client. Nothing
// is opened until Launch.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: zap.NewNop(),
		scheme: schnorrq.Scheme{},
		dialer: &transport.WebSocketDialer{},
	}
	for _, opt := range opts {
		opt(c)
	}

	adminKey, err := cfg.AdminKey()
	if err != nil {
		return nil, err
	}
	c.adminKey = adminKey

	privateKey, err := identity.PrivateKey(cfg.Seed, cfg.Index)
	if err != nil {
		return nil, err
	}
	c.privateKey = privateKey

	publicKey, err := c.scheme.GeneratePublicKey(privateKey)
	if err != nil {
		return nil, err
	}
	c.publicKey = publicKey

	id, err := identity.FromPublicKey(publicKey)
	if err != nil {
		return nil, err
	}
	c.id = id

	c.timestamps = protocol.NewTimestampSource(c.clock)
	c.events = newBroadcaster(c.logger)
	return c, nil
}

// Identity returns the 70-character identity string.
func (c *Client) Identity() string {
	return c.id
}

// Energy returns the current local energy balance; zero before Launch.
func (c *Client) Energy() uint64 {
	c.mtx.Lock()
	led := c.ledger
	c.mtx.Unlock()
	if led == nil {
		return 0
	}
	return led.Energy()
}

// Subscribe returns a channel of client events. A subscriber that stops
// draining loses events; size the buffer accordingly.
func (c *Client) Subscribe(buffer int) <-chan Event {
	return c.events.subscribe(buffer)
}

// Unsubscribe closes and removes a channel returned by Subscribe.
func (c *Client) Unsubscribe(ch <-chan Event) {
	c.events.unsubscribeReceiver(ch)
}

// Launch opens the ledger database, replays and verifies the persisted
// state, connects the quorum engine and resumes unsettled transfers.
func (c *Client) Launch(ctx context.Context) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.launched {
		return errAlreadyLaunched
	}

	if c.db == nil {
		db, err := badgerdb.New(c.cfg.DatabaseDir(c.id), nil, "", nil)
		if err != nil {
			return fmt.Errorf("open ledger database: %w", err)
		}
		c.db = db
		c.ownsDB = true
	}

	seedBytes, err := identity.SeedToBytes(c.cfg.Seed)
	if err != nil {
		return err
	}
	c.ledger = ledger.New(c.db, c.scheme, seedBytes, c.privateKey, c.publicKey, c.adminKey, c.logger)

	replayed, err := c.ledger.Replay()
	if err != nil {
		c.events.publish(ErrorEvent{Err: err})
		c.closeDBLocked()
		return err
	}
	for _, skipErr := range replayed.Skipped {
		c.events.publish(ErrorEvent{Err: skipErr})
	}

	engine, err := quorum.New(quorum.Config{
		Peers:                c.cfg.Peers,
		Dialer:               c.dialer,
		Scheme:               c.scheme,
		AdminPublicKey:       c.adminKey,
		Timestamps:           c.timestamps,
		ConnectionTimeout:    c.cfg.ConnectionTimeout,
		ReconnectTimeout:     c.cfg.ReconnectTimeout,
		SyncInterval:         c.cfg.ComputerStateSyncInterval,
		SyncDelay:            c.cfg.ComputerStateSyncDelay,
		StatusRequestSpacing: c.cfg.StatusRequestSpacing,
		Hooks: quorum.Hooks{
			Open: func(slot int, address string) {
				c.events.publish(OpenEvent{Slot: slot, Address: address})
			},
			Close: func(slot int, address string, err error) {
				c.events.publish(CloseEvent{Slot: slot, Address: address, Err: err})
			},
			Info:           c.onInfo,
			TransferStatus: c.onTransferStatus,
			Environment: func(update quorum.EnvironmentUpdate) {
				c.events.publish(EnvironmentEvent{
					Environment: update.Environment,
					Digest:      update.Digest,
					Tick:        update.Tick,
					Data:        update.Data,
				})
			},
			Error: func(err error) {
				c.events.publish(ErrorEvent{Err: err})
			},
		},
		Logger: c.logger,
	})
	if err != nil {
		c.closeDBLocked()
		return err
	}
	c.engine = engine

	c.pipeline = transfer.New(c.scheme, engine, c.ledger, c.timestamps, c.adminKey, c.privateKey, c.publicKey, transfer.Events{
		Transfer: func(t *protocol.Transfer) {
			c.events.publish(TransferEvent{Transfer: t})
		},
		Energy: func(energy uint64) {
			c.events.publish(EnergyEvent{Energy: energy})
		},
		Receipt: c.onReceipt,
		Error: func(err error) {
			c.events.publish(ErrorEvent{Err: err})
		},
	}, c.logger)

	c.runCtx, c.cancel = context.WithCancel(ctx)
	engine.Launch(c.runCtx)
	c.pipeline.Resume(replayed.Records, c.timestamps.Next())

	c.launched = true
	c.logger.Info("client launched",
		zap.String("identity", c.id), zap.Uint64("energy", c.ledger.Energy()), zap.Uint32("counter", c.ledger.Counter()))
	return nil
}

// TerminateOptions controls Terminate.
type TerminateOptions struct {
	// CloseConnection also tears down the peer sockets. Without it the
	// client stops polling and persisting but leaves sockets to the
	// process exit.
	CloseConnection bool
}

// Terminate stops the client. The event stream is closed last.
func (c *Client) Terminate(opts TerminateOptions) error {
	c.mtx.Lock()
	if !c.launched {
		c.mtx.Unlock()
		return errNotLaunched
	}
	cancel, engine := c.cancel, c.engine
	c.launched = false
	c.engine = nil
	c.pipeline = nil
	c.mtx.Unlock()

	// Engine goroutines deliver hooks that take the client mutex; the
	// wait for them must run unlocked.
	cancel()
	if opts.CloseConnection {
		engine.Terminate()
	}

	c.mtx.Lock()
	c.closeDBLocked()
	c.mtx.Unlock()
	c.events.close()
	return nil
}

// Transfer signs, persists and broadcasts a transfer of energy to the
// destination identity. Settlement is reported through the event stream.
func (c *Client) Transfer(destination string, energy uint64) (*protocol.Transfer, error) {
	c.mtx.Lock()
	pipeline := c.pipeline
	c.mtx.Unlock()
	if pipeline == nil {
		return nil, errNotLaunched
	}
	return pipeline.Submit(destination, energy)
}

// ImportReceipt verifies an exported receipt envelope and integrates it
// into the local ledger, crediting energy when this identity is the
// destination.
func (c *Client) ImportReceipt(encoded string) error {
	c.mtx.Lock()
	pipeline := c.pipeline
	c.mtx.Unlock()
	if pipeline == nil {
		return errNotLaunched
	}
	return pipeline.Import(encoded)
}

// SetPeer points connection slot i at address; the socket restarts only
// when the address changes.
func (c *Client) SetPeer(i int, address string) error {
	c.mtx.Lock()
	engine := c.engine
	c.mtx.Unlock()
	if engine == nil {
		return errNotLaunched
	}
	return engine.SetPeer(i, address)
}

// AddEnvironmentListener subscribes ch to updates of environment.
func (c *Client) AddEnvironmentListener(environment string, ch chan<- quorum.EnvironmentUpdate) error {
	c.mtx.Lock()
	engine := c.engine
	c.mtx.Unlock()
	if engine == nil {
		return errNotLaunched
	}
	engine.AddEnvironmentListener(environment, ch)
	return nil
}

// RemoveEnvironmentListener drops the subscription of environment.
func (c *Client) RemoveEnvironmentListener(environment string) error {
	c.mtx.Lock()
	engine := c.engine
	c.mtx.Unlock()
	if engine == nil {
		return errNotLaunched
	}
	engine.RemoveEnvironmentListener(environment)
	return nil
}

func (c *Client) onInfo(info quorum.Info) {
	c.events.publish(InfoEvent{
		Status:        info.Status,
		ComputerState: info.State,
		Peers:         info.Peers,
	})

	c.mtx.Lock()
	pipeline, runCtx := c.pipeline, c.runCtx
	c.mtx.Unlock()
	if pipeline != nil {
		pipeline.NotifyComputerState(runCtx, info.Status)
	}
}

func (c *Client) onTransferStatus(report quorum.TransferStatusReport) {
	c.events.publish(TransferStatusEvent{
		Hash:      report.Hash,
		Unseen:    report.Unseen,
		Seen:      report.Seen,
		Processed: report.Processed,
		Epoch:     report.Epoch,
		Tick:      report.Tick,
	})
}

func (c *Client) onReceipt(hash [32]byte, receipt *protocol.Receipt, encoded string) {
	c.events.publish(ReceiptEvent{Hash: hash, Receipt: receipt, ReceiptBase64: encoded})
}

func (c *Client) closeDBLocked() {
	if c.ownsDB && c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Warn("closing ledger database", zap.Error(err))
		}
		c.db = nil
		c.ownsDB = false
	}
}
