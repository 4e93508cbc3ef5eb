package qubic

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/computor-tools/qubic-go/bitfield"
	"github.com/computor-tools/qubic-go/config"
	"github.com/computor-tools/qubic-go/identity"
	"github.com/computor-tools/qubic-go/internal/bridge"
	"github.com/computor-tools/qubic-go/internal/committee"
	"github.com/computor-tools/qubic-go/internal/edscheme"
	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/quorum"
	"github.com/computor-tools/qubic-go/schnorrq"
	"github.com/computor-tools/qubic-go/transfer"
	"github.com/computor-tools/qubic-go/transport"
)

const testSeed = "vmscmtbcqjbqyqcckegsfdsrcgjpeejobolmimgorsqwgupzhkevreu"

var testScheme = edscheme.Scheme{}

type acceptedConn struct {
	address string
	conn    transport.Conn
}

type pipeDialer struct {
	accepted chan acceptedConn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{accepted: make(chan acceptedConn, 16)}
}

func (d *pipeDialer) Dial(ctx context.Context, address string) (transport.Conn, error) {
	client, server := transport.Pipe()
	select {
	case d.accepted <- acceptedConn{address: address, conn: server}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return client, nil
}

func testConfig(t *testing.T, c *committee.Committee) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Seed = testSeed
	cfg.Peers = []string{"p0", "p1", "p2"}
	cfg.AdminPublicKey = strings.ToUpper(identity.BytesToShiftedHex(c.AdminPublicKey))
	cfg.DataDir = t.TempDir()
	cfg.ConnectionTimeout = time.Second
	cfg.ReconnectTimeout = 10 * time.Millisecond
	cfg.ComputerStateSyncInterval = 20 * time.Millisecond
	cfg.ComputerStateSyncDelay = 20 * time.Millisecond
	cfg.StatusRequestSpacing = time.Millisecond
	return cfg
}

// launchClient launches c and serves every dialed socket with br.
func launchClient(t *testing.T, c *Client, dialer *pipeDialer, br *bridge.Bridge) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, c.Launch(ctx))
	t.Cleanup(func() { _ = c.Terminate(TerminateOptions{CloseConnection: true}) })

	for i := 0; i < protocol.NumberOfConnections; i++ {
		select {
		case accepted := <-dialer.accepted:
			go func() { _ = br.Serve(accepted.conn) }()
			t.Cleanup(func() { _ = accepted.conn.Close() })
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a dial")
		}
	}
}

// waitFor drains the event stream until match accepts an event.
func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatal("event stream closed while waiting")
			}
			if match(event) {
				return event
			}
		case <-deadline:
			t.Fatal("timed out waiting for an event")
		}
	}
}

// inboundEnvelope builds an exported receipt crediting energy to
// destination.
func inboundEnvelope(t *testing.T, c *committee.Committee, destination []byte, energy uint64) string {
	t.Helper()
	r := require.New(t)

	sourceKey := schnorrq.Hash([]byte("counterparty"), schnorrq.PrivateKeySize)
	sourcePublic, err := testScheme.GeneratePublicKey(sourceKey)
	r.NoError(err)

	tr := &protocol.Transfer{Timestamp: 5_000_000, Energy: energy}
	copy(tr.Source[:], sourcePublic)
	copy(tr.Destination[:], destination)
	r.NoError(tr.Sign(testScheme, sourceKey))

	receipt, err := c.QuorumReceipt(tr.Hash())
	r.NoError(err)
	return transfer.EncodeEnvelope(tr, receipt)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	c, err := committee.New(testScheme, []byte("client committee"), 1, 10)
	r.NoError(err)

	cfg := testConfig(t, c)
	cfg.Seed = "too short"
	_, err = New(cfg)
	r.Error(err)

	cfg = testConfig(t, c)
	cfg.AdminPublicKey = strings.ToUpper(identity.BytesToShiftedHex(make([]byte, 32)))
	_, err = New(cfg)
	r.Error(err)

	client, err := New(testConfig(t, c), WithScheme(testScheme))
	r.NoError(err)
	r.Len(client.Identity(), identity.Length)
	r.True(identity.VerifyChecksum(client.Identity()))
}

func TestOperationsRequireLaunch(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	c, err := committee.New(testScheme, []byte("client committee"), 1, 10)
	r.NoError(err)
	client, err := New(testConfig(t, c), WithScheme(testScheme))
	r.NoError(err)

	_, err = client.Transfer("SOMEWHERE", 2_000_000)
	r.ErrorIs(err, errNotLaunched)
	r.ErrorIs(client.ImportReceipt("x"), errNotLaunched)
	r.ErrorIs(client.SetPeer(0, "p9"), errNotLaunched)
	r.ErrorIs(client.Terminate(TerminateOptions{}), errNotLaunched)
	r.Equal(uint64(0), client.Energy())
}

func TestClientLifecycle(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	c, err := committee.New(testScheme, []byte("client committee"), 1, 10)
	r.NoError(err)
	br := bridge.New(c)
	br.SetVote(bitfield.VoteProcessed)

	db := memdb.New()
	dialer := newPipeDialer()
	client, err := New(testConfig(t, c),
		WithScheme(testScheme),
		WithDialer(dialer),
		WithDatabase(db),
		WithLogger(zaptest.NewLogger(t)))
	r.NoError(err)

	events := client.Subscribe(8192)
	launchClient(t, client, dialer, br)

	r.ErrorIs(client.Launch(context.Background()), errAlreadyLaunched)

	waitFor(t, events, func(e Event) bool {
		_, ok := e.(OpenEvent)
		return ok
	})
	agreed := waitFor(t, events, func(e Event) bool {
		info, ok := e.(InfoEvent)
		return ok && info.Status >= 2
	}).(InfoEvent)
	r.NotNil(agreed.ComputerState)
	r.Equal(uint32(10), agreed.ComputerState.Tick)

	// Fund the identity through an imported receipt.
	r.NoError(client.ImportReceipt(inboundEnvelope(t, c, client.publicKey, 10_000_000)))
	r.Equal(uint64(10_000_000), client.Energy())
	waitFor(t, events, func(e Event) bool {
		energy, ok := e.(EnergyEvent)
		return ok && energy.Energy == 10_000_000
	})

	// Submit a transfer and follow it to settlement.
	destinationKey := schnorrq.Hash([]byte("destination"), schnorrq.PublicKeySize)
	destination, err := identity.FromPublicKey(destinationKey)
	r.NoError(err)

	tr, err := client.Transfer(destination, 2_000_000)
	r.NoError(err)
	hash := tr.Hash()

	waitFor(t, events, func(e Event) bool {
		sent, ok := e.(TransferEvent)
		return ok && sent.Transfer.Hash() == hash
	})
	waitFor(t, events, func(e Event) bool {
		status, ok := e.(TransferStatusEvent)
		return ok && status.Hash == hash
	})
	receipt := waitFor(t, events, func(e Event) bool {
		settled, ok := e.(ReceiptEvent)
		return ok && settled.Hash == hash
	}).(ReceiptEvent)
	r.Equal(uint64(8_000_000), client.Energy())
	r.NoError(receipt.Receipt.Verify(testScheme, c.AdminPublicKey, hash))

	// The emitted envelope is importable as-is.
	imported, _, err := transfer.DecodeEnvelope(receipt.ReceiptBase64)
	r.NoError(err)
	r.Equal(hash, imported.Hash())

	r.NoError(client.Terminate(TerminateOptions{CloseConnection: true}))
	for range events {
	}

	// A fresh client over the same database replays the settled state.
	restartDialer := newPipeDialer()
	restarted, err := New(testConfig(t, c),
		WithScheme(testScheme),
		WithDialer(restartDialer),
		WithDatabase(db),
		WithLogger(zaptest.NewLogger(t)))
	r.NoError(err)
	launchClient(t, restarted, restartDialer, br)
	r.Equal(uint64(8_000_000), restarted.Energy())
}

// gatedScheme parks the goroutine performing the next verification after
// trap, until release is closed.
type gatedScheme struct {
	inner   protocol.Scheme
	mtx     sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedScheme(inner protocol.Scheme) *gatedScheme {
	return &gatedScheme{
		inner:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatedScheme) GeneratePublicKey(privateKey []byte) ([]byte, error) {
	return s.inner.GeneratePublicKey(privateKey)
}

func (s *gatedScheme) Sign(privateKey, publicKey, digest []byte) ([]byte, error) {
	return s.inner.Sign(privateKey, publicKey, digest)
}

func (s *gatedScheme) Verify(publicKey, digest, signature []byte) bool {
	s.mtx.Lock()
	armed := s.armed
	s.armed = false
	s.mtx.Unlock()
	if armed {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.inner.Verify(publicKey, digest, signature)
}

func (s *gatedScheme) trap() {
	s.mtx.Lock()
	s.armed = true
	s.mtx.Unlock()
}

func TestTerminateWithResponseInFlight(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	c, err := committee.New(testScheme, []byte("client committee"), 1, 10)
	r.NoError(err)
	br := bridge.New(c)

	scheme := newGatedScheme(testScheme)
	dialer := newPipeDialer()
	client, err := New(testConfig(t, c),
		WithScheme(scheme),
		WithDialer(dialer),
		WithDatabase(memdb.New()),
		WithLogger(zaptest.NewLogger(t)))
	r.NoError(err)

	events := client.Subscribe(1024)
	launchClient(t, client, dialer, br)

	waitFor(t, events, func(e Event) bool {
		info, ok := e.(InfoEvent)
		return ok && info.Status >= 2
	})

	// Park a socket goroutine inside the verification of the next
	// snapshot response, so it is mid-delivery when Terminate runs.
	scheme.trap()
	select {
	case <-scheme.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot verification started")
	}

	done := make(chan error, 1)
	go func() { done <- client.Terminate(TerminateOptions{CloseConnection: true}) }()
	time.Sleep(50 * time.Millisecond)
	close(scheme.release)

	select {
	case err := <-done:
		r.NoError(err)
	case <-time.After(10 * time.Second):
		t.Fatal("terminate did not return with a response in flight")
	}

	_, err = client.Transfer("SOMEWHERE", 2_000_000)
	r.ErrorIs(err, errNotLaunched)
	for range events {
	}
}

func TestEnvironmentEvents(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	c, err := committee.New(testScheme, []byte("client committee"), 1, 10)
	r.NoError(err)
	br := bridge.New(c)

	dialer := newPipeDialer()
	client, err := New(testConfig(t, c),
		WithScheme(testScheme),
		WithDialer(dialer),
		WithDatabase(memdb.New()),
		WithLogger(zaptest.NewLogger(t)))
	r.NoError(err)

	events := client.Subscribe(1024)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.NoError(client.Launch(ctx))
	t.Cleanup(func() { _ = client.Terminate(TerminateOptions{CloseConnection: true}) })

	conns := make([]transport.Conn, 0, protocol.NumberOfConnections)
	for i := 0; i < protocol.NumberOfConnections; i++ {
		select {
		case accepted := <-dialer.accepted:
			conns = append(conns, accepted.conn)
			go func() { _ = br.Serve(accepted.conn) }()
			t.Cleanup(func() { _ = accepted.conn.Close() })
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a dial")
		}
	}

	updates := make(chan quorum.EnvironmentUpdate, 16)
	r.NoError(client.AddEnvironmentListener("weather", updates))

	// Push the same report on every socket; it is delivered once.
	report := &protocol.EnvironmentReport{
		Digest: quorum.EnvironmentDigest("weather"),
		Tick:   7,
		Data:   []byte("sunny"),
	}
	for _, conn := range conns {
		r.NoError(conn.Send(protocol.NewSubTypedResponse(protocol.SubKindEnvironment, 1, report.Marshal())))
	}

	event := waitFor(t, events, func(e Event) bool {
		_, ok := e.(EnvironmentEvent)
		return ok
	}).(EnvironmentEvent)
	r.Equal("weather", event.Environment)
	r.Equal(uint32(7), event.Tick)
	r.Equal([]byte("sunny"), event.Data)

	update := <-updates
	r.Equal(uint32(7), update.Tick)
	select {
	case extra := <-updates:
		t.Fatalf("duplicate environment update for tick %d", extra.Tick)
	case <-time.After(100 * time.Millisecond):
	}

	r.NoError(client.RemoveEnvironmentListener("weather"))
}
