package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	qubic "github.com/computor-tools/qubic-go"
	"github.com/computor-tools/qubic-go/bitfield"
	"github.com/computor-tools/qubic-go/config"
	"github.com/computor-tools/qubic-go/identity"
	"github.com/computor-tools/qubic-go/internal/committee"
	"github.com/computor-tools/qubic-go/internal/edscheme"
	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/schnorrq"
	"github.com/computor-tools/qubic-go/transfer"
)

const testSeed = "kbdmjhiaunqyjlcfxrfcbkbozfwfkrkcpbgebpzbbhlnejbhbtodglq"

var testScheme = edscheme.Scheme{}

// TestClientEndToEnd drives a full client against the harness over real
// WebSockets: agreement, funding by import, transfer, settlement.
func TestClientEndToEnd(t *testing.T) {
	r := require.New(t)

	c, err := committee.New(testScheme, []byte("integration committee"), 3, 1000)
	r.NoError(err)

	h, err := NewHarness(c)
	r.NoError(err)
	t.Cleanup(func() { r.NoError(h.TearDown()) })
	h.Bridge.SetVote(bitfield.VoteProcessed)

	cfg := config.DefaultConfig()
	cfg.Seed = testSeed
	cfg.Peers = h.Addresses()
	cfg.AdminPublicKey = strings.ToUpper(identity.BytesToShiftedHex(c.AdminPublicKey))
	cfg.DataDir = t.TempDir()
	cfg.ComputerStateSyncInterval = 50 * time.Millisecond
	cfg.ComputerStateSyncDelay = 50 * time.Millisecond
	cfg.StatusRequestSpacing = time.Millisecond

	client, err := qubic.New(cfg,
		qubic.WithScheme(testScheme),
		qubic.WithDatabase(memdb.New()),
		qubic.WithLogger(zaptest.NewLogger(t)))
	r.NoError(err)

	events := client.Subscribe(8192)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.NoError(client.Launch(ctx))
	t.Cleanup(func() { _ = client.Terminate(qubic.TerminateOptions{CloseConnection: true}) })

	waitFor(t, events, func(e qubic.Event) bool {
		info, ok := e.(qubic.InfoEvent)
		return ok && info.Status == protocol.NumberOfConnections
	})

	// Fund the identity with an imported receipt from a counterparty.
	sourceKey := schnorrq.Hash([]byte("counterparty"), schnorrq.PrivateKeySize)
	sourcePublic, err := testScheme.GeneratePublicKey(sourceKey)
	r.NoError(err)
	privateKey, err := identity.PrivateKey(cfg.Seed, cfg.Index)
	r.NoError(err)
	publicKey, err := testScheme.GeneratePublicKey(privateKey)
	r.NoError(err)

	funding := &protocol.Transfer{Timestamp: 1_000_000, Energy: 10_000_000}
	copy(funding.Source[:], sourcePublic)
	copy(funding.Destination[:], publicKey)
	r.NoError(funding.Sign(testScheme, sourceKey))
	receipt, err := c.QuorumReceipt(funding.Hash())
	r.NoError(err)

	r.NoError(client.ImportReceipt(transfer.EncodeEnvelope(funding, receipt)))
	r.Equal(uint64(10_000_000), client.Energy())

	// Transfer and follow it to settlement across the wire.
	destinationKey := schnorrq.Hash([]byte("destination"), schnorrq.PublicKeySize)
	destination, err := identity.FromPublicKey(destinationKey)
	r.NoError(err)

	tr, err := client.Transfer(destination, 2_000_000)
	r.NoError(err)
	hash := tr.Hash()

	settled := waitFor(t, events, func(e qubic.Event) bool {
		receiptEvent, ok := e.(qubic.ReceiptEvent)
		return ok && receiptEvent.Hash == hash
	}).(qubic.ReceiptEvent)
	r.Equal(uint64(8_000_000), client.Energy())
	r.NoError(settled.Receipt.Verify(testScheme, c.AdminPublicKey, hash))

	// The bridge observed the broadcast transfer record.
	found := false
	for _, raw := range h.Bridge.Transfers() {
		record, err := protocol.UnmarshalTransfer(raw)
		if err != nil {
			continue
		}
		if record.Hash() == hash {
			found = true
			break
		}
	}
	r.True(found, "transfer was not broadcast to the bridge")
}

func waitFor(t *testing.T, events <-chan qubic.Event, match func(qubic.Event) bool) qubic.Event {
	t.Helper()
	deadline := time.After(60 * time.Second)
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
