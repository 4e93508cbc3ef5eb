// Package protocol implements the wire codec of the committee network:
// frame envelopes, request builders and the packed binary records the
// committee signs.
//
// All multi-byte integers are little-endian.
package protocol

const (
	// NumberOfComputors is the committee size.
	NumberOfComputors = 676

	// NumberOfConnections is the number of concurrently maintained peer
	// sockets.
	NumberOfConnections = 3

	// QuorumThreshold is the number of concurring computors required for
	// a status decision. A computor does not report on itself, so the
	// threshold is relative to NumberOfComputors-1 voters.
	QuorumThreshold = 451

	// Version is the protocol version carried in every envelope.
	Version = 256

	// MinEnergyAmount is the smallest transferable amount of energy.
	MinEnergyAmount = 1_000_000

	// DefaultPort is the committee's bridge port.
	DefaultPort = 21841
)

// Request kinds.
const (
	KindSubTyped            uint16 = 0
	KindExchangePublicPeers uint16 = 1
	KindBroadcastTransfer   uint16 = 3
)

// Sub-kinds of KindSubTyped requests and responses.
const (
	SubKindComputerState  byte = 1
	SubKindEnvironment    byte = 2
	SubKindTransferStatus byte = 3
)

// Scheme is the signature scheme records are authenticated with. Digests
// are 32 bytes, public keys 32 bytes, signatures 64 bytes.
type Scheme interface {
	GeneratePublicKey(privateKey []byte) ([]byte, error)
	Sign(privateKey, publicKey, digest []byte) ([]byte, error)
	Verify(publicKey, digest, signature []byte) bool
}
