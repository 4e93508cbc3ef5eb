package protocol

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	// EnvelopeSize is the size of the frame header: u32 size, u16
	// protocol version, u16 request kind.
	EnvelopeSize = 8

	// subHeaderSize is the size of the sub-kind header of kind-0 frames:
	// one sub-kind byte and 7 bytes of padding.
	subHeaderSize = 8

	// timestampSize is the size of a wire timestamp.
	timestampSize = 8

	// MaxExchangedPeers is the largest number of addresses a
	// peer-exchange response carries.
	MaxExchangedPeers = 4
)

// Frame is one parsed inbound frame: the request kind and the bytes
// following the envelope.
type Frame struct {
	Kind    uint16
	Payload []byte
}

// putEnvelope writes the frame header into b. size is the full frame size
// including the envelope itself.
func putEnvelope(b []byte, size int, kind uint16) {
	binary.LittleEndian.PutUint32(b[0:], uint32(size))
	binary.LittleEndian.PutUint16(b[4:], Version)
	binary.LittleEndian.PutUint16(b[6:], kind)
}

// Split parses the frames concatenated in one inbound message. The
// payloads alias message.
func Split(message []byte) ([]Frame, error) {
	var frames []Frame
	for offset := 0; offset < len(message); {
		rest := message[offset:]
		if len(rest) < EnvelopeSize {
			return nil, fmt.Errorf("truncated envelope at offset %d: %d bytes", offset, len(rest))
		}
		size := int(binary.LittleEndian.Uint32(rest[0:]))
		version := binary.LittleEndian.Uint16(rest[4:])
		kind := binary.LittleEndian.Uint16(rest[6:])
		if version != Version {
			return nil, fmt.Errorf("invalid protocol version at offset %d; expected: %d, given: %d", offset, Version, version)
		}
		if size < EnvelopeSize || size > len(rest) {
			return nil, fmt.Errorf("invalid frame size at offset %d; expected: %d..%d, given: %d", offset, EnvelopeSize, len(rest), size)
		}
		frames = append(frames, Frame{Kind: kind, Payload: rest[EnvelopeSize:size]})
		offset += size
	}
	return frames, nil
}

// SubTyped is the parsed payload of a kind-0 frame: the sub-kind, the
// timestamp and the remaining body. Requests and responses share this
// prefix; for responses the timestamp echoes the request it answers.
type SubTyped struct {
	SubKind   byte
	Timestamp uint64
	Body      []byte
}

// ParseSubTyped splits a kind-0 frame payload.
func ParseSubTyped(payload []byte) (*SubTyped, error) {
	if len(payload) < subHeaderSize+timestampSize {
		return nil, fmt.Errorf("sub-typed payload too short; expected: at least %d bytes, given: %d", subHeaderSize+timestampSize, len(payload))
	}
	return &SubTyped{
		SubKind:   payload[0],
		Timestamp: binary.LittleEndian.Uint64(payload[subHeaderSize:]),
		Body:      payload[subHeaderSize+timestampSize:],
	}, nil
}

// newSubTyped builds a kind-0 frame with room for extra body bytes.
func newSubTyped(subKind byte, timestamp uint64, bodySize int) []byte {
	b := make([]byte, EnvelopeSize+subHeaderSize+timestampSize+bodySize)
	putEnvelope(b, len(b), KindSubTyped)
	b[EnvelopeSize] = subKind
	binary.LittleEndian.PutUint64(b[EnvelopeSize+subHeaderSize:], timestamp)
	return b
}

// NewComputerStateRequest builds a get-computer-state request carrying
// timestamp.
func NewComputerStateRequest(timestamp uint64) []byte {
	return newSubTyped(SubKindComputerState, timestamp, 0)
}

// NewTransferStatusRequest builds a get-transfer-status request for hash,
// addressed at the reporting computor with the given index.
func NewTransferStatusRequest(timestamp uint64, hash [32]byte, computorIndex uint16) []byte {
	b := newSubTyped(SubKindTransferStatus, timestamp, len(hash)+2)
	off := EnvelopeSize + subHeaderSize + timestampSize
	copy(b[off:], hash[:])
	binary.LittleEndian.PutUint16(b[off+len(hash):], computorIndex)
	return b
}

// NewEnvironmentRequest builds an environment subscription request for the
// environment identified by digest.
func NewEnvironmentRequest(timestamp uint64, digest [32]byte) []byte {
	b := newSubTyped(SubKindEnvironment, timestamp, len(digest))
	copy(b[EnvelopeSize+subHeaderSize+timestampSize:], digest[:])
	return b
}

// NewSubTypedResponse builds a kind-0 response frame echoing timestamp.
func NewSubTypedResponse(subKind byte, timestamp uint64, body []byte) []byte {
	b := newSubTyped(subKind, timestamp, len(body))
	copy(b[EnvelopeSize+subHeaderSize+timestampSize:], body)
	return b
}

// NewExchangePublicPeersRequest builds a bare peer-exchange request.
func NewExchangePublicPeersRequest() []byte {
	b := make([]byte, EnvelopeSize)
	putEnvelope(b, len(b), KindExchangePublicPeers)
	return b
}

// NewExchangePublicPeersResponse packs up to MaxExchangedPeers dotted-quad
// addresses.
func NewExchangePublicPeersResponse(peers ...string) ([]byte, error) {
	if len(peers) > MaxExchangedPeers {
		return nil, fmt.Errorf("invalid `peers`; expected: at most %d, given: %d", MaxExchangedPeers, len(peers))
	}
	b := make([]byte, EnvelopeSize+4*len(peers))
	putEnvelope(b, len(b), KindExchangePublicPeers)
	for i, peer := range peers {
		ip := net.ParseIP(peer)
		if ip = ip.To4(); ip == nil {
			return nil, fmt.Errorf("invalid `peers`; expected: IPv4 address, given: %q", peer)
		}
		copy(b[EnvelopeSize+4*i:], ip)
	}
	return b, nil
}

// ParsePeers extracts the dotted-quad addresses of a peer-exchange
// response payload.
func ParsePeers(payload []byte) []string {
	peers := make([]string, 0, MaxExchangedPeers)
	for off := 0; off+4 <= len(payload) && len(peers) < MaxExchangedPeers; off += 4 {
		peers = append(peers, net.IPv4(payload[off], payload[off+1], payload[off+2], payload[off+3]).String())
	}
	return peers
}

// NewBroadcastTransferRequest wraps a packed transfer record.
func NewBroadcastTransferRequest(record []byte) ([]byte, error) {
	if len(record) != TransferSize {
		return nil, fmt.Errorf("invalid `record`; expected: %d bytes, given: %d", TransferSize, len(record))
	}
	b := make([]byte, EnvelopeSize+TransferSize)
	putEnvelope(b, len(b), KindBroadcastTransfer)
	copy(b[EnvelopeSize:], record)
	return b, nil
}
