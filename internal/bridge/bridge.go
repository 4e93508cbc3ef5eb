// Package bridge implements a fake committee bridge: it answers the
// client's wire requests out of a keyed committee fixture. The
// integration harness serves it over real WebSockets; engine tests
// serve it over in-memory pipes.
package bridge

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/computor-tools/qubic-go/bitfield"
	"github.com/computor-tools/qubic-go/internal/committee"
	"github.com/computor-tools/qubic-go/protocol"
	"github.com/computor-tools/qubic-go/transport"
)

// Bridge answers requests for one simulated committee member. The zero
// vote value reports every transfer as unseen; tests flip it to
// processed once the transfer should settle.
type Bridge struct {
	Committee *committee.Committee

	mtx       sync.Mutex
	state     *protocol.ComputerState
	vote      bitfield.Vote
	peers     []string
	transfers [][]byte
}

// New builds a bridge answering with the committee's snapshot.
func New(c *committee.Committee) *Bridge {
	return &Bridge{Committee: c, state: c.State}
}

// SetState replaces the snapshot served to state requests.
func (b *Bridge) SetState(state *protocol.ComputerState) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.state = state
}

// SetVote sets the vote reported in every lane of every status response.
func (b *Bridge) SetVote(vote bitfield.Vote) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.vote = vote
}

// SetPeers sets the addresses gossiped in peer-exchange responses.
func (b *Bridge) SetPeers(peers ...string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.peers = peers
}

// Transfers returns the raw transfer records received so far.
func (b *Bridge) Transfers() [][]byte {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return append([][]byte(nil), b.transfers...)
}

// Serve answers requests on conn until it fails.
func (b *Bridge) Serve(conn transport.Conn) error {
	for {
		message, err := conn.Receive()
		if err != nil {
			return err
		}
		responses, err := b.Handle(message)
		if err != nil {
			return err
		}
		for _, response := range responses {
			if err := conn.Send(response); err != nil {
				return err
			}
		}
	}
}

// Handle produces the responses to one inbound message.
func (b *Bridge) Handle(message []byte) ([][]byte, error) {
	frames, err := protocol.Split(message)
	if err != nil {
		return nil, err
	}

	var responses [][]byte
	for _, frame := range frames {
		switch frame.Kind {
		case protocol.KindSubTyped:
			sub, err := protocol.ParseSubTyped(frame.Payload)
			if err != nil {
				return nil, err
			}
			response, err := b.handleSubTyped(sub)
			if err != nil {
				return nil, err
			}
			if response != nil {
				responses = append(responses, response)
			}
		case protocol.KindExchangePublicPeers:
			b.mtx.Lock()
			peers := b.peers
			b.mtx.Unlock()
			response, err := protocol.NewExchangePublicPeersResponse(peers...)
			if err != nil {
				return nil, err
			}
			responses = append(responses, response)
		case protocol.KindBroadcastTransfer:
			b.mtx.Lock()
			b.transfers = append(b.transfers, append([]byte(nil), frame.Payload...))
			b.mtx.Unlock()
		default:
			return nil, fmt.Errorf("unexpected request kind %d", frame.Kind)
		}
	}
	return responses, nil
}

func (b *Bridge) handleSubTyped(sub *protocol.SubTyped) ([]byte, error) {
	switch sub.SubKind {
	case protocol.SubKindComputerState:
		b.mtx.Lock()
		state := b.state
		b.mtx.Unlock()
		return protocol.NewSubTypedResponse(protocol.SubKindComputerState, sub.Timestamp, state.Marshal()), nil

	case protocol.SubKindTransferStatus:
		if len(sub.Body) < 34 {
			return nil, fmt.Errorf("short transfer-status request body: %d bytes", len(sub.Body))
		}
		var hash [32]byte
		copy(hash[:], sub.Body[:32])
		reporter := binary.LittleEndian.Uint16(sub.Body[32:])
		if reporter >= protocol.NumberOfComputors {
			return nil, fmt.Errorf("invalid reporter index %d", reporter)
		}

		b.mtx.Lock()
		vote := b.vote
		b.mtx.Unlock()
		slab, err := b.Committee.StatusSlab(reporter, hash, vote)
		if err != nil {
			return nil, err
		}
		return protocol.NewSubTypedResponse(protocol.SubKindTransferStatus, sub.Timestamp, slab.Marshal()), nil

	case protocol.SubKindEnvironment:
		// Environment reports are pushed by tests directly; the
		// subscription itself needs no reply.
		return nil, nil

	default:
		return nil, fmt.Errorf("unexpected sub-kind %d", sub.SubKind)
	}
}
