package transfer

import (
	"encoding/base64"
	"fmt"

	"github.com/computor-tools/qubic-go/protocol"
)

// The export envelope prepends the transfer record to its receipt, so
// the evidence chain can be verified without any local state.

// Envelope packs a transfer and its receipt into the export form.
func Envelope(t *protocol.Transfer, receipt *protocol.Receipt) []byte {
	receiptBytes := receipt.Marshal()
	b := make([]byte, 0, protocol.TransferSize+len(receiptBytes))
	b = append(b, t.Marshal()...)
	b = append(b, receiptBytes...)
	return b
}

// ParseEnvelope splits an export envelope.
func ParseEnvelope(data []byte) (*protocol.Transfer, *protocol.Receipt, error) {
	if len(data) < protocol.TransferSize {
		return nil, nil, fmt.Errorf("invalid receipt envelope; expected: at least %d bytes, given: %d", protocol.TransferSize, len(data))
	}
	t, err := protocol.UnmarshalTransfer(data[:protocol.TransferSize])
	if err != nil {
		return nil, nil, err
	}
	receipt, err := protocol.ParseReceipt(data[protocol.TransferSize:])
	if err != nil {
		return nil, nil, err
	}
	return t, receipt, nil
}

// EncodeEnvelope renders the export envelope in base64.
func EncodeEnvelope(t *protocol.Transfer, receipt *protocol.Receipt) string {
	return base64.StdEncoding.EncodeToString(Envelope(t, receipt))
}

// DecodeEnvelope parses a base64 export envelope.
func DecodeEnvelope(encoded string) (*protocol.Transfer, *protocol.Receipt, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid receipt envelope; %w", err)
	}
	return ParseEnvelope(data)
}

// Import verifies an exported receipt envelope end to end and integrates
// it into the ledger: the transfer signature under its source key, the
// snapshot under the admin key and every slab under its computor key.
// Energy is credited when this identity is the destination.
func (p *Pipeline) Import(encoded string) error {
	t, receipt, err := DecodeEnvelope(encoded)
	if err != nil {
		return err
	}
	if !t.VerifySignature(p.scheme) {
		return fmt.Errorf("imported transfer signature did not verify")
	}
	hash := t.Hash()
	if err := receipt.Verify(p.scheme, p.adminKey, hash); err != nil {
		return err
	}

	if err := p.ledger.Import(t, receipt); err != nil {
		return err
	}

	p.mtx.Lock()
	delete(p.pending, hash)
	p.mtx.Unlock()

	if p.events.Energy != nil {
		p.events.Energy(p.ledger.Energy())
	}
	if p.events.Receipt != nil {
		p.events.Receipt(hash, receipt, encoded)
	}
	return nil
}
