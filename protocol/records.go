package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/computor-tools/qubic-go/bitfield"
	"github.com/computor-tools/qubic-go/schnorrq"
)

// Transfer record layout.
const (
	// TransferSize is the packed size of a transfer record.
	TransferSize = 144

	// transferUnsignedSize is the size of the prefix covered by the
	// signature.
	transferUnsignedSize = 80

	// transferDomainTag flips byte 0 of the unsigned prefix before
	// digesting, separating transfers from other signed structures.
	transferDomainTag = 1
)

// Transfer is the 144-byte signed transfer record.
type Transfer struct {
	Source      [32]byte
	Destination [32]byte
	Timestamp   uint64
	Energy      uint64
	Signature   [64]byte
}

// Marshal packs the record into its 144-byte wire form.
func (t *Transfer) Marshal() []byte {
	b := make([]byte, TransferSize)
	copy(b[0:], t.Source[:])
	copy(b[32:], t.Destination[:])
	binary.LittleEndian.PutUint64(b[64:], t.Timestamp)
	binary.LittleEndian.PutUint64(b[72:], t.Energy)
	copy(b[80:], t.Signature[:])
	return b
}

// UnmarshalTransfer parses a 144-byte transfer record.
func UnmarshalTransfer(data []byte) (*Transfer, error) {
	if len(data) != TransferSize {
		return nil, fmt.Errorf("invalid transfer record; expected: %d bytes, given: %d", TransferSize, len(data))
	}
	t := &Transfer{
		Timestamp: binary.LittleEndian.Uint64(data[64:]),
		Energy:    binary.LittleEndian.Uint64(data[72:]),
	}
	copy(t.Source[:], data[0:32])
	copy(t.Destination[:], data[32:64])
	copy(t.Signature[:], data[80:144])
	return t, nil
}

// Digest returns the signing digest: the hash of the unsigned prefix with
// byte 0 flipped by the transfer domain tag.
func (t *Transfer) Digest() [32]byte {
	b := t.Marshal()[:transferUnsignedSize]
	b[0] ^= transferDomainTag
	return schnorrq.HashDigest(b)
}

// Hash returns the identifying hash of the full packed record.
func (t *Transfer) Hash() [32]byte {
	return schnorrq.HashDigest(t.Marshal())
}

// Sign fills Signature using the source key pair.
func (t *Transfer) Sign(scheme Scheme, privateKey []byte) error {
	digest := t.Digest()
	signature, err := scheme.Sign(privateKey, t.Source[:], digest[:])
	if err != nil {
		return err
	}
	copy(t.Signature[:], signature)
	return nil
}

// VerifySignature reports whether Signature verifies under the source key.
func (t *Transfer) VerifySignature(scheme Scheme) bool {
	digest := t.Digest()
	return scheme.Verify(t.Source[:], digest[:], t.Signature[:])
}

// Computer-state record layout.
const (
	// StateRecordSize is the packed size of a computer-state record.
	StateRecordSize = 21712

	// stateSignedSize is the size of the admin-signed region, from the
	// computor index through the last computor public key.
	stateSignedSize = 21648

	// stateKeysOffset is where the computor public keys start.
	stateKeysOffset = 16
)

// ComputerState is the admin-signed committee snapshot: the current epoch
// and tick plus the public key of every computor.
type ComputerState struct {
	ComputorIndex      uint16
	Epoch              uint16
	Tick               uint32
	Timestamp          uint64
	ComputorPublicKeys [NumberOfComputors][32]byte
	AdminSignature     [64]byte
}

// Marshal packs the record.
func (s *ComputerState) Marshal() []byte {
	b := make([]byte, StateRecordSize)
	binary.LittleEndian.PutUint16(b[0:], s.ComputorIndex)
	binary.LittleEndian.PutUint16(b[2:], s.Epoch)
	binary.LittleEndian.PutUint32(b[4:], s.Tick)
	binary.LittleEndian.PutUint64(b[8:], s.Timestamp)
	for i := range s.ComputorPublicKeys {
		copy(b[stateKeysOffset+32*i:], s.ComputorPublicKeys[i][:])
	}
	copy(b[stateSignedSize:], s.AdminSignature[:])
	return b
}

// UnmarshalComputerState parses a computer-state record.
func UnmarshalComputerState(data []byte) (*ComputerState, error) {
	if len(data) != StateRecordSize {
		return nil, fmt.Errorf("invalid computer-state record; expected: %d bytes, given: %d", StateRecordSize, len(data))
	}
	s := &ComputerState{
		ComputorIndex: binary.LittleEndian.Uint16(data[0:]),
		Epoch:         binary.LittleEndian.Uint16(data[2:]),
		Tick:          binary.LittleEndian.Uint32(data[4:]),
		Timestamp:     binary.LittleEndian.Uint64(data[8:]),
	}
	for i := range s.ComputorPublicKeys {
		copy(s.ComputorPublicKeys[i][:], data[stateKeysOffset+32*i:])
	}
	copy(s.AdminSignature[:], data[stateSignedSize:])
	return s, nil
}

// Digest returns the hash of the admin-signed region.
func (s *ComputerState) Digest() [32]byte {
	return schnorrq.HashDigest(s.Marshal()[:stateSignedSize])
}

// Sign fills AdminSignature using the admin key pair.
func (s *ComputerState) Sign(scheme Scheme, privateKey, publicKey []byte) error {
	digest := s.Digest()
	signature, err := scheme.Sign(privateKey, publicKey, digest[:])
	if err != nil {
		return err
	}
	copy(s.AdminSignature[:], signature)
	return nil
}

// VerifyAdminSignature reports whether AdminSignature verifies under
// adminPublicKey.
func (s *ComputerState) VerifyAdminSignature(scheme Scheme, adminPublicKey []byte) bool {
	digest := s.Digest()
	return scheme.Verify(adminPublicKey, digest[:], s.AdminSignature[:])
}

// Transfer-status record layout.
const (
	// StatusRecordSize is the packed size of a status slab.
	StatusRecordSize = 274

	// StatusSignedSize is the size of the computor-signed region, from
	// the transfer hash through the tick.
	StatusSignedSize = 210

	// statusDomainTag flips byte 0 of the hash field before digesting.
	statusDomainTag = 3
)

// TransferStatus is one reporting computor's signed vote slab about a
// transfer.
type TransferStatus struct {
	TransferHash  [32]byte
	Bitfield      bitfield.Bitfield
	ComputorIndex uint16
	Epoch         uint16
	Tick          uint32
	Signature     [64]byte
}

// Marshal packs the slab.
func (ts *TransferStatus) Marshal() []byte {
	b := make([]byte, StatusRecordSize)
	copy(b[0:], ts.TransferHash[:])
	copy(b[32:], ts.Bitfield[:])
	binary.LittleEndian.PutUint16(b[202:], ts.ComputorIndex)
	binary.LittleEndian.PutUint16(b[204:], ts.Epoch)
	binary.LittleEndian.PutUint32(b[206:], ts.Tick)
	copy(b[StatusSignedSize:], ts.Signature[:])
	return b
}

// UnmarshalTransferStatus parses a status slab.
func UnmarshalTransferStatus(data []byte) (*TransferStatus, error) {
	if len(data) != StatusRecordSize {
		return nil, fmt.Errorf("invalid transfer-status record; expected: %d bytes, given: %d", StatusRecordSize, len(data))
	}
	ts := &TransferStatus{
		ComputorIndex: binary.LittleEndian.Uint16(data[202:]),
		Epoch:         binary.LittleEndian.Uint16(data[204:]),
		Tick:          binary.LittleEndian.Uint32(data[206:]),
	}
	copy(ts.TransferHash[:], data[0:32])
	copy(ts.Bitfield[:], data[32:202])
	copy(ts.Signature[:], data[StatusSignedSize:])
	return ts, nil
}

// Digest returns the hash of the signed region with the hash field's
// first byte flipped by the status domain tag.
func (ts *TransferStatus) Digest() [32]byte {
	b := ts.Marshal()[:StatusSignedSize]
	b[0] ^= statusDomainTag
	return schnorrq.HashDigest(b)
}

// Sign fills Signature using the reporting computor's key pair.
func (ts *TransferStatus) Sign(scheme Scheme, privateKey, publicKey []byte) error {
	digest := ts.Digest()
	signature, err := scheme.Sign(privateKey, publicKey, digest[:])
	if err != nil {
		return err
	}
	copy(ts.Signature[:], signature)
	return nil
}

// VerifySignature reports whether Signature verifies under the reporting
// computor's public key.
func (ts *TransferStatus) VerifySignature(scheme Scheme, reporterPublicKey []byte) bool {
	digest := ts.Digest()
	return scheme.Verify(reporterPublicKey, digest[:], ts.Signature[:])
}

// Environment report layout.
const environmentHeaderSize = 36

// EnvironmentReport is the body of an environment response: the
// environment digest, the tick it was produced at and the raw data.
type EnvironmentReport struct {
	Digest [32]byte
	Tick   uint32
	Data   []byte
}

// Marshal packs the report.
func (e *EnvironmentReport) Marshal() []byte {
	b := make([]byte, environmentHeaderSize+len(e.Data))
	copy(b[0:], e.Digest[:])
	binary.LittleEndian.PutUint32(b[32:], e.Tick)
	copy(b[environmentHeaderSize:], e.Data)
	return b
}

// UnmarshalEnvironmentReport parses an environment report body.
func UnmarshalEnvironmentReport(data []byte) (*EnvironmentReport, error) {
	if len(data) < environmentHeaderSize {
		return nil, fmt.Errorf("invalid environment report; expected: at least %d bytes, given: %d", environmentHeaderSize, len(data))
	}
	e := &EnvironmentReport{
		Tick: binary.LittleEndian.Uint32(data[32:]),
		Data: append([]byte(nil), data[environmentHeaderSize:]...),
	}
	copy(e.Digest[:], data[0:32])
	return e, nil
}
