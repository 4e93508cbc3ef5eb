package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	xdr "github.com/nullstyle/go-xdr/xdr3"

	"github.com/computor-tools/qubic-go/identity"
)

const (
	ownerReadWrite     = os.FileMode(0600)
	ownerReadWriteExec = os.FileMode(0700)
)

// ErrReceiptNotExist is returned by FetchReceipt when no receipt file
// exists for the hash.
var ErrReceiptNotExist = errors.New("receipt file does not exist")

// receiptFile is the XDR-serialized on-disk form of an exported receipt.
type receiptFile struct {
	Identity string
	Hash     []byte
	Envelope []byte
}

// GetReceiptsDir returns the receipt directory of an identity.
func GetReceiptsDir(datadir string, id string) string {
	return filepath.Join(datadir, strings.ToLower(id), "receipts")
}

// GetReceiptFilename returns the file a transfer's receipt is stored in.
func GetReceiptFilename(datadir string, id string, hash [32]byte) string {
	return filepath.Join(GetReceiptsDir(datadir, id), identity.BytesToShiftedHex(hash[:]))
}

// PersistReceipt writes an export envelope to the identity's receipt
// directory.
func PersistReceipt(datadir string, id string, hash [32]byte, envelope []byte) error {
	file := &receiptFile{
		Identity: id,
		Hash:     hash[:],
		Envelope: envelope,
	}
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, &file); err != nil {
		return fmt.Errorf("serialization failure: %v", err)
	}

	dir := GetReceiptsDir(datadir, id)
	if err := os.MkdirAll(dir, ownerReadWriteExec); err != nil {
		return fmt.Errorf("dir creation failure: %v", err)
	}
	if err := os.WriteFile(GetReceiptFilename(datadir, id, hash), w.Bytes(), ownerReadWrite); err != nil {
		return fmt.Errorf("write to disk failure: %v", err)
	}
	return nil
}

// FetchReceipt reads a previously persisted export envelope.
func FetchReceipt(datadir string, id string, hash [32]byte) ([]byte, error) {
	data, err := os.ReadFile(GetReceiptFilename(datadir, id, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrReceiptNotExist
		}
		return nil, fmt.Errorf("read file failure: %v", err)
	}

	file := &receiptFile{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), file); err != nil {
		return nil, err
	}
	if !bytes.Equal(file.Hash, hash[:]) {
		return nil, fmt.Errorf("receipt file hash mismatch")
	}
	return file.Envelope, nil
}
