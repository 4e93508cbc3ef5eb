package ledger

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

// streamKeySize is the AES-128 key size the record stream cipher uses.
const streamKeySize = 16

// crypt encrypts or decrypts a record value with AES-CTR. The initial
// counter block is the record's slot number, so every slot gets its own
// key stream and a value can be re-encrypted in place after a rewrite.
func (l *Ledger) crypt(slot uint32, value []byte) []byte {
	block, err := aes.NewCipher(l.streamKey)
	if err != nil {
		// The key is always streamKeySize bytes.
		panic(err)
	}

	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint64(iv[8:], uint64(slot))

	out := make([]byte, len(value))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, value)
	return out
}
