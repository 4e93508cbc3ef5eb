package schnorrq

import (
	"math/big"
)

// order is the prime order of the FourQ base point subgroup.
var order, _ = new(big.Int).SetString("0029cbc14e5e0a72f05397829cbc14e5dfbd004dfe0f79992fb2540ec7768ce7", 16)

// leToInt interprets b as a little-endian unsigned integer.
func leToInt(b []byte) *big.Int {
	buf := make([]byte, len(b))
	for i, v := range b {
		buf[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(buf)
}

// intToLE32 encodes a non-negative x of at most 256 bits as 32
// little-endian bytes.
func intToLE32(x *big.Int) [32]byte {
	var out [32]byte
	buf := x.Bytes()
	for i, v := range buf {
		out[len(buf)-1-i] = v
	}
	return out
}

// reduce32 interprets the first 32 bytes of b as a little-endian scalar
// and reduces it modulo the subgroup order.
func reduce32(b []byte) *big.Int {
	x := leToInt(b[:32])
	return x.Mod(x, order)
}
